// Package search indexes extracted document text and answers full-text
// queries over it.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	TextID         int64  `json:"text_id"`
	DocumentID     int64  `json:"document_id"`
	DocumentTypeID int64  `json:"document_type_id"`
	Company        int64  `json:"company"`
	Snippet        string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text           string
	DocumentTypeID int64 // 0 = any type
	Company        int64 // 0 = any company
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Count   int      `json:"count"`
	Results []Result `json:"results"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push extracted text into a search index.
type Indexer interface {
	IndexTexts(records []TextRecord) error
	DeleteTexts(ids []int64) error
}

// TextRecord is the data we index for one extracted text row.
type TextRecord struct {
	ID             string `json:"id"`
	TextID         int64  `json:"textId"`
	DocumentID     int64  `json:"documentId"`
	DocumentTypeID int64  `json:"documentTypeId"`
	Company        int64  `json:"company"`
	ParticipantID  int64  `json:"participantId"`
	Text           string `json:"text"`
}

func normalize(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
