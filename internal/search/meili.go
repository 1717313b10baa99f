package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxUploadedTexts = "docflow_uploaded_texts"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the text index.
// An unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.With(zap.String("component", "meilisearch")),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxUploadedTexts,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxUploadedTexts), zap.Error(err))
	}

	index := m.client.Index(idxUploadedTexts)
	filterable := []interface{}{"documentId", "documentTypeId", "company", "participantId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.Error(err))
	}
	searchable := []string{"text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	q = normalize(q)

	sr := &meili.SearchRequest{
		IndexUID:              idxUploadedTexts,
		Query:                 q.Text,
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		AttributesToCrop:      []string{"text"},
		CropLength:            30,
		AttributesToHighlight: []string{"text"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := buildFilters(q); len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0)
	total := 0
	for _, r := range resp.Results {
		total += int(r.EstimatedTotalHits)
		for _, hit := range r.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func buildFilters(q Query) []string {
	var filters []string
	if q.DocumentTypeID != 0 {
		filters = append(filters, fmt.Sprintf("documentTypeId = %d", q.DocumentTypeID))
	}
	if q.Company != 0 {
		filters = append(filters, fmt.Sprintf("company = %d", q.Company))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		TextID:         decodeInt(hit, "textId"),
		DocumentID:     decodeInt(hit, "documentId"),
		DocumentTypeID: decodeInt(hit, "documentTypeId"),
		Company:        decodeInt(hit, "company"),
		Snippet:        firstNonBlank(decodeFormattedString(hit, "text"), decodeString(hit, "text")),
	}
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexTexts(records []TextRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxUploadedTexts).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteTexts(ids []int64) error {
	index := m.client.Index(idxUploadedTexts)
	for _, id := range ids {
		if _, err := index.DeleteDocument(strconv.FormatInt(id, 10), nil); err != nil {
			return fmt.Errorf("delete text %d: %w", id, err)
		}
	}
	return nil
}
