package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches extracted text of non-deleted documents with plainto_tsquery
// and ranks by ts_rank, using ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalize(q)

	where, args := pgftsWhere(q)

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM uploaded_text_files u
		JOIN documents d ON d.id = u.document_id
		WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT u.id, u.document_id, u.document_type_id, d.company,
			ts_headline('simple', u.text, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM uploaded_text_files u
		JOIN documents d ON d.id = u.document_id
		WHERE %s
		ORDER BY ts_rank(to_tsvector('simple', u.text), plainto_tsquery('simple', $1)) DESC, u.id
		LIMIT %d OFFSET %d`, where, q.Limit, q.Offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TextID, &r.DocumentID, &r.DocumentTypeID, &r.Company, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func pgftsWhere(q Query) (string, []any) {
	where := []string{
		"to_tsvector('simple', u.text) @@ plainto_tsquery('simple', $1)",
		"d.is_deleted = FALSE",
	}
	args := []any{q.Text}
	if q.DocumentTypeID != 0 {
		args = append(args, q.DocumentTypeID)
		where = append(where, fmt.Sprintf("u.document_type_id = $%d", len(args)))
	}
	if q.Company != 0 {
		args = append(args, q.Company)
		where = append(where, fmt.Sprintf("d.company = $%d", len(args)))
	}
	return strings.Join(where, " AND "), args
}

// LoadAllRecords returns every extracted text row for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TextRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT u.id, u.document_id, u.document_type_id, d.company, d.participant_id, u.text
		FROM uploaded_text_files u
		JOIN documents d ON d.id = u.document_id
		WHERE d.is_deleted = FALSE
		ORDER BY u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load uploaded text: %w", err)
	}
	defer rows.Close()

	records := make([]TextRecord, 0)
	for rows.Next() {
		var r TextRecord
		if err := rows.Scan(&r.TextID, &r.DocumentID, &r.DocumentTypeID, &r.Company, &r.ParticipantID, &r.Text); err != nil {
			return nil, fmt.Errorf("scan uploaded text: %w", err)
		}
		r.ID = strconv.FormatInt(r.TextID, 10)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploaded text: %w", err)
	}
	return records, nil
}
