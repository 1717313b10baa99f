package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrActiveDocumentConflict is returned when a write would leave two active
// documents for one type.
var ErrActiveDocumentConflict = errors.New("another active document exists for this document type")

const singleActiveIndex = "uq_documents_single_active"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

func (s *PostgresStore) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn inside a transaction carried by the context passed to fn.
// Store calls made with that context join the transaction; a nested InTx
// reuses the outer one.
func (s *PostgresStore) InTx(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- participants ---

const participantColumns = `id, first_name, last_name, status, created_at`

func scanParticipant(row interface{ Scan(...any) error }) (Participant, error) {
	var item Participant
	err := row.Scan(&item.ID, &item.FirstName, &item.LastName, &item.Status, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) InsertParticipant(ctx context.Context, item Participant) (Participant, error) {
	created, err := scanParticipant(s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO participants (first_name, last_name, status)
		VALUES ($1, $2, $3)
		RETURNING `+participantColumns,
		item.FirstName, item.LastName, item.Status,
	))
	if err != nil {
		return Participant{}, fmt.Errorf("insert participant: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, id int64) (Participant, error) {
	item, err := scanParticipant(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id=$1`, id))
	if err != nil {
		return Participant{}, fmt.Errorf("get participant %d: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, page Page) ([]Participant, int, error) {
	var total int
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count participants: %w", err)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]Participant, 0)
	for rows.Next() {
		item, err := scanParticipant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate participants: %w", err)
	}
	return items, total, nil
}

// --- categories ---

const categoryColumns = `id, company, participant_id, title, is_deleted, created_at, updated_at`

func scanCategory(row interface{ Scan(...any) error }) (Category, error) {
	var item Category
	err := row.Scan(&item.ID, &item.Company, &item.ParticipantID, &item.Title, &item.IsDeleted, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) InsertCategory(ctx context.Context, item Category) (Category, error) {
	created, err := scanCategory(s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO document_categories (company, participant_id, title)
		VALUES ($1, $2, $3)
		RETURNING `+categoryColumns,
		item.Company, item.ParticipantID, item.Title,
	))
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}
	return created, nil
}

// GetCategory loads a category by id whether or not it is soft-deleted.
func (s *PostgresStore) GetCategory(ctx context.Context, id int64) (Category, error) {
	item, err := scanCategory(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM document_categories WHERE id=$1`, id))
	if err != nil {
		return Category{}, fmt.Errorf("get category %d: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context, page Page) ([]Category, int, error) {
	var total int
	if err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_categories WHERE is_deleted = FALSE`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count categories: %w", err)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM document_categories
		WHERE is_deleted = FALSE
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		item, err := scanCategory(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate categories: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, id int64, fields CategoryFields) (Category, error) {
	set := newSetClause()
	if fields.Company != nil {
		set.add("company", *fields.Company)
	}
	if fields.ParticipantID != nil {
		set.add("participant_id", *fields.ParticipantID)
	}
	if fields.Title != nil {
		set.add("title", *fields.Title)
	}
	set.raw("updated_at = NOW()")

	query, args := set.build("document_categories", id, categoryColumns)
	item, err := scanCategory(s.conn(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return Category{}, fmt.Errorf("update category %d: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) SoftDeleteCategory(ctx context.Context, id int64) error {
	return s.softDelete(ctx, "document_categories", id)
}

// --- document types ---

const typeColumns = `id, category_id, title, private_visible, public_visible, is_active, is_deleted, created_at, updated_at`

func scanType(row interface{ Scan(...any) error }) (DocumentType, error) {
	var item DocumentType
	err := row.Scan(
		&item.ID,
		&item.CategoryID,
		&item.Title,
		&item.PrivateVisible,
		&item.PublicVisible,
		&item.IsActive,
		&item.IsDeleted,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertDocumentType(ctx context.Context, item DocumentType) (DocumentType, error) {
	created, err := scanType(s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO document_types (category_id, title, private_visible, public_visible, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+typeColumns,
		item.CategoryID, item.Title, item.PrivateVisible, item.PublicVisible, item.IsActive,
	))
	if err != nil {
		return DocumentType{}, fmt.Errorf("insert document type: %w", err)
	}
	return created, nil
}

// GetDocumentType loads a type by id whether or not it is soft-deleted.
func (s *PostgresStore) GetDocumentType(ctx context.Context, id int64) (DocumentType, error) {
	item, err := scanType(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+typeColumns+` FROM document_types WHERE id=$1`, id))
	if err != nil {
		return DocumentType{}, fmt.Errorf("get document type %d: %w", id, err)
	}
	return item, nil
}

// LockDocumentType loads a type and holds a row lock on it until the
// surrounding transaction ends. Document writes for one type serialize on it.
func (s *PostgresStore) LockDocumentType(ctx context.Context, id int64) (DocumentType, error) {
	item, err := scanType(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+typeColumns+` FROM document_types WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return DocumentType{}, fmt.Errorf("lock document type %d: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) ListDocumentTypes(ctx context.Context, page Page) ([]DocumentType, int, error) {
	var total int
	if err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_types WHERE is_deleted = FALSE`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count document types: %w", err)
	}
	items, err := s.queryTypes(ctx, `
		SELECT `+typeColumns+`
		FROM document_types
		WHERE is_deleted = FALSE
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListCategoryTypes returns the non-deleted types owned by the given categories.
func (s *PostgresStore) ListCategoryTypes(ctx context.Context, categoryIDs []int64) ([]DocumentType, error) {
	if len(categoryIDs) == 0 {
		return []DocumentType{}, nil
	}
	return s.queryTypes(ctx, `
		SELECT `+typeColumns+`
		FROM document_types
		WHERE is_deleted = FALSE AND category_id = ANY($1)
		ORDER BY id
	`, categoryIDs)
}

func (s *PostgresStore) queryTypes(ctx context.Context, query string, args ...any) ([]DocumentType, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list document types: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentType, 0)
	for rows.Next() {
		item, err := scanType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document type: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document types: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateDocumentType(ctx context.Context, id int64, fields TypeFields) (DocumentType, error) {
	set := newSetClause()
	if fields.CategoryID != nil {
		set.add("category_id", *fields.CategoryID)
	}
	if fields.Title != nil {
		set.add("title", *fields.Title)
	}
	if fields.PrivateVisible != nil {
		set.add("private_visible", *fields.PrivateVisible)
	}
	if fields.PublicVisible != nil {
		set.add("public_visible", *fields.PublicVisible)
	}
	if fields.IsActive != nil {
		set.add("is_active", *fields.IsActive)
	}
	set.raw("updated_at = NOW()")

	query, args := set.build("document_types", id, typeColumns)
	item, err := scanType(s.conn(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return DocumentType{}, fmt.Errorf("update document type %d: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) SoftDeleteDocumentType(ctx context.Context, id int64) error {
	return s.softDelete(ctx, "document_types", id)
}

// SoftDeleteCategoryTypesExcept soft-deletes every non-deleted type of the
// category whose id is not in keep, returning the ids it deleted.
func (s *PostgresStore) SoftDeleteCategoryTypesExcept(ctx context.Context, categoryID int64, keep []int64) ([]int64, error) {
	if keep == nil {
		keep = []int64{}
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		UPDATE document_types
		SET is_deleted = TRUE, updated_at = NOW()
		WHERE category_id = $1 AND is_deleted = FALSE AND NOT (id = ANY($2))
		RETURNING id
	`, categoryID, keep)
	if err != nil {
		return nil, fmt.Errorf("delete category types: %w", err)
	}
	return collectIDs(rows)
}

// --- documents ---

const documentColumns = `id, company, participant_id, document_type_id, file, is_active, is_deleted, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	err := row.Scan(
		&item.ID,
		&item.Company,
		&item.ParticipantID,
		&item.DocumentTypeID,
		&item.File,
		&item.IsActive,
		&item.IsDeleted,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) (Document, error) {
	created, err := scanDocument(s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO documents (company, participant_id, document_type_id, file, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+documentColumns,
		item.Company, item.ParticipantID, item.DocumentTypeID, item.File, item.IsActive,
	))
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", translateError(err))
	}
	return created, nil
}

// GetDocument loads a document by id whether or not it is soft-deleted.
func (s *PostgresStore) GetDocument(ctx context.Context, id int64) (Document, error) {
	item, err := scanDocument(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
	if err != nil {
		return Document{}, fmt.Errorf("get document %d: %w", id, err)
	}
	return item, nil
}

// FindActiveDocument returns the active, non-deleted document of a type, or
// nil when there is none.
func (s *PostgresStore) FindActiveDocument(ctx context.Context, documentTypeID int64) (*Document, error) {
	item, err := scanDocument(s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE document_type_id = $1 AND is_active = TRUE AND is_deleted = FALSE
		ORDER BY id
		LIMIT 1
	`, documentTypeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active document: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter, page Page) ([]Document, int, error) {
	where := []string{"is_deleted = FALSE"}
	args := make([]any, 0, 6)
	addFilter := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Company != nil {
		addFilter("company", *filter.Company)
	}
	if filter.ParticipantID != nil {
		addFilter("participant_id", *filter.ParticipantID)
	}
	if filter.DocumentTypeID != nil {
		addFilter("document_type_id", *filter.DocumentTypeID)
	}
	if filter.IsActive != nil {
		addFilter("is_active", *filter.IsActive)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	rows, err := s.conn(ctx).QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM documents
		WHERE %s
		ORDER BY id
		LIMIT $%d OFFSET $%d
	`, documentColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate documents: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, id int64, fields DocumentFields) (Document, error) {
	set := newSetClause()
	if fields.Company != nil {
		set.add("company", *fields.Company)
	}
	if fields.ParticipantID != nil {
		set.add("participant_id", *fields.ParticipantID)
	}
	if fields.DocumentTypeID != nil {
		set.add("document_type_id", *fields.DocumentTypeID)
	}
	if fields.File != nil {
		set.add("file", *fields.File)
	}
	if fields.IsActive != nil {
		set.add("is_active", *fields.IsActive)
	}
	set.raw("updated_at = NOW()")

	query, args := set.build("documents", id, documentColumns)
	item, err := scanDocument(s.conn(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return Document{}, fmt.Errorf("update document %d: %w", id, translateError(err))
	}
	return item, nil
}

func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, id int64) error {
	return s.softDelete(ctx, "documents", id)
}

// --- uploaded text ---

const uploadedTextColumns = `id, text, document_type_id, document_id, created_at`

func (s *PostgresStore) InsertUploadedText(ctx context.Context, item UploadedText) (UploadedText, error) {
	var created UploadedText
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO uploaded_text_files (text, document_type_id, document_id)
		VALUES ($1, $2, $3)
		RETURNING `+uploadedTextColumns,
		item.Text, item.DocumentTypeID, item.DocumentID,
	).Scan(&created.ID, &created.Text, &created.DocumentTypeID, &created.DocumentID, &created.CreatedAt)
	if err != nil {
		return UploadedText{}, fmt.Errorf("insert uploaded text: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) ListUploadedText(ctx context.Context, documentID int64) ([]UploadedText, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+uploadedTextColumns+`
		FROM uploaded_text_files
		WHERE document_id = $1
		ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list uploaded text: %w", err)
	}
	defer rows.Close()

	items := make([]UploadedText, 0)
	for rows.Next() {
		var item UploadedText
		if err := rows.Scan(&item.ID, &item.Text, &item.DocumentTypeID, &item.DocumentID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan uploaded text: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploaded text: %w", err)
	}
	return items, nil
}

// DeleteDocumentText removes the extracted text rows of a document and
// returns their ids.
func (s *PostgresStore) DeleteDocumentText(ctx context.Context, documentID int64) ([]int64, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`DELETE FROM uploaded_text_files WHERE document_id = $1 RETURNING id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("delete document text: %w", err)
	}
	return collectIDs(rows)
}

// DeleteTypeText removes every extracted text row referencing a type and
// returns their ids.
func (s *PostgresStore) DeleteTypeText(ctx context.Context, documentTypeID int64) ([]int64, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`DELETE FROM uploaded_text_files WHERE document_type_id = $1 RETURNING id`, documentTypeID)
	if err != nil {
		return nil, fmt.Errorf("delete type text: %w", err)
	}
	return collectIDs(rows)
}

// --- composite reads ---

// ListCategoriesWithTypes returns non-deleted categories matching the filter,
// each with its non-deleted types and their non-deleted document counts.
func (s *PostgresStore) ListCategoriesWithTypes(ctx context.Context, filter CategoryFilter) ([]CategoryWithTypes, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM document_categories c
		WHERE c.is_deleted = FALSE
			AND ($1::BIGINT IS NULL OR c.participant_id = $1)
			AND ($2::BIGINT IS NULL OR c.id = $2)
			AND (NOT $3::BOOLEAN OR EXISTS (
				SELECT 1 FROM document_types t
				WHERE t.category_id = c.id AND t.is_active = TRUE AND t.is_deleted = FALSE
			))
		ORDER BY c.id
	`, nullableInt(filter.ParticipantID), nullableInt(filter.CategoryID), filter.HasActiveType)
	if err != nil {
		return nil, fmt.Errorf("list categories with types: %w", err)
	}
	defer rows.Close()

	items := make([]CategoryWithTypes, 0)
	index := make(map[int64]int)
	ids := make([]int64, 0)
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		index[category.ID] = len(items)
		ids = append(ids, category.ID)
		items = append(items, CategoryWithTypes{Category: category, Types: []TypeWithCount{}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	if len(ids) == 0 {
		return items, nil
	}

	typeRows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT t.id, t.category_id, t.title, t.private_visible, t.public_visible, t.is_active, t.is_deleted, t.created_at, t.updated_at,
			COUNT(d.id) FILTER (WHERE d.is_deleted = FALSE)
		FROM document_types t
		LEFT JOIN documents d ON d.document_type_id = t.id
		WHERE t.is_deleted = FALSE AND t.category_id = ANY($1)
		GROUP BY t.id
		ORDER BY t.id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list type document counts: %w", err)
	}
	defer typeRows.Close()

	for typeRows.Next() {
		var item TypeWithCount
		if err := typeRows.Scan(
			&item.ID,
			&item.CategoryID,
			&item.Title,
			&item.PrivateVisible,
			&item.PublicVisible,
			&item.IsActive,
			&item.IsDeleted,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.DocumentCount,
		); err != nil {
			return nil, fmt.Errorf("scan type document count: %w", err)
		}
		pos := index[item.CategoryID]
		items[pos].Types = append(items[pos].Types, item)
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate type document counts: %w", err)
	}
	return items, nil
}

// --- helpers ---

func (s *PostgresStore) softDelete(ctx context.Context, table string, id int64) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE `+table+` SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soft delete %s %d: %w", table, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete %s %d: %w", table, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("soft delete %s %d: %w", table, id, sql.ErrNoRows)
	}
	return nil
}

type setClause struct {
	parts []string
	args  []any
}

func newSetClause() *setClause {
	return &setClause{}
}

func (c *setClause) add(column string, value any) {
	c.args = append(c.args, value)
	c.parts = append(c.parts, fmt.Sprintf("%s = $%d", column, len(c.args)))
}

func (c *setClause) raw(expr string) {
	c.parts = append(c.parts, expr)
}

func (c *setClause) build(table string, id int64, returning string) (string, []any) {
	args := append(c.args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d RETURNING %s`,
		table, strings.Join(c.parts, ", "), len(args), returning)
	return query, args
}

func collectIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == singleActiveIndex {
		return ErrActiveDocumentConflict
	}
	return err
}
