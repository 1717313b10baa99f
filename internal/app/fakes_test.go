package app

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"docflow/api/internal/config"
	"docflow/api/internal/queue"
	"docflow/api/internal/search"
	"docflow/api/internal/storage"
	"docflow/api/internal/store"
	"go.uber.org/zap"
)

// memStore is an in-memory dataStore. Transactions run the callback without
// isolation or rollback.
type memStore struct {
	mu           sync.Mutex
	seq          int64
	participants map[int64]store.Participant
	categories   map[int64]store.Category
	types        map[int64]store.DocumentType
	documents    map[int64]store.Document
	texts        map[int64]store.UploadedText

	pingFn           func(context.Context) error
	insertDocumentFn func(context.Context, store.Document) (store.Document, error)
	locked           []int64
}

func newMemStore() *memStore {
	return &memStore{
		participants: map[int64]store.Participant{},
		categories:   map[int64]store.Category{},
		types:        map[int64]store.DocumentType{},
		documents:    map[int64]store.Document{},
		texts:        map[int64]store.UploadedText{},
	}
}

func (m *memStore) next() int64 {
	m.seq++
	return m.seq
}

func sortedKeys[T any](items map[int64]T) []int64 {
	keys := make([]int64, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func paginate[T any](items []T, page store.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return items[page.Offset:end]
}

func notFoundErr(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, sql.ErrNoRows)
}

func (m *memStore) InTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (m *memStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *memStore) InsertParticipant(_ context.Context, p store.Participant) (store.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.next()
	p.CreatedAt = time.Now()
	m.participants[p.ID] = p
	return p, nil
}

func (m *memStore) GetParticipant(_ context.Context, id int64) (store.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return store.Participant{}, notFoundErr("participant", id)
	}
	return p, nil
}

func (m *memStore) ListParticipants(_ context.Context, page store.Page) ([]store.Participant, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Participant
	for _, id := range sortedKeys(m.participants) {
		items = append(items, m.participants[id])
	}
	return paginate(items, page), len(items), nil
}

func (m *memStore) InsertCategory(_ context.Context, c store.Category) (store.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.next()
	m.categories[c.ID] = c
	return c, nil
}

func (m *memStore) GetCategory(_ context.Context, id int64) (store.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return store.Category{}, notFoundErr("category", id)
	}
	return c, nil
}

func (m *memStore) ListCategories(_ context.Context, page store.Page) ([]store.Category, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Category
	for _, id := range sortedKeys(m.categories) {
		if c := m.categories[id]; !c.IsDeleted {
			items = append(items, c)
		}
	}
	return paginate(items, page), len(items), nil
}

func (m *memStore) UpdateCategory(_ context.Context, id int64, fields store.CategoryFields) (store.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return store.Category{}, notFoundErr("category", id)
	}
	if fields.Company != nil {
		c.Company = *fields.Company
	}
	if fields.ParticipantID != nil {
		c.ParticipantID = *fields.ParticipantID
	}
	if fields.Title != nil {
		c.Title = *fields.Title
	}
	m.categories[id] = c
	return c, nil
}

func (m *memStore) SoftDeleteCategory(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return notFoundErr("category", id)
	}
	c.IsDeleted = true
	m.categories[id] = c
	return nil
}

func (m *memStore) InsertDocumentType(_ context.Context, t store.DocumentType) (store.DocumentType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.next()
	m.types[t.ID] = t
	return t, nil
}

func (m *memStore) GetDocumentType(_ context.Context, id int64) (store.DocumentType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[id]
	if !ok {
		return store.DocumentType{}, notFoundErr("document type", id)
	}
	return t, nil
}

func (m *memStore) LockDocumentType(ctx context.Context, id int64) (store.DocumentType, error) {
	m.mu.Lock()
	m.locked = append(m.locked, id)
	m.mu.Unlock()
	return m.GetDocumentType(ctx, id)
}

func (m *memStore) ListDocumentTypes(_ context.Context, page store.Page) ([]store.DocumentType, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.DocumentType
	for _, id := range sortedKeys(m.types) {
		if t := m.types[id]; !t.IsDeleted {
			items = append(items, t)
		}
	}
	return paginate(items, page), len(items), nil
}

func (m *memStore) ListCategoryTypes(_ context.Context, categoryIDs []int64) ([]store.DocumentType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[int64]bool{}
	for _, id := range categoryIDs {
		wanted[id] = true
	}
	var items []store.DocumentType
	for _, id := range sortedKeys(m.types) {
		if t := m.types[id]; !t.IsDeleted && wanted[t.CategoryID] {
			items = append(items, t)
		}
	}
	return items, nil
}

func (m *memStore) UpdateDocumentType(_ context.Context, id int64, fields store.TypeFields) (store.DocumentType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[id]
	if !ok {
		return store.DocumentType{}, notFoundErr("document type", id)
	}
	if fields.CategoryID != nil {
		t.CategoryID = *fields.CategoryID
	}
	if fields.Title != nil {
		t.Title = *fields.Title
	}
	if fields.PrivateVisible != nil {
		t.PrivateVisible = *fields.PrivateVisible
	}
	if fields.PublicVisible != nil {
		t.PublicVisible = *fields.PublicVisible
	}
	if fields.IsActive != nil {
		t.IsActive = *fields.IsActive
	}
	m.types[id] = t
	return t, nil
}

func (m *memStore) SoftDeleteDocumentType(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[id]
	if !ok {
		return notFoundErr("document type", id)
	}
	t.IsDeleted = true
	m.types[id] = t
	return nil
}

func (m *memStore) SoftDeleteCategoryTypesExcept(_ context.Context, categoryID int64, keep []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := map[int64]bool{}
	for _, id := range keep {
		kept[id] = true
	}
	var removed []int64
	for _, id := range sortedKeys(m.types) {
		t := m.types[id]
		if t.CategoryID != categoryID || t.IsDeleted || kept[id] {
			continue
		}
		t.IsDeleted = true
		m.types[id] = t
		removed = append(removed, id)
	}
	return removed, nil
}

func (m *memStore) InsertDocument(ctx context.Context, d store.Document) (store.Document, error) {
	if m.insertDocumentFn != nil {
		return m.insertDocumentFn(ctx, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.IsActive && m.activeLocked(d.DocumentTypeID) != nil {
		return store.Document{}, store.ErrActiveDocumentConflict
	}
	d.ID = m.next()
	m.documents[d.ID] = d
	return d, nil
}

func (m *memStore) GetDocument(_ context.Context, id int64) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return store.Document{}, notFoundErr("document", id)
	}
	return d, nil
}

func (m *memStore) activeLocked(typeID int64) *store.Document {
	for _, id := range sortedKeys(m.documents) {
		d := m.documents[id]
		if d.DocumentTypeID == typeID && d.IsActive && !d.IsDeleted {
			return &d
		}
	}
	return nil
}

func (m *memStore) FindActiveDocument(_ context.Context, typeID int64) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(typeID), nil
}

func (m *memStore) ListDocuments(_ context.Context, filter store.DocumentFilter, page store.Page) ([]store.Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Document
	for _, id := range sortedKeys(m.documents) {
		d := m.documents[id]
		switch {
		case d.IsDeleted:
		case filter.Company != nil && d.Company != *filter.Company:
		case filter.ParticipantID != nil && d.ParticipantID != *filter.ParticipantID:
		case filter.DocumentTypeID != nil && d.DocumentTypeID != *filter.DocumentTypeID:
		case filter.IsActive != nil && d.IsActive != *filter.IsActive:
		default:
			items = append(items, d)
		}
	}
	return paginate(items, page), len(items), nil
}

func (m *memStore) UpdateDocument(_ context.Context, id int64, fields store.DocumentFields) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return store.Document{}, notFoundErr("document", id)
	}
	if fields.Company != nil {
		d.Company = *fields.Company
	}
	if fields.ParticipantID != nil {
		d.ParticipantID = *fields.ParticipantID
	}
	if fields.DocumentTypeID != nil {
		d.DocumentTypeID = *fields.DocumentTypeID
	}
	if fields.File != nil {
		d.File = *fields.File
	}
	if fields.IsActive != nil {
		d.IsActive = *fields.IsActive
	}
	if d.IsActive {
		if holder := m.activeLocked(d.DocumentTypeID); holder != nil && holder.ID != id {
			return store.Document{}, store.ErrActiveDocumentConflict
		}
	}
	m.documents[id] = d
	return d, nil
}

func (m *memStore) SoftDeleteDocument(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return notFoundErr("document", id)
	}
	d.IsDeleted = true
	m.documents[id] = d
	return nil
}

func (m *memStore) InsertUploadedText(_ context.Context, t store.UploadedText) (store.UploadedText, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.next()
	t.CreatedAt = time.Now()
	m.texts[t.ID] = t
	return t, nil
}

func (m *memStore) ListUploadedText(_ context.Context, documentID int64) ([]store.UploadedText, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.UploadedText
	for _, id := range sortedKeys(m.texts) {
		if t := m.texts[id]; t.DocumentID == documentID {
			items = append(items, t)
		}
	}
	return items, nil
}

func (m *memStore) deleteTexts(match func(store.UploadedText) bool) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []int64
	for _, id := range sortedKeys(m.texts) {
		if match(m.texts[id]) {
			delete(m.texts, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (m *memStore) DeleteDocumentText(_ context.Context, documentID int64) ([]int64, error) {
	return m.deleteTexts(func(t store.UploadedText) bool { return t.DocumentID == documentID }), nil
}

func (m *memStore) DeleteTypeText(_ context.Context, typeID int64) ([]int64, error) {
	return m.deleteTexts(func(t store.UploadedText) bool { return t.DocumentTypeID == typeID }), nil
}

func (m *memStore) ListCategoriesWithTypes(_ context.Context, filter store.CategoryFilter) ([]store.CategoryWithTypes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.CategoryWithTypes
	for _, cid := range sortedKeys(m.categories) {
		c := m.categories[cid]
		if c.IsDeleted ||
			(filter.ParticipantID != nil && c.ParticipantID != *filter.ParticipantID) ||
			(filter.CategoryID != nil && c.ID != *filter.CategoryID) {
			continue
		}
		entry := store.CategoryWithTypes{Category: c, Types: []store.TypeWithCount{}}
		hasActive := false
		for _, tid := range sortedKeys(m.types) {
			t := m.types[tid]
			if t.CategoryID != c.ID || t.IsDeleted {
				continue
			}
			hasActive = hasActive || t.IsActive
			count := 0
			for _, d := range m.documents {
				if d.DocumentTypeID == t.ID && !d.IsDeleted {
					count++
				}
			}
			entry.Types = append(entry.Types, store.TypeWithCount{DocumentType: t, DocumentCount: count})
		}
		if filter.HasActiveType && !hasActive {
			continue
		}
		items = append(items, entry)
	}
	return items, nil
}

// textCount returns the number of text rows attached to a document.
func (m *memStore) textCount(documentID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.texts {
		if t.DocumentID == documentID {
			n++
		}
	}
	return n
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
	putErr  error
	pingErr error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.removed = append(b.removed, key)
	return nil
}

func (b *memBlobs) Ping(context.Context) error { return b.pingErr }

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []queue.Job
	err     error
	pingErr error
}

func (q *fakeQueue) Enqueue(_ context.Context, job queue.Job) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Ping(context.Context) error { return q.pingErr }

func (q *fakeQueue) enqueued() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Job(nil), q.jobs...)
}

// fakeExtractor returns the uploaded bytes as text.
type fakeExtractor struct {
	err error
}

func (f fakeExtractor) Extract(_ context.Context, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

type fakeIndex struct {
	mu       sync.Mutex
	indexed  []search.TextRecord
	deleted  []int64
	response search.Response
}

func (f *fakeIndex) Search(_ context.Context, q search.Query) search.Response {
	resp := f.response
	resp.Query = q.Text
	return resp
}

func (f *fakeIndex) IndexText(record search.TextRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record)
}

func (f *fakeIndex) DeleteTexts(ids []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
}

type testEnv struct {
	svc   *Service
	store *memStore
	blobs *memBlobs
	jobs  *fakeQueue
	index *fakeIndex
}

// newTestEnv builds a Service over in-memory fakes with a job queue, so no
// background goroutines run unless a test drives HandleJob itself.
func newTestEnv() *testEnv {
	env := &testEnv{
		store: newMemStore(),
		blobs: newMemBlobs(),
		jobs:  &fakeQueue{},
		index: &fakeIndex{},
	}
	env.svc = &Service{
		cfg:       config.Config{MaxUploadBytes: 1 << 20},
		store:     env.store,
		blobs:     env.blobs,
		jobs:      env.jobs,
		extractor: fakeExtractor{},
		index:     env.index,
		logger:    zap.NewNop(),
	}
	return env
}

func ptr[T any](v T) *T { return &v }

// seedType creates a participant, a category and one type with the given
// visibility, returning the participant and type ids.
func (e *testEnv) seedType(publicVisible, privateVisible, active bool) (int64, int64) {
	ctx := context.Background()
	p, _ := e.store.InsertParticipant(ctx, store.Participant{FirstName: "Ada", LastName: "Lovelace", Status: store.ParticipantActive})
	c, _ := e.store.InsertCategory(ctx, store.Category{Company: 1, ParticipantID: p.ID, Title: "Contracts"})
	t, _ := e.store.InsertDocumentType(ctx, store.DocumentType{
		CategoryID:     c.ID,
		Title:          "NDA",
		PublicVisible:  publicVisible,
		PrivateVisible: privateVisible,
		IsActive:       active,
	})
	return p.ID, t.ID
}

func pdfUpload(body string) *Upload {
	return &Upload{Name: "contract.pdf", ContentType: "application/pdf", Size: int64(len(body)), Body: strings.NewReader(body)}
}
