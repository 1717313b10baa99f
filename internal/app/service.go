package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"docflow/api/internal/config"
	"docflow/api/internal/extract"
	"docflow/api/internal/metrics"
	"docflow/api/internal/queue"
	"docflow/api/internal/search"
	"docflow/api/internal/storage"
	"docflow/api/internal/store"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	inlineJobTimeout = 2 * time.Minute
)

type dataStore interface {
	InTx(context.Context, func(context.Context) error) error
	Ping(context.Context) error

	InsertParticipant(context.Context, store.Participant) (store.Participant, error)
	GetParticipant(context.Context, int64) (store.Participant, error)
	ListParticipants(context.Context, store.Page) ([]store.Participant, int, error)

	InsertCategory(context.Context, store.Category) (store.Category, error)
	GetCategory(context.Context, int64) (store.Category, error)
	ListCategories(context.Context, store.Page) ([]store.Category, int, error)
	UpdateCategory(context.Context, int64, store.CategoryFields) (store.Category, error)
	SoftDeleteCategory(context.Context, int64) error

	InsertDocumentType(context.Context, store.DocumentType) (store.DocumentType, error)
	GetDocumentType(context.Context, int64) (store.DocumentType, error)
	LockDocumentType(context.Context, int64) (store.DocumentType, error)
	ListDocumentTypes(context.Context, store.Page) ([]store.DocumentType, int, error)
	ListCategoryTypes(context.Context, []int64) ([]store.DocumentType, error)
	UpdateDocumentType(context.Context, int64, store.TypeFields) (store.DocumentType, error)
	SoftDeleteDocumentType(context.Context, int64) error
	SoftDeleteCategoryTypesExcept(context.Context, int64, []int64) ([]int64, error)

	InsertDocument(context.Context, store.Document) (store.Document, error)
	GetDocument(context.Context, int64) (store.Document, error)
	FindActiveDocument(context.Context, int64) (*store.Document, error)
	ListDocuments(context.Context, store.DocumentFilter, store.Page) ([]store.Document, int, error)
	UpdateDocument(context.Context, int64, store.DocumentFields) (store.Document, error)
	SoftDeleteDocument(context.Context, int64) error

	InsertUploadedText(context.Context, store.UploadedText) (store.UploadedText, error)
	ListUploadedText(context.Context, int64) ([]store.UploadedText, error)
	DeleteDocumentText(context.Context, int64) ([]int64, error)
	DeleteTypeText(context.Context, int64) ([]int64, error)

	ListCategoriesWithTypes(context.Context, store.CategoryFilter) ([]store.CategoryWithTypes, error)
}

type jobQueue interface {
	Enqueue(context.Context, queue.Job) error
	Ping(context.Context) error
}

type textExtractor interface {
	Extract(context.Context, io.Reader) (string, error)
}

type textIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexText(search.TextRecord)
	DeleteTexts([]int64)
}

// Deps are the collaborators a Service is built from. A nil Queue runs
// background jobs in-process; a nil Search disables the text index.
type Deps struct {
	Store   *store.PostgresStore
	Blobs   storage.Blobs
	Queue   *queue.RedisQueue
	Search  *search.Service
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	blobs     storage.Blobs
	jobs      jobQueue
	extractor textExtractor
	index     textIndex
	metrics   *metrics.Metrics
	logger    *zap.Logger
	inflight  sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		blobs:     deps.Blobs,
		extractor: extract.NewPDFExtractor(cfg.MaxUploadBytes),
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if deps.Queue != nil {
		s.jobs = deps.Queue
	}
	if deps.Search != nil {
		s.index = deps.Search
	}
	return s
}

func (s *Service) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// HealthChecks pings every configured backend. A nil error means healthy.
func (s *Service) HealthChecks(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.blobs != nil {
		checks["storage"] = s.blobs.Ping(ctx)
	}
	if s.jobs != nil {
		checks["queue"] = s.jobs.Ping(ctx)
	}
	return checks
}

// Wait blocks until every in-process background job has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func normalizePage(limit, offset int) store.Page {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return store.Page{Limit: limit, Offset: offset}
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// --- participants ---

type ParticipantInput struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Status    *string `json:"status"`
}

type ParticipantView struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Status    string `json:"status"`
}

func participantView(p store.Participant) ParticipantView {
	return ParticipantView{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName, Status: p.Status}
}

func (s *Service) CreateParticipant(ctx context.Context, in ParticipantInput) (ParticipantView, error) {
	errs := fieldErrors{}
	checkTitle(errs, "first_name", in.FirstName, true)
	checkTitle(errs, "last_name", in.LastName, true)
	if in.Status == nil {
		errs.add("status", msgRequired)
	} else if !store.ValidParticipantStatus(*in.Status) {
		errs.add("status", msgInvalidChoice(*in.Status))
	}
	if err := errs.err(); err != nil {
		return ParticipantView{}, err
	}

	created, err := s.store.InsertParticipant(ctx, store.Participant{
		FirstName: *in.FirstName,
		LastName:  *in.LastName,
		Status:    *in.Status,
	})
	if err != nil {
		return ParticipantView{}, err
	}
	return participantView(created), nil
}

func (s *Service) GetParticipant(ctx context.Context, id int64) (ParticipantView, error) {
	p, err := s.store.GetParticipant(ctx, id)
	if isNotFound(err) {
		return ParticipantView{}, notFound("Participant")
	}
	if err != nil {
		return ParticipantView{}, err
	}
	return participantView(p), nil
}

func (s *Service) ListParticipants(ctx context.Context, limit, offset int) ([]ParticipantView, int, error) {
	items, total, err := s.store.ListParticipants(ctx, normalizePage(limit, offset))
	if err != nil {
		return nil, 0, err
	}
	views := make([]ParticipantView, 0, len(items))
	for _, item := range items {
		views = append(views, participantView(item))
	}
	return views, total, nil
}

// checkParticipant reports a field error when the referenced participant does
// not exist.
func (s *Service) checkParticipant(ctx context.Context, errs fieldErrors, field string, id *int64) error {
	if id == nil {
		return nil
	}
	_, err := s.store.GetParticipant(ctx, *id)
	if isNotFound(err) {
		errs.add(field, msgInvalidPK(*id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	return nil
}
