package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"docflow/api/internal/metrics"
	"docflow/api/internal/queue"
	"docflow/api/internal/search"
	"docflow/api/internal/storage"
	"docflow/api/internal/store"
	"docflow/api/internal/util"
	"go.uber.org/zap"
)

// Upload is a file received with a document write.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type DocumentInput struct {
	Company        *int64
	ParticipantID  *int64
	DocumentTypeID *int64
	IsActive       *bool
	File           *Upload
}

type DocumentView struct {
	ID           int64  `json:"id"`
	Company      int64  `json:"company"`
	Participant  int64  `json:"participant"`
	DocumentType int64  `json:"document_type"`
	File         string `json:"file"`
	FileURL      string `json:"file_url"`
	IsActive     bool   `json:"is_active"`
	IsDeleted    bool   `json:"is_deleted"`
}

type UploadedTextView struct {
	ID           int64     `json:"id"`
	Document     int64     `json:"document"`
	DocumentType int64     `json:"document_type"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

func documentView(d store.Document) DocumentView {
	return DocumentView{
		ID:           d.ID,
		Company:      d.Company,
		Participant:  d.ParticipantID,
		DocumentType: d.DocumentTypeID,
		File:         d.File,
		FileURL:      "/api/documents/documents/" + strconv.FormatInt(d.ID, 10) + "/file/",
		IsActive:     d.IsActive,
		IsDeleted:    d.IsDeleted,
	}
}

// wantsText reports whether a document of the given type should get derived
// text extracted from its file.
func wantsText(d store.Document, t store.DocumentType) bool {
	return d.IsActive && !d.IsDeleted && t.Visible() && util.IsPDF(d.File)
}

func (s *Service) ListDocuments(ctx context.Context, filter store.DocumentFilter, limit, offset int) ([]DocumentView, int, error) {
	items, total, err := s.store.ListDocuments(ctx, filter, normalizePage(limit, offset))
	if err != nil {
		return nil, 0, err
	}
	views := make([]DocumentView, 0, len(items))
	for _, item := range items {
		views = append(views, documentView(item))
	}
	return views, total, nil
}

func (s *Service) GetDocument(ctx context.Context, id int64) (DocumentView, error) {
	d, err := s.liveDocument(ctx, id)
	if err != nil {
		return DocumentView{}, err
	}
	return documentView(d), nil
}

func (s *Service) liveDocument(ctx context.Context, id int64) (store.Document, error) {
	d, err := s.store.GetDocument(ctx, id)
	if isNotFound(err) || (err == nil && d.IsDeleted) {
		return store.Document{}, notFound("Document")
	}
	return d, err
}

func (s *Service) validateDocument(ctx context.Context, in DocumentInput, partial, requireFile bool) error {
	errs := fieldErrors{}
	checkPresent(errs, "company", in.Company, !partial)
	checkPresent(errs, "participant", in.ParticipantID, !partial)
	checkPresent(errs, "document_type", in.DocumentTypeID, !partial)
	if in.File == nil && requireFile {
		errs.add("file", "No file was submitted.")
	}
	if in.File != nil && in.File.Size == 0 {
		errs.add("file", "The submitted file is empty.")
	}
	if err := s.checkParticipant(ctx, errs, "participant", in.ParticipantID); err != nil {
		return err
	}
	if in.DocumentTypeID != nil {
		t, err := s.store.GetDocumentType(ctx, *in.DocumentTypeID)
		switch {
		case isNotFound(err) || (err == nil && t.IsDeleted):
			errs.add("document_type", msgInvalidPK(*in.DocumentTypeID))
		case err != nil:
			return fmt.Errorf("check document type: %w", err)
		}
	}
	return errs.err()
}

func (s *Service) storeUpload(ctx context.Context, upload *Upload) (string, error) {
	key := util.ObjectKey(upload.Name)
	if err := s.blobs.Put(ctx, key, upload.Body, upload.Size, upload.ContentType); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return key, nil
}

func (s *Service) discardUpload(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.blobs.Remove(ctx, key); err != nil {
		s.log().Warn("remove orphaned upload", zap.String("key", key), zap.Error(err))
	}
}

// lockTypeForWrite locks a document type for the rest of the transaction and
// rejects soft-deleted types.
func (s *Service) lockTypeForWrite(ctx context.Context, id int64) (store.DocumentType, error) {
	t, err := s.store.LockDocumentType(ctx, id)
	if isNotFound(err) || (err == nil && t.IsDeleted) {
		return store.DocumentType{}, validationError("document_type", msgInvalidPK(id))
	}
	return t, err
}

// deactivateHolder clears the active flag of the current holder of a type and,
// when the type is visible, drops the holder's derived text.
func (s *Service) deactivateHolder(ctx context.Context, t store.DocumentType, holder store.Document) ([]int64, error) {
	inactive := false
	if _, err := s.store.UpdateDocument(ctx, holder.ID, store.DocumentFields{IsActive: &inactive}); err != nil {
		return nil, err
	}
	if !t.Visible() {
		return nil, nil
	}
	return s.store.DeleteDocumentText(ctx, holder.ID)
}

// CreateDocument stores the upload and inserts the document. The first
// document of a type is always active; otherwise the requested flag is
// honoured (default false) and an active newcomer takes over from the
// previous holder.
func (s *Service) CreateDocument(ctx context.Context, in DocumentInput) (DocumentView, error) {
	if err := s.validateDocument(ctx, in, false, true); err != nil {
		return DocumentView{}, err
	}

	key, err := s.storeUpload(ctx, in.File)
	if err != nil {
		return DocumentView{}, err
	}

	var created store.Document
	var docType store.DocumentType
	var removed []int64
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		docType, err = s.lockTypeForWrite(ctx, *in.DocumentTypeID)
		if err != nil {
			return err
		}
		holder, err := s.store.FindActiveDocument(ctx, docType.ID)
		if err != nil {
			return err
		}

		active := in.IsActive != nil && *in.IsActive
		if holder == nil {
			active = true
		}
		if active && holder != nil {
			removed, err = s.deactivateHolder(ctx, docType, *holder)
			if err != nil {
				return err
			}
		}

		created, err = s.store.InsertDocument(ctx, store.Document{
			Company:        *in.Company,
			ParticipantID:  *in.ParticipantID,
			DocumentTypeID: docType.ID,
			File:           key,
			IsActive:       active,
		})
		return err
	})
	if err != nil {
		s.discardUpload(key)
		return DocumentView{}, err
	}

	s.unindex(removed)
	if wantsText(created, docType) {
		s.dispatch(ctx, queue.Job{Name: queue.JobExtractText, DocumentID: created.ID})
	}
	return documentView(created), nil
}

// UpdateDocument applies a document write. An absent is_active keeps the
// current value, except that the document is forced active when its target
// type has no active document. Changing the type or the file, or deactivating
// a document of a visible type, drops its derived text.
func (s *Service) UpdateDocument(ctx context.Context, id int64, in DocumentInput, partial bool) (DocumentView, error) {
	if _, err := s.liveDocument(ctx, id); err != nil {
		return DocumentView{}, err
	}
	if err := s.validateDocument(ctx, in, partial, false); err != nil {
		return DocumentView{}, err
	}

	var newKey string
	if in.File != nil {
		key, err := s.storeUpload(ctx, in.File)
		if err != nil {
			return DocumentView{}, err
		}
		newKey = key
	}

	var updated store.Document
	var target store.DocumentType
	var removed []int64
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		current, err := s.store.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		targetID := current.DocumentTypeID
		if in.DocumentTypeID != nil {
			targetID = *in.DocumentTypeID
		}
		typeChanged := targetID != current.DocumentTypeID

		// Lock both types in id order when the document moves between them.
		// Only a requested type must be live; a document may still be edited
		// while its current type is soft-deleted.
		source, err := s.lockPair(ctx, current.DocumentTypeID, targetID)
		if err != nil {
			return err
		}
		target = source
		if typeChanged {
			target, err = s.lockTypeForWrite(ctx, targetID)
			if err != nil {
				return err
			}
		}

		holder, err := s.store.FindActiveDocument(ctx, targetID)
		if err != nil {
			return err
		}
		var other *store.Document
		if holder != nil && holder.ID != current.ID {
			other = holder
		}

		active := current.IsActive
		if in.IsActive != nil {
			active = *in.IsActive
		}
		if holder == nil {
			active = true
		}
		if active && other != nil {
			ids, err := s.deactivateHolder(ctx, target, *other)
			if err != nil {
				return err
			}
			removed = append(removed, ids...)
		}

		purge := typeChanged || newKey != "" || (current.IsActive && !active && source.Visible())
		if purge {
			ids, err := s.store.DeleteDocumentText(ctx, current.ID)
			if err != nil {
				return err
			}
			removed = append(removed, ids...)
		}

		fields := store.DocumentFields{
			Company:        in.Company,
			ParticipantID:  in.ParticipantID,
			DocumentTypeID: in.DocumentTypeID,
			IsActive:       &active,
		}
		if newKey != "" {
			fields.File = &newKey
		}
		updated, err = s.store.UpdateDocument(ctx, id, fields)
		return err
	})
	if err != nil {
		if newKey != "" {
			s.discardUpload(newKey)
		}
		return DocumentView{}, err
	}

	s.unindex(removed)
	if wantsText(updated, target) {
		s.dispatch(ctx, queue.Job{Name: queue.JobExtractText, DocumentID: updated.ID})
	}
	return documentView(updated), nil
}

// lockPair locks the source and target types in ascending id order and
// returns the source type.
func (s *Service) lockPair(ctx context.Context, sourceID, targetID int64) (store.DocumentType, error) {
	if sourceID == targetID || sourceID < targetID {
		return s.store.LockDocumentType(ctx, sourceID)
	}
	if _, err := s.lockTypeForWrite(ctx, targetID); err != nil {
		return store.DocumentType{}, err
	}
	return s.store.LockDocumentType(ctx, sourceID)
}

// DeleteDocument only sets is_deleted; the active flag and the text rows stay
// in the table. The rows are dropped from the search index so a deleted
// document stops matching queries.
func (s *Service) DeleteDocument(ctx context.Context, id int64) error {
	if _, err := s.liveDocument(ctx, id); err != nil {
		return err
	}
	if err := s.store.SoftDeleteDocument(ctx, id); err != nil {
		return err
	}
	rows, err := s.store.ListUploadedText(ctx, id)
	if err != nil {
		s.log().Warn("list text of deleted document", zap.Int64("document_id", id), zap.Error(err))
		return nil
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	s.unindex(ids)
	return nil
}

func (s *Service) DocumentText(ctx context.Context, id int64) ([]UploadedTextView, error) {
	if _, err := s.liveDocument(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.store.ListUploadedText(ctx, id)
	if err != nil {
		return nil, err
	}
	views := make([]UploadedTextView, 0, len(rows))
	for _, row := range rows {
		views = append(views, UploadedTextView{
			ID:           row.ID,
			Document:     row.DocumentID,
			DocumentType: row.DocumentTypeID,
			Text:         row.Text,
			CreatedAt:    row.CreatedAt,
		})
	}
	return views, nil
}

// DocumentFile opens the stored file of a document. The caller closes it.
func (s *Service) DocumentFile(ctx context.Context, id int64) (io.ReadCloser, string, error) {
	d, err := s.liveDocument(ctx, id)
	if err != nil {
		return nil, "", err
	}
	rc, err := s.blobs.Open(ctx, d.File)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", notFound("Document file")
	}
	if err != nil {
		return nil, "", err
	}
	return rc, d.File, nil
}

func (s *Service) SearchText(ctx context.Context, q search.Query) search.Response {
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "none"}
	}
	return s.index.Search(ctx, q)
}

func (s *Service) unindex(ids []int64) {
	if s.index == nil || len(ids) == 0 {
		return
	}
	s.index.DeleteTexts(ids)
}

// --- background jobs ---

// dispatch hands a job to the queue or, without one, runs it on a background
// goroutine. Failures are logged and never returned to the caller.
func (s *Service) dispatch(ctx context.Context, job queue.Job) {
	if s.jobs != nil {
		err := s.jobs.Enqueue(ctx, job)
		s.metrics.IncEnqueued(job.Name, err)
		if err != nil {
			s.log().Error("enqueue job", zap.String("job", job.Name), zap.Int64("document_id", job.DocumentID), zap.Error(err))
		}
		return
	}

	s.metrics.IncEnqueued(job.Name, nil)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), inlineJobTimeout)
		defer cancel()
		if err := s.HandleJob(ctx, job); err != nil {
			s.log().Error("inline job failed", zap.String("job", job.Name), zap.Int64("document_id", job.DocumentID), zap.Error(err))
		}
	}()
}

func (s *Service) HandleJob(ctx context.Context, job queue.Job) error {
	switch job.Name {
	case queue.JobExtractText:
		return s.ExtractDocumentText(ctx, job.DocumentID)
	case queue.JobDeleteUploadedText:
		return s.DeleteUploadedText(ctx, job.DocumentID)
	default:
		return fmt.Errorf("unknown job %q", job.Name)
	}
}

// ExtractDocumentText derives the text of a document's PDF and replaces the
// document's text rows with one new row. Only active visible types hold text.
// Conditions are re-checked under the type lock, so a document or type
// deactivated meanwhile gets no text. Extraction
// failures are logged and leave no row.
func (s *Service) ExtractDocumentText(ctx context.Context, documentID int64) error {
	logger := s.log().With(zap.Int64("document_id", documentID))

	doc, err := s.store.GetDocument(ctx, documentID)
	if isNotFound(err) {
		logger.Warn("extract text: document not found")
		s.metrics.IncExtraction(metrics.OutcomeSkipped)
		return nil
	}
	if err != nil {
		return err
	}
	docType, err := s.store.GetDocumentType(ctx, doc.DocumentTypeID)
	if err != nil {
		return err
	}
	if !wantsText(doc, docType) || !docType.IsActive {
		logger.Debug("extract text: document does not qualify")
		s.metrics.IncExtraction(metrics.OutcomeSkipped)
		return nil
	}

	text, err := s.readText(ctx, doc.File)
	if err != nil {
		logger.Warn("pdf extract error", zap.String("file", doc.File), zap.Error(err))
		s.metrics.IncExtraction(metrics.OutcomeFailed)
		return nil
	}

	var created store.UploadedText
	var removed []int64
	skipped := false
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		lockedType, err := s.store.LockDocumentType(ctx, docType.ID)
		if err != nil {
			return err
		}
		current, err := s.store.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if !wantsText(current, lockedType) || !lockedType.IsActive || current.File != doc.File || current.DocumentTypeID != docType.ID {
			skipped = true
			return nil
		}
		removed, err = s.store.DeleteDocumentText(ctx, documentID)
		if err != nil {
			return err
		}
		created, err = s.store.InsertUploadedText(ctx, store.UploadedText{
			Text:           text,
			DocumentTypeID: docType.ID,
			DocumentID:     documentID,
		})
		return err
	})
	if err != nil {
		return err
	}
	if skipped {
		logger.Info("extract text: document changed during extraction, skipping")
		s.metrics.IncExtraction(metrics.OutcomeSkipped)
		return nil
	}

	s.unindex(removed)
	if s.index != nil {
		s.index.IndexText(search.TextRecord{
			TextID:         created.ID,
			DocumentID:     documentID,
			DocumentTypeID: docType.ID,
			Company:        doc.Company,
			ParticipantID:  doc.ParticipantID,
			Text:           created.Text,
		})
	}
	s.metrics.IncExtraction(metrics.OutcomeExtracted)
	logger.Info("extracted document text", zap.Int64("text_id", created.ID), zap.Int("chars", len(text)))
	return nil
}

func (s *Service) readText(ctx context.Context, key string) (string, error) {
	rc, err := s.blobs.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return s.extractor.Extract(ctx, rc)
}

// DeleteUploadedText removes every text row of a document.
func (s *Service) DeleteUploadedText(ctx context.Context, documentID int64) error {
	removed, err := s.store.DeleteDocumentText(ctx, documentID)
	if err != nil {
		return err
	}
	s.unindex(removed)
	return nil
}
