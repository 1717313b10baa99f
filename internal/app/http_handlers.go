package app

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"docflow/api/internal/search"
	"docflow/api/internal/store"
)

// --- participants ---

func (s *HTTPServer) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	items, total, err := s.service.ListParticipants(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, items, total)
}

func (s *HTTPServer) handleCreateParticipant(w http.ResponseWriter, r *http.Request) {
	var body ParticipantInput
	if !s.decode(w, r, &body) {
		return
	}
	created, err := s.service.CreateParticipant(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.service.GetParticipant(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// --- categories ---

func (s *HTTPServer) handleListCategories(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	items, total, err := s.service.ListCategories(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, items, total)
}

func (s *HTTPServer) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var body CategoryInput
	if !s.decode(w, r, &body) {
		return
	}
	created, err := s.service.CreateCategory(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.service.GetCategory(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateCategory(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var body CategoryInput
		if !s.decode(w, r, &body) {
			return
		}
		updated, err := s.service.UpdateCategory(r.Context(), id, body, partial)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *HTTPServer) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteCategory(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- document types ---

func (s *HTTPServer) handleListTypes(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	items, total, err := s.service.ListDocumentTypes(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, items, total)
}

func (s *HTTPServer) handleCreateType(w http.ResponseWriter, r *http.Request) {
	var body TypeInput
	if !s.decode(w, r, &body) {
		return
	}
	created, err := s.service.CreateDocumentType(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleGetType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.service.GetDocumentType(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateType(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var body TypeInput
		if !s.decode(w, r, &body) {
			return
		}
		updated, err := s.service.UpdateDocumentType(r.Context(), id, body, partial)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *HTTPServer) handleDeleteType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteDocumentType(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- documents ---

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	errs := fieldErrors{}
	filter := store.DocumentFilter{
		Company:        queryInt(r, errs, "company"),
		ParticipantID:  queryInt(r, errs, "participant"),
		DocumentTypeID: queryInt(r, errs, "document_type"),
		IsActive:       queryBool(r, errs, "is_active"),
	}
	if err := errs.err(); err != nil {
		s.fail(w, r, err)
		return
	}
	limit, offset := pageParams(r)
	items, total, err := s.service.ListDocuments(r.Context(), filter, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, items, total)
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := s.documentInput(w, r)
	defer cleanup()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created, err := s.service.CreateDocument(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.service.GetDocument(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateDocument(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		in, cleanup, err := s.documentInput(w, r)
		defer cleanup()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		updated, err := s.service.UpdateDocument(r.Context(), id, in, partial)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleDocumentText(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	items, err := s.service.DocumentText(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, items, len(items))
}

func (s *HTTPServer) handleDocumentFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rc, key, err := s.service.DocumentFile(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// documentInput reads a document write from a multipart form (with an
// optional "file" part) or from a JSON body without a file.
func (s *HTTPServer) documentInput(w http.ResponseWriter, r *http.Request) (DocumentInput, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return s.documentInputJSON(w, r)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return DocumentInput{}, noop, err
		}
		return DocumentInput{}, noop, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	errs := fieldErrors{}
	in := DocumentInput{
		Company:        formInt(r, errs, "company"),
		ParticipantID:  formInt(r, errs, "participant"),
		DocumentTypeID: formInt(r, errs, "document_type"),
		IsActive:       formBool(r, errs, "is_active"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		in.File = &Upload{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		}
		inner := cleanup
		cleanup = func() {
			_ = file.Close()
			inner()
		}
	case errors.Is(err, http.ErrMissingFile):
		if r.FormValue("file") != "" {
			errs.add("file", msgNotAFile)
		}
	default:
		return DocumentInput{}, cleanup, err
	}

	return in, cleanup, errs.err()
}

func (s *HTTPServer) documentInputJSON(w http.ResponseWriter, r *http.Request) (DocumentInput, func(), error) {
	noop := func() {}
	var body struct {
		Company      *int64          `json:"company"`
		Participant  *int64          `json:"participant"`
		DocumentType *int64          `json:"document_type"`
		IsActive     *bool           `json:"is_active"`
		File         json.RawMessage `json:"file"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := decodeBody(r, &body); err != nil {
		return DocumentInput{}, noop, domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	if raw := strings.TrimSpace(string(body.File)); raw != "" && raw != "null" {
		return DocumentInput{}, noop, validationError("file", msgNotAFile)
	}
	return DocumentInput{
		Company:        body.Company,
		ParticipantID:  body.Participant,
		DocumentTypeID: body.DocumentType,
		IsActive:       body.IsActive,
	}, noop, nil
}

func formInt(r *http.Request, errs fieldErrors, name string) *int64 {
	values, ok := r.MultipartForm.Value[name]
	if !ok || len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil {
		errs.add(name, msgInvalidInt)
		return nil
	}
	return &value
}

func formBool(r *http.Request, errs fieldErrors, name string) *bool {
	values, ok := r.MultipartForm.Value[name]
	if !ok || len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return nil
	}
	value, valid := parseBool(values[0])
	if !valid {
		errs.add(name, msgInvalidBool)
		return nil
	}
	return &value
}

// --- composite reads ---

func (s *HTTPServer) handleCategoryStats(w http.ResponseWriter, r *http.Request) {
	errs := fieldErrors{}
	filter := store.CategoryFilter{
		ParticipantID: queryInt(r, errs, "participant_id"),
		CategoryID:    queryInt(r, errs, "category_id"),
		// Only the literal "true" enables the filter.
		HasActiveType: r.URL.Query().Get("has_active_type") == "true",
	}
	if err := errs.err(); err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.CategoryStats(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, items, len(items))
}

func (s *HTTPServer) handleTextSearch(w http.ResponseWriter, r *http.Request) {
	errs := fieldErrors{}
	q := search.Query{Text: strings.TrimSpace(r.URL.Query().Get("q"))}
	if q.Text == "" {
		errs.add("q", msgRequired)
	}
	if v := queryInt(r, errs, "document_type_id"); v != nil {
		q.DocumentTypeID = *v
	}
	if v := queryInt(r, errs, "company"); v != nil {
		q.Company = *v
	}
	if err := errs.err(); err != nil {
		s.fail(w, r, err)
		return
	}
	q.Limit, q.Offset = pageParams(r)
	writeJSON(w, http.StatusOK, s.service.SearchText(r.Context(), q))
}
