package app

import (
	"context"
	"strconv"

	"docflow/api/internal/store"
	"go.uber.org/zap"
)

type TypeInput struct {
	ID             *int64  `json:"id"`
	CategoryID     *int64  `json:"category_id"`
	Title          *string `json:"title"`
	PrivateVisible *bool   `json:"private_visible"`
	PublicVisible  *bool   `json:"public_visible"`
	IsActive       *bool   `json:"is_active"`
}

func (in TypeInput) fields() store.TypeFields {
	return store.TypeFields{
		CategoryID:     in.CategoryID,
		Title:          in.Title,
		PrivateVisible: in.PrivateVisible,
		PublicVisible:  in.PublicVisible,
		IsActive:       in.IsActive,
	}
}

// CategoryInput is a category write. A nil Types leaves the category's types
// alone; a non-nil Types is the full desired list.
type CategoryInput struct {
	Company       *int64       `json:"company"`
	ParticipantID *int64       `json:"participant"`
	Title         *string      `json:"title"`
	Types         *[]TypeInput `json:"types"`
}

type TypeView struct {
	ID             int64  `json:"id"`
	CategoryID     int64  `json:"category_id"`
	Title          string `json:"title"`
	PrivateVisible bool   `json:"private_visible"`
	PublicVisible  bool   `json:"public_visible"`
	IsActive       bool   `json:"is_active"`
	IsDeleted      bool   `json:"is_deleted"`
}

type CategoryView struct {
	ID          int64      `json:"id"`
	Company     int64      `json:"company"`
	Participant int64      `json:"participant"`
	Title       string     `json:"title"`
	IsDeleted   bool       `json:"is_deleted"`
	Types       []TypeView `json:"types"`
}

func typeView(t store.DocumentType) TypeView {
	return TypeView{
		ID:             t.ID,
		CategoryID:     t.CategoryID,
		Title:          t.Title,
		PrivateVisible: t.PrivateVisible,
		PublicVisible:  t.PublicVisible,
		IsActive:       t.IsActive,
		IsDeleted:      t.IsDeleted,
	}
}

func categoryView(c store.Category, types []store.DocumentType) CategoryView {
	view := CategoryView{
		ID:          c.ID,
		Company:     c.Company,
		Participant: c.ParticipantID,
		Title:       c.Title,
		IsDeleted:   c.IsDeleted,
		Types:       make([]TypeView, 0, len(types)),
	}
	for _, t := range types {
		view.Types = append(view.Types, typeView(t))
	}
	return view
}

// --- categories ---

func (s *Service) ListCategories(ctx context.Context, limit, offset int) ([]CategoryView, int, error) {
	items, total, err := s.store.ListCategories(ctx, normalizePage(limit, offset))
	if err != nil {
		return nil, 0, err
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	types, err := s.store.ListCategoryTypes(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	byCategory := make(map[int64][]store.DocumentType)
	for _, t := range types {
		byCategory[t.CategoryID] = append(byCategory[t.CategoryID], t)
	}

	views := make([]CategoryView, 0, len(items))
	for _, item := range items {
		views = append(views, categoryView(item, byCategory[item.ID]))
	}
	return views, total, nil
}

func (s *Service) GetCategory(ctx context.Context, id int64) (CategoryView, error) {
	category, err := s.liveCategory(ctx, id)
	if err != nil {
		return CategoryView{}, err
	}
	return s.categoryWithTypes(ctx, category)
}

func (s *Service) liveCategory(ctx context.Context, id int64) (store.Category, error) {
	category, err := s.store.GetCategory(ctx, id)
	if isNotFound(err) || (err == nil && category.IsDeleted) {
		return store.Category{}, notFound("Document category")
	}
	return category, err
}

func (s *Service) categoryWithTypes(ctx context.Context, category store.Category) (CategoryView, error) {
	types, err := s.store.ListCategoryTypes(ctx, []int64{category.ID})
	if err != nil {
		return CategoryView{}, err
	}
	return categoryView(category, types), nil
}

func (s *Service) validateCategory(ctx context.Context, in CategoryInput, partial bool) error {
	errs := fieldErrors{}
	checkPresent(errs, "company", in.Company, !partial)
	checkPresent(errs, "participant", in.ParticipantID, !partial)
	checkTitle(errs, "title", in.Title, !partial)
	if in.Types == nil && !partial {
		errs.add("types", msgRequired)
	}
	if in.Types != nil {
		for i, t := range *in.Types {
			// Entries naming an existing type only update the fields they carry.
			validateTypeFields(errs, indexedField("types", i), t, t.ID != nil)
		}
	}
	if err := s.checkParticipant(ctx, errs, "participant", in.ParticipantID); err != nil {
		return err
	}
	return errs.err()
}

func validateTypeFields(errs fieldErrors, prefix string, in TypeInput, partial bool) {
	checkTitle(errs, prefix+"title", in.Title, !partial)
	checkPresent(errs, prefix+"private_visible", in.PrivateVisible, !partial)
	checkPresent(errs, prefix+"public_visible", in.PublicVisible, !partial)
	checkPresent(errs, prefix+"is_active", in.IsActive, !partial)
}

func indexedField(name string, i int) string {
	return name + "[" + strconv.Itoa(i) + "]."
}

func newType(categoryID int64, in TypeInput) store.DocumentType {
	return store.DocumentType{
		CategoryID:     categoryID,
		Title:          *in.Title,
		PrivateVisible: *in.PrivateVisible,
		PublicVisible:  *in.PublicVisible,
		IsActive:       *in.IsActive,
	}
}

// CreateCategory creates a category and its nested types in one transaction.
// Any category reference inside a nested type is ignored.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (CategoryView, error) {
	for i := range derefTypes(in.Types) {
		(*in.Types)[i].ID = nil
	}
	if err := s.validateCategory(ctx, in, false); err != nil {
		return CategoryView{}, err
	}

	var view CategoryView
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		category, err := s.store.InsertCategory(ctx, store.Category{
			Company:       *in.Company,
			ParticipantID: *in.ParticipantID,
			Title:         *in.Title,
		})
		if err != nil {
			return err
		}
		types := make([]store.DocumentType, 0, len(*in.Types))
		for _, t := range *in.Types {
			created, err := s.store.InsertDocumentType(ctx, newType(category.ID, t))
			if err != nil {
				return err
			}
			types = append(types, created)
		}
		view = categoryView(category, types)
		return nil
	})
	if err != nil {
		return CategoryView{}, err
	}
	return view, nil
}

// UpdateCategory applies category fields and, when a type list is supplied,
// synchronises the category's types with it: unlisted types are soft-deleted,
// listed ids are updated, entries without an id are created. Ids that do not
// belong to the category are dropped without error.
func (s *Service) UpdateCategory(ctx context.Context, id int64, in CategoryInput, partial bool) (CategoryView, error) {
	if _, err := s.liveCategory(ctx, id); err != nil {
		return CategoryView{}, err
	}
	if err := s.validateCategory(ctx, in, partial); err != nil {
		return CategoryView{}, err
	}

	var removed []int64
	var updated store.Category
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.store.UpdateCategory(ctx, id, store.CategoryFields{
			Company:       in.Company,
			ParticipantID: in.ParticipantID,
			Title:         in.Title,
		})
		if err != nil {
			return err
		}
		if in.Types == nil {
			return nil
		}

		keep := make([]int64, 0, len(*in.Types))
		for _, t := range *in.Types {
			if t.ID != nil {
				keep = append(keep, *t.ID)
			}
		}
		if _, err := s.store.SoftDeleteCategoryTypesExcept(ctx, id, keep); err != nil {
			return err
		}

		for _, t := range *in.Types {
			if t.ID == nil {
				if _, err := s.store.InsertDocumentType(ctx, newType(id, t)); err != nil {
					return err
				}
				continue
			}
			existing, err := s.store.GetDocumentType(ctx, *t.ID)
			if isNotFound(err) || (err == nil && (existing.CategoryID != id || existing.IsDeleted)) {
				continue
			}
			if err != nil {
				return err
			}
			fields := t.fields()
			fields.CategoryID = nil
			next, err := s.store.UpdateDocumentType(ctx, existing.ID, fields)
			if err != nil {
				return err
			}
			ids, err := s.cleanupTypeText(ctx, existing, next)
			if err != nil {
				return err
			}
			removed = append(removed, ids...)
		}
		return nil
	})
	if err != nil {
		return CategoryView{}, err
	}
	s.unindex(removed)
	return s.categoryWithTypes(ctx, updated)
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if _, err := s.liveCategory(ctx, id); err != nil {
		return err
	}
	return s.store.SoftDeleteCategory(ctx, id)
}

// --- document types ---

func (s *Service) ListDocumentTypes(ctx context.Context, limit, offset int) ([]TypeView, int, error) {
	items, total, err := s.store.ListDocumentTypes(ctx, normalizePage(limit, offset))
	if err != nil {
		return nil, 0, err
	}
	views := make([]TypeView, 0, len(items))
	for _, item := range items {
		views = append(views, typeView(item))
	}
	return views, total, nil
}

func (s *Service) GetDocumentType(ctx context.Context, id int64) (TypeView, error) {
	t, err := s.liveType(ctx, id)
	if err != nil {
		return TypeView{}, err
	}
	return typeView(t), nil
}

func (s *Service) liveType(ctx context.Context, id int64) (store.DocumentType, error) {
	t, err := s.store.GetDocumentType(ctx, id)
	if isNotFound(err) || (err == nil && t.IsDeleted) {
		return store.DocumentType{}, notFound("Document type")
	}
	return t, err
}

// checkCategoryRef rejects a category reference that is missing, unknown or
// soft-deleted with the category_id field error.
func (s *Service) checkCategoryRef(ctx context.Context, id *int64) error {
	if id == nil {
		return validationError("category_id", msgInvalidCategory)
	}
	category, err := s.store.GetCategory(ctx, *id)
	if isNotFound(err) || (err == nil && category.IsDeleted) {
		return validationError("category_id", msgInvalidCategory)
	}
	return err
}

func (s *Service) CreateDocumentType(ctx context.Context, in TypeInput) (TypeView, error) {
	if err := s.checkCategoryRef(ctx, in.CategoryID); err != nil {
		return TypeView{}, err
	}
	errs := fieldErrors{}
	validateTypeFields(errs, "", in, false)
	if err := errs.err(); err != nil {
		return TypeView{}, err
	}
	created, err := s.store.InsertDocumentType(ctx, newType(*in.CategoryID, in))
	if err != nil {
		return TypeView{}, err
	}
	return typeView(created), nil
}

func (s *Service) UpdateDocumentType(ctx context.Context, id int64, in TypeInput, partial bool) (TypeView, error) {
	if _, err := s.liveType(ctx, id); err != nil {
		return TypeView{}, err
	}
	if in.CategoryID != nil || !partial {
		if err := s.checkCategoryRef(ctx, in.CategoryID); err != nil {
			return TypeView{}, err
		}
	}
	errs := fieldErrors{}
	validateTypeFields(errs, "", in, partial)
	if err := errs.err(); err != nil {
		return TypeView{}, err
	}

	var removed []int64
	var next store.DocumentType
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		prev, err := s.store.LockDocumentType(ctx, id)
		if err != nil {
			return err
		}
		next, err = s.store.UpdateDocumentType(ctx, id, in.fields())
		if err != nil {
			return err
		}
		removed, err = s.cleanupTypeText(ctx, prev, next)
		return err
	})
	if err != nil {
		return TypeView{}, err
	}
	s.unindex(removed)
	return typeView(next), nil
}

func (s *Service) DeleteDocumentType(ctx context.Context, id int64) error {
	if _, err := s.liveType(ctx, id); err != nil {
		return err
	}
	return s.store.SoftDeleteDocumentType(ctx, id)
}

// cleanupTypeText drops all derived text of a type whose activity or
// visibility flags changed so that it can no longer hold text.
func (s *Service) cleanupTypeText(ctx context.Context, prev, next store.DocumentType) ([]int64, error) {
	changed := prev.IsActive != next.IsActive ||
		prev.PrivateVisible != next.PrivateVisible ||
		prev.PublicVisible != next.PublicVisible
	if !changed || next.HoldsText() {
		return nil, nil
	}
	removed, err := s.store.DeleteTypeText(ctx, next.ID)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.log().Info("removed derived text after type visibility change",
			zap.Int64("document_type_id", next.ID), zap.Int("rows", len(removed)))
	}
	return removed, nil
}

// --- composite reads ---

type TypeStatsView struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	IsActive       bool   `json:"is_active"`
	PublicVisible  bool   `json:"public_visible"`
	PrivateVisible bool   `json:"private_visible"`
	DocumentCount  int    `json:"document_count"`
}

type CategoryStatsView struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Participant int64           `json:"participant"`
	Company     int64           `json:"company"`
	Types       []TypeStatsView `json:"types"`
}

func (s *Service) CategoryStats(ctx context.Context, filter store.CategoryFilter) ([]CategoryStatsView, error) {
	items, err := s.store.ListCategoriesWithTypes(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]CategoryStatsView, 0, len(items))
	for _, item := range items {
		view := CategoryStatsView{
			ID:          item.ID,
			Title:       item.Title,
			Participant: item.ParticipantID,
			Company:     item.Company,
			Types:       make([]TypeStatsView, 0, len(item.Types)),
		}
		for _, t := range item.Types {
			view.Types = append(view.Types, TypeStatsView{
				ID:             t.ID,
				Title:          t.Title,
				IsActive:       t.IsActive,
				PublicVisible:  t.PublicVisible,
				PrivateVisible: t.PrivateVisible,
				DocumentCount:  t.DocumentCount,
			})
		}
		views = append(views, view)
	}
	return views, nil
}

func derefTypes(types *[]TypeInput) []TypeInput {
	if types == nil {
		return nil
	}
	return *types
}
