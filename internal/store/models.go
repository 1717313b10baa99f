package store

import "time"

const (
	ParticipantActive     = "active"
	ParticipantInProgress = "in_progress"
	ParticipantNotActive  = "not_active"
)

func ValidParticipantStatus(status string) bool {
	switch status {
	case ParticipantActive, ParticipantInProgress, ParticipantNotActive:
		return true
	}
	return false
}

type Participant struct {
	ID        int64
	FirstName string
	LastName  string
	Status    string
	CreatedAt time.Time
}

type Category struct {
	ID            int64
	Company       int64
	ParticipantID int64
	Title         string
	IsDeleted     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type DocumentType struct {
	ID             int64
	CategoryID     int64
	Title          string
	PrivateVisible bool
	PublicVisible  bool
	IsActive       bool
	IsDeleted      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Visible reports whether either visibility flag is set.
func (t DocumentType) Visible() bool {
	return t.PublicVisible || t.PrivateVisible
}

// HoldsText reports whether documents of this type may carry extracted text.
func (t DocumentType) HoldsText() bool {
	return t.IsActive && t.Visible()
}

type Document struct {
	ID             int64
	Company        int64
	ParticipantID  int64
	DocumentTypeID int64
	File           string
	IsActive       bool
	IsDeleted      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UploadedText is the text extracted from an active document's PDF.
type UploadedText struct {
	ID             int64
	Text           string
	DocumentTypeID int64
	DocumentID     int64
	CreatedAt      time.Time
}

// TypeWithCount is a document type annotated with its non-deleted document count.
type TypeWithCount struct {
	DocumentType
	DocumentCount int
}

type CategoryWithTypes struct {
	Category
	Types []TypeWithCount
}

// Field-update structs: nil fields are left unchanged.

type CategoryFields struct {
	Company       *int64
	ParticipantID *int64
	Title         *string
}

type TypeFields struct {
	CategoryID     *int64
	Title          *string
	PrivateVisible *bool
	PublicVisible  *bool
	IsActive       *bool
}

type DocumentFields struct {
	Company        *int64
	ParticipantID  *int64
	DocumentTypeID *int64
	File           *string
	IsActive       *bool
}

type Page struct {
	Limit  int
	Offset int
}

type DocumentFilter struct {
	Company        *int64
	ParticipantID  *int64
	DocumentTypeID *int64
	IsActive       *bool
}

type CategoryFilter struct {
	ParticipantID *int64
	CategoryID    *int64
	HasActiveType bool
}
