// Package schema defines the work-order records exchanged by the bridge.
//
// TracOSWorkorder is the document-store shape, keyed by Number.
// CustomerWorkorder is the JSON file shape used by the customer system,
// keyed by OrderNo. Both carry the same logical work order; translation
// between them lives in the translate package.
package schema

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status is the lifecycle state of a TracOS work order.
// Unknown values are carried as-is and never rejected on decode.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusOnHold     Status = "on_hold"
	StatusCancelled  Status = "cancelled"
)

// Known reports whether s is one of the five defined statuses.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusOnHold, StatusCancelled:
		return true
	}
	return false
}

// DocumentID is the opaque identity of a TracOS document.
type DocumentID string

// NewDocumentID returns a fresh 24-hex identity.
func NewDocumentID() DocumentID {
	return DocumentID(primitive.NewObjectID().Hex())
}

// ObjectID converts the identity to a BSON ObjectID when it is one.
func (id DocumentID) ObjectID() (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return primitive.NilObjectID, false
	}
	return oid, true
}

func (id DocumentID) String() string {
	return string(id)
}

// ErrMissingRequiredField is matched by every *MissingFieldError.
var ErrMissingRequiredField = errors.New("missing required field")

// MissingFieldError names the field a record was missing.
type MissingFieldError struct {
	Record string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s is required", e.Record, e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingRequiredField
}

// TracOSWorkorder is a work order as stored in TracOS.
type TracOSWorkorder struct {
	ID          DocumentID `json:"_id" bson:"_id"`
	Number      int64      `json:"number" bson:"number"`
	Status      Status     `json:"status" bson:"status"`
	Title       string     `json:"title" bson:"title"`
	Description string     `json:"description" bson:"description"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" bson:"updatedAt"`
	Deleted     bool       `json:"deleted" bson:"deleted"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty" bson:"deletedAt,omitempty"`

	// IsSynced is nil when the field is absent, which counts as unsynced.
	IsSynced *bool      `json:"isSynced,omitempty" bson:"isSynced,omitempty"`
	SyncedAt *time.Time `json:"syncedAt,omitempty" bson:"syncedAt,omitempty"`

	// DecodeErr is set on a stored record that could only be partly decoded.
	// Validate reports it.
	DecodeErr error `json:"-" bson:"-"`
}

// Synced reports whether the record has been delivered to the customer side.
func (w *TracOSWorkorder) Synced() bool {
	return w.IsSynced != nil && *w.IsSynced
}

// Validate checks the fields needed to translate the record outbound.
func (w *TracOSWorkorder) Validate() error {
	if w.DecodeErr != nil {
		return w.DecodeErr
	}
	if w.Number == 0 {
		return &MissingFieldError{Record: "tracos workorder", Field: "number"}
	}
	if w.Status == "" {
		return &MissingFieldError{Record: fmt.Sprintf("tracos workorder %d", w.Number), Field: "status"}
	}
	if w.CreatedAt.IsZero() {
		return &MissingFieldError{Record: fmt.Sprintf("tracos workorder %d", w.Number), Field: "createdAt"}
	}
	return nil
}

// CustomerWorkorder is a work order as exchanged with the customer system.
// Field order matches the files the customer system produces.
type CustomerWorkorder struct {
	OrderNo        int64   `json:"orderNo"`
	IsActive       bool    `json:"isActive"`
	IsCanceled     bool    `json:"isCanceled"`
	IsDeleted      bool    `json:"isDeleted"`
	IsDone         bool    `json:"isDone"`
	IsOnHold       bool    `json:"isOnHold"`
	IsPending      bool    `json:"isPending"`
	IsSynced       bool    `json:"isSynced"`
	Summary        string  `json:"summary"`
	CreationDate   string  `json:"creationDate"`
	LastUpdateDate string  `json:"lastUpdateDate"`
	DeletedDate    *string `json:"deletedDate"`
}

// Validate checks the fields needed to translate the record inbound.
func (c *CustomerWorkorder) Validate() error {
	if c.OrderNo == 0 {
		return &MissingFieldError{Record: "customer workorder", Field: "orderNo"}
	}
	return nil
}

// Filename returns the outbound file name: workorder_{orderNo}.json
func (c *CustomerWorkorder) Filename() string {
	return Filename(c.OrderNo)
}

// Filename returns the outbound file name for orderNo.
func Filename(orderNo int64) string {
	return fmt.Sprintf("workorder_%d.json", orderNo)
}
