// Package translate maps work orders between the TracOS and customer shapes.
package translate

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tracos/syncbridge/internal/dates"
	"github.com/tracos/syncbridge/internal/schema"
)

// Translator converts records in both directions. It is stateless apart from
// its logger and safe for concurrent use.
type Translator struct {
	log zerolog.Logger
}

// New returns a Translator that logs through l.
func New(l zerolog.Logger) *Translator {
	return &Translator{
		log: l.With().Str("cmp", "translator").Logger(),
	}
}

// TracOSToCustomer converts a TracOS record into the customer shape.
//
// number, status and createdAt are required. An unknown status yields all
// status flags false. lastUpdateDate falls back to creationDate when the
// record has no updatedAt.
func (t *Translator) TracOSToCustomer(wo schema.TracOSWorkorder) (schema.CustomerWorkorder, error) {
	if err := wo.Validate(); err != nil {
		t.log.Error().Err(err).Int64("number", wo.Number).Msg("tracos workorder failed validation")
		return schema.CustomerWorkorder{}, err
	}

	if !wo.Status.Known() {
		t.log.Warn().Int64("number", wo.Number).Str("status", string(wo.Status)).Msg("unknown status, all flags cleared")
	}

	created := dates.FormatISO(wo.CreatedAt)
	updated := created
	if !wo.UpdatedAt.IsZero() {
		updated = dates.FormatISO(wo.UpdatedAt)
	}

	c := schema.CustomerWorkorder{
		OrderNo:        wo.Number,
		IsActive:       wo.Status == schema.StatusInProgress,
		IsCanceled:     wo.Status == schema.StatusCancelled,
		IsDeleted:      wo.Deleted,
		IsDone:         wo.Status == schema.StatusCompleted,
		IsOnHold:       wo.Status == schema.StatusOnHold,
		IsPending:      wo.Status == schema.StatusPending,
		IsSynced:       false,
		Summary:        wo.Description,
		CreationDate:   created,
		LastUpdateDate: updated,
		DeletedDate:    dates.FormatISOPtr(wo.DeletedAt),
	}

	t.log.Debug().Int64("number", wo.Number).Msg("translated tracos workorder to customer format")
	return c, nil
}

// CustomerToTracOS converts a customer record into a new TracOS record with a
// fresh identity and isSynced=false.
//
// Status precedence: canceled, done, on hold, active, otherwise pending.
func (t *Translator) CustomerToTracOS(c schema.CustomerWorkorder) (schema.TracOSWorkorder, error) {
	if err := c.Validate(); err != nil {
		t.log.Error().Err(err).Msg("customer workorder failed validation")
		return schema.TracOSWorkorder{}, err
	}

	created, err := dates.Normalize(c.CreationDate)
	if err != nil {
		return schema.TracOSWorkorder{}, t.dateError(c.OrderNo, "creationDate", err)
	}
	updated, err := dates.Normalize(c.LastUpdateDate)
	if err != nil {
		return schema.TracOSWorkorder{}, t.dateError(c.OrderNo, "lastUpdateDate", err)
	}

	var deletedAt *time.Time
	if c.DeletedDate != nil && *c.DeletedDate != "" {
		d, err := dates.Normalize(*c.DeletedDate)
		if err != nil {
			return schema.TracOSWorkorder{}, t.dateError(c.OrderNo, "deletedDate", err)
		}
		deletedAt = &d
	}

	synced := false
	wo := schema.TracOSWorkorder{
		ID:          schema.NewDocumentID(),
		Number:      c.OrderNo,
		Status:      StatusFromFlags(c),
		Title:       c.Summary,
		Description: c.Summary,
		CreatedAt:   created,
		UpdatedAt:   updated,
		Deleted:     c.IsDeleted,
		DeletedAt:   deletedAt,
		IsSynced:    &synced,
	}

	t.log.Debug().Int64("orderNo", c.OrderNo).Str("status", string(wo.Status)).Msg("translated customer workorder to tracos format")
	return wo, nil
}

// StatusFromFlags resolves the customer flag set into a single status.
func StatusFromFlags(c schema.CustomerWorkorder) schema.Status {
	switch {
	case c.IsCanceled:
		return schema.StatusCancelled
	case c.IsDone:
		return schema.StatusCompleted
	case c.IsOnHold:
		return schema.StatusOnHold
	case c.IsActive:
		return schema.StatusInProgress
	default:
		return schema.StatusPending
	}
}

func (t *Translator) dateError(orderNo int64, field string, err error) error {
	t.log.Error().Err(err).Int64("orderNo", orderNo).Str("field", field).Msg("invalid date")
	return fmt.Errorf("translate customer workorder %d: %s: %w", orderNo, field, err)
}
