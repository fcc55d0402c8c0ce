package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction names a sync pass.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Stage names the step a record failed at.
type Stage string

const (
	StageRead      Stage = "read"
	StageTranslate Stage = "translate"
	StageUpsert    Stage = "upsert"
	StageSave      Stage = "save"
	StageMark      Stage = "mark"
)

// RecordError is a per-record failure. It never aborts a pass.
type RecordError struct {
	// Key is the work-order number (orderNo inbound, number outbound).
	Key   int64
	Path  string
	Stage Stage
	Err   error
}

func (e RecordError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("workorder %d (%s): %s: %v", e.Key, e.Path, e.Stage, e.Err)
	}
	return fmt.Sprintf("workorder %d: %s: %v", e.Key, e.Stage, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Report summarises one pass.
type Report struct {
	RunID     string
	Direction Direction

	// Total is the number of records the pass picked up.
	Total int
	// Translated counts records that translated cleanly.
	Translated int
	// Written counts upserts (inbound) or saved files (outbound).
	Written int
	// Marked counts records flagged as synced (outbound only).
	Marked int
	// Failed counts records with at least one failed stage.
	Failed int

	Errors   []RecordError
	Duration time.Duration
}

func (r *Report) fail(key int64, path string, stage Stage, err error) {
	rec := RecordError{Key: key, Path: path, Stage: stage, Err: err}
	seen := false
	for _, prev := range r.Errors {
		if prev.sameRecord(rec) {
			seen = true
			break
		}
	}
	r.Errors = append(r.Errors, rec)
	if !seen {
		r.Failed++
	}
}

// sameRecord compares by key; files rejected before a key was known compare
// by path.
func (e RecordError) sameRecord(o RecordError) bool {
	if e.Key != 0 || o.Key != 0 {
		return e.Key == o.Key
	}
	return e.Path == o.Path
}

// RunReport summarises both passes of a Run.
type RunReport struct {
	RunID       string
	Inbound     Report
	InboundErr  error
	Outbound    Report
	OutboundErr error
}

// OK reports whether neither pass failed as a whole.
func (r RunReport) OK() bool {
	return r.InboundErr == nil && r.OutboundErr == nil
}

type runIDKey struct{}

// WithRunID tags ctx so that passes started under it share the run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id carried by ctx, or a new one.
func RunIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
