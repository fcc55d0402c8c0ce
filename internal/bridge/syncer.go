// Package bridge runs the sync passes between the customer files and the
// TracOS store.
//
// Inbound: customer files are translated and upserted into the store.
// Outbound: unsynced store records are translated, written as customer files
// and marked as synced.
//
// Per-record failures are logged, collected in the pass Report and never stop
// the pass. Only failures to reach either side abort a pass.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tracos/syncbridge/internal/customer"
	"github.com/tracos/syncbridge/internal/schema"
	"github.com/tracos/syncbridge/internal/store"
	"github.com/tracos/syncbridge/internal/translate"
)

// MarkPolicy decides which outbound records get marked as synced.
type MarkPolicy string

const (
	// MarkAlways marks every fetched record, even when its translation or
	// file write failed.
	MarkAlways MarkPolicy = "always"

	// MarkOnSave marks only records whose file was written. Failed records
	// stay unsynced and are picked up by the next pass.
	MarkOnSave MarkPolicy = "on-save"
)

// ParseMarkPolicy accepts "always" and "on-save" (case-insensitive).
func ParseMarkPolicy(s string) (MarkPolicy, error) {
	switch MarkPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MarkAlways:
		return MarkAlways, nil
	case MarkOnSave, "on_save", "onsave":
		return MarkOnSave, nil
	default:
		return "", fmt.Errorf("unknown mark policy %q (want %q or %q)", s, MarkAlways, MarkOnSave)
	}
}

// Records is the customer side of a pass.
type Records interface {
	ListInbound(ctx context.Context) ([]customer.InboundRecord, error)
	Save(ctx context.Context, c schema.CustomerWorkorder) (string, error)
}

// Options configures a Syncer.
type Options struct {
	MarkPolicy MarkPolicy
	Logger     zerolog.Logger
}

// Syncer runs sync passes. Passes on the same Syncer never overlap.
type Syncer struct {
	store      store.Store
	records    Records
	translator *translate.Translator
	policy     MarkPolicy
	log        zerolog.Logger

	mu sync.Mutex
}

// New wires a Syncer. The store is connected and disconnected by every pass.
func New(st store.Store, records Records, tr *translate.Translator, opts Options) *Syncer {
	if opts.MarkPolicy == "" {
		opts.MarkPolicy = MarkAlways
	}
	return &Syncer{
		store:      st,
		records:    records,
		translator: tr,
		policy:     opts.MarkPolicy,
		log:        opts.Logger.With().Str("cmp", "sync").Logger(),
	}
}

// Run performs the inbound pass and then the outbound pass. A failed pass is
// logged and reported; it does not prevent the other pass from running.
func (s *Syncer) Run(ctx context.Context) RunReport {
	runID := RunIDFrom(ctx)
	ctx = WithRunID(ctx, runID)
	rep := RunReport{RunID: runID}

	rep.Inbound, rep.InboundErr = s.Inbound(ctx)
	if rep.InboundErr != nil {
		s.log.Error().Err(rep.InboundErr).Str("run", runID).Msg("inbound sync failed")
	}

	rep.Outbound, rep.OutboundErr = s.Outbound(ctx)
	if rep.OutboundErr != nil {
		s.log.Error().Err(rep.OutboundErr).Str("run", runID).Msg("outbound sync failed")
	}

	return rep
}

// Inbound reads customer files and upserts them into the store.
func (s *Syncer) Inbound(ctx context.Context) (rep Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep = Report{RunID: RunIDFrom(ctx), Direction: Inbound}
	log := s.log.With().Str("run", rep.RunID).Str("direction", string(Inbound)).Logger()
	start := time.Now()
	defer func() { rep.Duration = time.Since(start) }()

	log.Info().Msg("starting inbound sync")

	if err := s.store.Connect(ctx); err != nil {
		return rep, fmt.Errorf("connect store: %w", err)
	}
	defer s.disconnect(ctx, log)

	records, err := s.records.ListInbound(ctx)
	if err != nil {
		return rep, fmt.Errorf("list inbound workorders: %w", err)
	}
	rep.Total = len(records)
	if rep.Total == 0 {
		log.Info().Msg("no inbound workorders to process")
		return rep, nil
	}

	translated := make([]schema.TracOSWorkorder, 0, len(records))
	for _, rec := range records {
		if rec.Rejected() {
			rep.fail(rec.Workorder.OrderNo, rec.Path, StageRead, rec.Err)
			continue
		}
		wo, err := s.translator.CustomerToTracOS(rec.Workorder)
		if err != nil {
			log.Warn().Err(err).Int64("orderNo", rec.Workorder.OrderNo).Str("file", rec.Path).Msg("failed to translate inbound workorder")
			rep.fail(rec.Workorder.OrderNo, rec.Path, StageTranslate, err)
			continue
		}
		rep.Translated++
		translated = append(translated, wo)
	}

	for _, wo := range translated {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := s.store.Upsert(ctx, wo)
		if err != nil {
			log.Warn().Err(err).Int64("number", wo.Number).Msg("failed to upsert workorder")
			rep.fail(wo.Number, "", StageUpsert, err)
			continue
		}
		rep.Written++
		log.Debug().Int64("number", wo.Number).Str("id", res.ID.String()).Bool("created", res.Created).Msg("upserted workorder")
	}

	log.Info().
		Int("processed", rep.Written).
		Int("total", rep.Total).
		Int("failed", rep.Failed).
		Msg("inbound sync complete")
	return rep, nil
}

// Outbound writes unsynced store records as customer files and marks them
// according to the mark policy.
func (s *Syncer) Outbound(ctx context.Context) (rep Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep = Report{RunID: RunIDFrom(ctx), Direction: Outbound}
	log := s.log.With().Str("run", rep.RunID).Str("direction", string(Outbound)).Logger()
	start := time.Now()
	defer func() { rep.Duration = time.Since(start) }()

	log.Info().Str("mark_policy", string(s.policy)).Msg("starting outbound sync")

	if err := s.store.Connect(ctx); err != nil {
		return rep, fmt.Errorf("connect store: %w", err)
	}
	defer s.disconnect(ctx, log)

	unsynced, err := s.store.Unsynced(ctx)
	if err != nil {
		return rep, fmt.Errorf("fetch unsynced workorders: %w", err)
	}
	rep.Total = len(unsynced)
	if rep.Total == 0 {
		log.Info().Msg("no unsynced workorders to process")
		return rep, nil
	}

	type outgoing struct {
		number int64
		record schema.CustomerWorkorder
	}
	translated := make([]outgoing, 0, len(unsynced))

	for _, wo := range unsynced {
		c, err := s.translator.TracOSToCustomer(wo)
		if err != nil {
			log.Warn().Err(err).Int64("number", wo.Number).Msg("failed to translate outbound workorder")
			rep.fail(wo.Number, "", StageTranslate, err)
			continue
		}
		rep.Translated++
		translated = append(translated, outgoing{number: wo.Number, record: c})
	}

	saved := make(map[int64]bool, len(translated))
	for _, out := range translated {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		path, err := s.records.Save(ctx, out.record)
		if err != nil {
			log.Warn().Err(err).Int64("number", out.number).Msg("failed to write outbound workorder")
			rep.fail(out.number, path, StageSave, err)
			continue
		}
		saved[out.number] = true
		rep.Written++
		log.Debug().Int64("number", out.number).Str("file", path).Msg("wrote outbound workorder")
	}

	for _, wo := range unsynced {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if s.policy == MarkOnSave && !saved[wo.Number] {
			log.Info().Int64("number", wo.Number).Msg("leaving workorder unsynced for retry")
			continue
		}
		if err := s.store.MarkSynced(ctx, wo.ID); err != nil {
			log.Warn().Err(err).Int64("number", wo.Number).Msg("failed to mark workorder as synced")
			rep.fail(wo.Number, "", StageMark, err)
			continue
		}
		rep.Marked++
	}

	log.Info().
		Int("processed", rep.Written).
		Int("marked", rep.Marked).
		Int("total", rep.Total).
		Int("failed", rep.Failed).
		Msg("outbound sync complete")
	return rep, nil
}

func (s *Syncer) disconnect(ctx context.Context, log zerolog.Logger) {
	if err := s.store.Disconnect(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("failed to disconnect store")
	}
}
