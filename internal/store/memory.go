package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tracos/syncbridge/internal/schema"
)

// MemoryStore keeps records in process memory. Used for tests and dry runs.
type MemoryStore struct {
	mu        sync.Mutex
	connected bool
	byNumber  map[int64]schema.TracOSWorkorder
	log       zerolog.Logger
	opts      Options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts Options) *MemoryStore {
	opts = opts.withDefaults()
	return &MemoryStore{
		byNumber: map[int64]schema.TracOSWorkorder{},
		log:      opts.Logger.With().Str("cmp", "store").Str("backend", "memory").Logger(),
		opts:     opts,
	}
}

func (m *MemoryStore) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MemoryStore) Disconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryStore) Unsynced(context.Context) ([]schema.TracOSWorkorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}

	var out []schema.TracOSWorkorder
	for _, wo := range m.byNumber {
		if !wo.Synced() {
			out = append(out, clone(wo))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (m *MemoryStore) Upsert(_ context.Context, wo schema.TracOSWorkorder) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return UpsertResult{}, ErrNotConnected
	}

	existing, ok := m.byNumber[wo.Number]
	if ok {
		wo.ID = existing.ID
		if wo.IsSynced == nil {
			wo.IsSynced = existing.IsSynced
		}
		if wo.SyncedAt == nil {
			wo.SyncedAt = existing.SyncedAt
		}
		m.byNumber[wo.Number] = clone(wo)
		return UpsertResult{ID: wo.ID}, nil
	}

	if wo.ID == "" {
		wo.ID = schema.NewDocumentID()
	}
	m.byNumber[wo.Number] = clone(wo)
	return UpsertResult{ID: wo.ID, Created: true}, nil
}

func (m *MemoryStore) MarkSynced(_ context.Context, id schema.DocumentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}

	for number, wo := range m.byNumber {
		if wo.ID != id {
			continue
		}
		synced := true
		now := m.opts.Now().UTC()
		wo.IsSynced = &synced
		wo.SyncedAt = &now
		m.byNumber[number] = wo
		return nil
	}
	m.log.Warn().Str("id", id.String()).Msg("no workorder matched, nothing marked as synced")
	return nil
}

func (m *MemoryStore) Get(_ context.Context, number int64) (schema.TracOSWorkorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return schema.TracOSWorkorder{}, ErrNotConnected
	}
	wo, ok := m.byNumber[number]
	if !ok {
		return schema.TracOSWorkorder{}, ErrNotFound
	}
	return clone(wo), nil
}

func (m *MemoryStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, ErrNotConnected
	}
	return int64(len(m.byNumber)), nil
}

// clone copies the pointer fields so callers cannot mutate stored state.
func clone(wo schema.TracOSWorkorder) schema.TracOSWorkorder {
	if wo.DeletedAt != nil {
		t := *wo.DeletedAt
		wo.DeletedAt = &t
	}
	if wo.IsSynced != nil {
		b := *wo.IsSynced
		wo.IsSynced = &b
	}
	if wo.SyncedAt != nil {
		t := *wo.SyncedAt
		wo.SyncedAt = &t
	}
	return wo
}
