// Package store persists TracOS work orders and tracks their sync state.
//
// Every backend implements Store with the same semantics:
//   - records are keyed by their natural key, Number
//   - Upsert preserves the identity of an existing record
//   - a record is unsynced when isSynced is false or absent
//   - MarkSynced on an unknown identity logs a warning and succeeds
//
// Backends are selected by DSN scheme through Open:
//
//	mongodb://, mongodb+srv://   MongoStore
//	sqlite://, file:             SQLStore (embedded SQLite, WAL)
//	postgres://, postgresql://   SQLStore (PostgreSQL)
//	memory://                    MemoryStore
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tracos/syncbridge/internal/schema"
)

var (
	// ErrConnection marks failures to reach or keep a connection to the store.
	ErrConnection = errors.New("store connection failure")

	// ErrNotFound is returned by Get when no record has the requested number.
	ErrNotFound = errors.New("workorder not found")

	// ErrNotConnected is returned by operations issued before Connect.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrConnection)
)

// Store is the TracOS side of the bridge.
type Store interface {
	// Connect opens the connection and verifies it is alive. It is a no-op
	// when the store is already connected.
	Connect(ctx context.Context) error

	// Disconnect releases the connection. Safe to call when never connected.
	Disconnect(ctx context.Context) error

	// Unsynced returns every record whose isSynced is false or absent,
	// ordered by createdAt then number. A record that cannot be decoded is
	// still returned, with DecodeErr set.
	Unsynced(ctx context.Context) ([]schema.TracOSWorkorder, error)

	// Upsert stores wo under its number. An existing record keeps its
	// identity and has its other fields replaced.
	Upsert(ctx context.Context, wo schema.TracOSWorkorder) (UpsertResult, error)

	// MarkSynced sets isSynced=true and syncedAt=now on the record with id.
	MarkSynced(ctx context.Context, id schema.DocumentID) error

	// Get returns the record with the given number or ErrNotFound.
	Get(ctx context.Context, number int64) (schema.TracOSWorkorder, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
}

// Reconnector is implemented by stores that can re-establish a dropped
// connection in place.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// UpsertResult reports the identity the record was stored under.
type UpsertResult struct {
	ID      schema.DocumentID
	Created bool
}

// Options configures a backend.
type Options struct {
	// Database is the document-store database name (mongo only).
	Database string

	// Collection names the collection or table holding work orders.
	Collection string

	Logger zerolog.Logger

	// Now overrides the clock used for syncedAt.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Database == "" {
		o.Database = "tractian"
	}
	if o.Collection == "" {
		o.Collection = "workorders"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// IsConnectionError reports whether err means the connection itself failed,
// as opposed to a bad query or a missing record.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnection) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		mongo.IsNetworkError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection")
}

func connectionError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrConnection, err)
}

// Factory builds a Store from a DSN.
type Factory func(dsn string, opts Options) (Store, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

// RegisterFactory makes Open dispatch scheme to f, overriding the built-in
// backend for that scheme.
func RegisterFactory(scheme string, f Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || f == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = f
}

func lookupFactory(scheme string) (Factory, bool) {
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	f, ok := factoryRegistry.factories[normalizeScheme(scheme)]
	return f, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// Open builds the backend for dsn. The returned store is not connected.
func Open(dsn string, opts Options) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("store dsn is empty")
	}
	opts = opts.withDefaults()

	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse store dsn: %w", err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if f, ok := lookupFactory(scheme); ok {
		return f(dsn, opts)
	}

	switch scheme {
	case "mongodb", "mongodb+srv":
		return NewMongoStore(dsn, opts), nil
	case "sqlite", "sqlite3", "file":
		path := dsnPath(parsed)
		if path == "" {
			return nil, fmt.Errorf("sqlite dsn %q has no path", dsn)
		}
		return NewSQLiteStore(path, opts)
	case "postgres", "postgresql":
		return NewPostgresStore(dsn, opts)
	case "memory", "mem":
		return NewMemoryStore(opts), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme: %q", scheme)
	}
}

// dsnPath extracts a filesystem path from sqlite://rel.db, sqlite:///abs.db
// and sqlite:rel.db forms.
func dsnPath(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Host + u.Path
}
