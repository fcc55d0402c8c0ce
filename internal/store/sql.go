package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"

	"github.com/tracos/syncbridge/internal/schema"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type dialect struct {
	name   string
	driver string
	// init runs once per freshly opened connection pool.
	init []string
	// opTimeout bounds every statement when non-zero.
	opTimeout time.Duration
}

var (
	sqliteDialect = dialect{
		name:   "sqlite",
		driver: "sqlite3",
		init: []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
		},
	}
	postgresDialect = dialect{
		name:      "postgres",
		driver:    "postgres",
		opTimeout: 5 * time.Second,
	}
)

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore keeps work orders in a relational table, one row per record.
// It serves both the embedded SQLite and the PostgreSQL backends.
type SQLStore struct {
	dialect dialect
	dsn     string
	table   string
	openDB  sqlOpenFunc
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	db       *sql.DB
	injected bool
	ready    bool
}

var (
	_ Store       = (*SQLStore)(nil)
	_ Reconnector = (*SQLStore)(nil)
)

// NewSQLiteStore returns a store backed by the SQLite file at path.
// The parent directory is created on Connect.
func NewSQLiteStore(path string, opts Options) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is empty")
	}
	return newSQLStore(sqliteDialect, "file:"+path, opts)
}

// NewPostgresStore returns a store backed by the PostgreSQL database at dsn.
func NewPostgresStore(dsn string, opts Options) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	return newSQLStore(postgresDialect, dsn, opts)
}

// NewSQLStoreWithDB wraps an already open database. Disconnect leaves db open.
func NewSQLStoreWithDB(db *sql.DB, driverName string, opts Options) (*SQLStore, error) {
	d := sqliteDialect
	if driverName == "postgres" {
		d = postgresDialect
	}
	s, err := newSQLStore(d, "", opts)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.injected = true
	return s, nil
}

func newSQLStore(d dialect, dsn string, opts Options) (*SQLStore, error) {
	opts = opts.withDefaults()
	if !identRe.MatchString(opts.Collection) {
		return nil, fmt.Errorf("invalid table name %q", opts.Collection)
	}
	return &SQLStore{
		dialect: d,
		dsn:     dsn,
		table:   opts.Collection,
		openDB:  sql.Open,
		log:     opts.Logger.With().Str("cmp", "store").Str("backend", d.name).Logger(),
		now:     opts.Now,
	}, nil
}

// Connect opens the pool, checks it with a ping and creates the table.
func (s *SQLStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		db, err := s.open(ctx)
		if err != nil {
			return err
		}
		s.db = db
		s.ready = false
	} else if err := s.db.PingContext(ctx); err != nil {
		return connectionError("ping "+s.dialect.name, err)
	}

	if !s.ready {
		if err := s.initSchema(ctx); err != nil {
			return err
		}
		s.ready = true
	}
	return nil
}

func (s *SQLStore) open(ctx context.Context) (*sql.DB, error) {
	if s.dialect.name == "sqlite" {
		path := strings.TrimPrefix(s.dsn, "file:")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := s.openDB(s.dialect.driver, s.dsn)
	if err != nil {
		return nil, connectionError("open "+s.dialect.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, connectionError("ping "+s.dialect.name, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	for _, stmt := range s.dialect.init {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run %q: %w", stmt, err)
		}
	}

	s.log.Debug().Msg("connected")
	return db, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	t := quoteIdent(s.table)
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		number BIGINT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT,
		updated_at TEXT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TEXT,
		is_synced BOOLEAN,
		synced_at TEXT
	);

	CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (is_synced, created_at, number);
	`, t, quoteIdent("idx_"+s.table+"_sync"))

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Reconnect drops the pool and opens a new one. An injected database is
// only pinged.
func (s *SQLStore) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.injected && s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	s.mu.Unlock()
	return s.Connect(ctx)
}

// Disconnect closes the pool unless it was supplied by the caller.
func (s *SQLStore) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil || s.injected {
		return nil
	}
	if s.dialect.name == "sqlite" {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.log.Warn().Err(err).Msg("failed to checkpoint WAL")
		}
	}
	err := s.db.Close()
	s.db = nil
	s.ready = false
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (s *SQLStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || !s.ready {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

func (s *SQLStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.dialect.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.dialect.opTimeout)
}

const selectColumns = `id, number, status, title, description, created_at, updated_at,
	deleted, deleted_at, is_synced, synced_at`

func (s *SQLStore) Unsynced(ctx context.Context) ([]schema.TracOSWorkorder, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s
	WHERE is_synced IS NULL OR is_synced = FALSE
	ORDER BY created_at, number`, selectColumns, quoteIdent(s.table))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced workorders: %w", err)
	}
	defer rows.Close()

	return scanWorkorders(rows)
}

func (s *SQLStore) Upsert(ctx context.Context, wo schema.TracOSWorkorder) (UpsertResult, error) {
	db, err := s.conn()
	if err != nil {
		return UpsertResult{}, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t := quoteIdent(s.table)
	var existing string
	err = tx.QueryRowContext(ctx, s.dialect.rebind(fmt.Sprintf(`SELECT id FROM %s WHERE number = ?`, t)), wo.Number).Scan(&existing)

	var result UpsertResult
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if wo.ID == "" {
			wo.ID = schema.NewDocumentID()
		}
		query := fmt.Sprintf(`
		INSERT INTO %s (
			id, number, status, title, description, created_at, updated_at,
			deleted, deleted_at, is_synced, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, t)
		_, err = tx.ExecContext(ctx, s.dialect.rebind(query),
			string(wo.ID),
			wo.Number,
			string(wo.Status),
			wo.Title,
			wo.Description,
			timeToNullString(wo.CreatedAt),
			timeToNullString(wo.UpdatedAt),
			wo.Deleted,
			timePtrToNullString(wo.DeletedAt),
			boolPtrToNull(wo.IsSynced),
			timePtrToNullString(wo.SyncedAt),
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("failed to insert workorder %d: %w", wo.Number, err)
		}
		result = UpsertResult{ID: wo.ID, Created: true}

	case err != nil:
		return UpsertResult{}, fmt.Errorf("failed to look up workorder %d: %w", wo.Number, err)

	default:
		query := fmt.Sprintf(`
		UPDATE %s SET
			status = ?,
			title = ?,
			description = ?,
			created_at = ?,
			updated_at = ?,
			deleted = ?,
			deleted_at = ?,
			is_synced = COALESCE(?, is_synced),
			synced_at = COALESCE(?, synced_at)
		WHERE id = ?`, t)
		_, err = tx.ExecContext(ctx, s.dialect.rebind(query),
			string(wo.Status),
			wo.Title,
			wo.Description,
			timeToNullString(wo.CreatedAt),
			timeToNullString(wo.UpdatedAt),
			wo.Deleted,
			timePtrToNullString(wo.DeletedAt),
			boolPtrToNull(wo.IsSynced),
			timePtrToNullString(wo.SyncedAt),
			existing,
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("failed to update workorder %d: %w", wo.Number, err)
		}
		result = UpsertResult{ID: schema.DocumentID(existing)}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func (s *SQLStore) MarkSynced(ctx context.Context, id schema.DocumentID) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET is_synced = TRUE, synced_at = ? WHERE id = ?`, quoteIdent(s.table))
	res, err := db.ExecContext(ctx, s.dialect.rebind(query), timeToNullString(s.now()), string(id))
	if err != nil {
		return fmt.Errorf("failed to mark workorder %s as synced: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.log.Warn().Str("id", id.String()).Msg("no workorder matched, nothing marked as synced")
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, number int64) (schema.TracOSWorkorder, error) {
	db, err := s.conn()
	if err != nil {
		return schema.TracOSWorkorder{}, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE number = ?`, selectColumns, quoteIdent(s.table))
	rows, err := db.QueryContext(ctx, s.dialect.rebind(query), number)
	if err != nil {
		return schema.TracOSWorkorder{}, fmt.Errorf("failed to get workorder %d: %w", number, err)
	}
	defer rows.Close()

	list, err := scanWorkorders(rows)
	if err != nil {
		return schema.TracOSWorkorder{}, err
	}
	if len(list) == 0 {
		return schema.TracOSWorkorder{}, ErrNotFound
	}
	return list[0], nil
}

func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var n int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(s.table))).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count workorders: %w", err)
	}
	return n, nil
}

func scanWorkorders(rows *sql.Rows) ([]schema.TracOSWorkorder, error) {
	var out []schema.TracOSWorkorder
	for rows.Next() {
		var (
			wo                   schema.TracOSWorkorder
			id, status           string
			createdAt, updatedAt sql.NullString
			deletedAt, syncedAt  sql.NullString
			isSynced             sql.NullBool
		)
		if err := rows.Scan(
			&id, &wo.Number, &status, &wo.Title, &wo.Description,
			&createdAt, &updatedAt, &wo.Deleted, &deletedAt, &isSynced, &syncedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan workorder: %w", err)
		}
		wo.ID = schema.DocumentID(id)
		wo.Status = schema.Status(status)
		wo.CreatedAt = nullStringToTime(createdAt)
		wo.UpdatedAt = nullStringToTime(updatedAt)
		wo.DeletedAt = nullStringToTimePtr(deletedAt)
		wo.SyncedAt = nullStringToTimePtr(syncedAt)
		if isSynced.Valid {
			b := isSynced.Bool
			wo.IsSynced = &b
		}
		out = append(out, wo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workorders: %w", err)
	}
	return out, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func timePtrToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return timeToNullString(*t)
}

func boolPtrToNull(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullStringToTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullStringToTimePtr(ns sql.NullString) *time.Time {
	t := nullStringToTime(ns)
	if t.IsZero() {
		return nil
	}
	return &t
}
