package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/bcnelson/ipauth-sync/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Ensure Store implements storage.Storage.
var _ storage.Storage = (*Store)(nil)

// New creates a new SQL store.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(gooseDialect(driver)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// gooseDialect maps a database/sql driver name to its migration dialect.
func gooseDialect(driver string) string {
	if driver == "sqlite" {
		return "sqlite3"
	}
	return driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// cycleRow is the flattened form of a CycleReport; address lists are
// stored comma-joined.
type cycleRow struct {
	ID         string     `db:"id"`
	Kind       string     `db:"kind"`
	Status     string     `db:"status"`
	Resolved   string     `db:"resolved"`
	Added      string     `db:"added"`
	Removed    string     `db:"removed"`
	Created    int        `db:"created"`
	Revoked    int        `db:"revoked"`
	Adopted    int        `db:"adopted"`
	Failures   int        `db:"failures"`
	Error      string     `db:"error"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

const cycleColumns = `id, kind, status, resolved, added, removed, created, revoked, adopted, failures, error, started_at, finished_at`

func joinAddresses(addrs []string) string {
	return strings.Join(addrs, ",")
}

func splitAddresses(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func (r *cycleRow) toDomain() *domain.CycleReport {
	return &domain.CycleReport{
		ID:         r.ID,
		Kind:       domain.CycleKind(r.Kind),
		Status:     r.Status,
		Resolved:   splitAddresses(r.Resolved),
		Added:      splitAddresses(r.Added),
		Removed:    splitAddresses(r.Removed),
		Created:    r.Created,
		Revoked:    r.Revoked,
		Adopted:    r.Adopted,
		Failures:   r.Failures,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// ============================================
// Cycles
// ============================================

func createCycle(ctx context.Context, db dbInterface, c *domain.CycleReport) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO cycles (`+cycleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, string(c.Kind), c.Status,
		joinAddresses(c.Resolved), joinAddresses(c.Added), joinAddresses(c.Removed),
		c.Created, c.Revoked, c.Adopted, c.Failures, c.Error, c.StartedAt, c.FinishedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateCycle(ctx context.Context, c *domain.CycleReport) error {
	return createCycle(ctx, s.db, c)
}

func (t *Tx) CreateCycle(ctx context.Context, c *domain.CycleReport) error {
	return createCycle(ctx, t.tx, c)
}

func getCycle(ctx context.Context, db dbInterface, id string) (*domain.CycleReport, error) {
	var row cycleRow
	err := db.GetContext(ctx, &row, `SELECT `+cycleColumns+` FROM cycles WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetCycle(ctx context.Context, id string) (*domain.CycleReport, error) {
	return getCycle(ctx, s.db, id)
}

func (t *Tx) GetCycle(ctx context.Context, id string) (*domain.CycleReport, error) {
	return getCycle(ctx, t.tx, id)
}

func getLatestCycle(ctx context.Context, db dbInterface) (*domain.CycleReport, error) {
	var row cycleRow
	err := db.GetContext(ctx, &row, `SELECT `+cycleColumns+` FROM cycles ORDER BY started_at DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetLatestCycle(ctx context.Context) (*domain.CycleReport, error) {
	return getLatestCycle(ctx, s.db)
}

func (t *Tx) GetLatestCycle(ctx context.Context) (*domain.CycleReport, error) {
	return getLatestCycle(ctx, t.tx)
}

func listCycles(ctx context.Context, db dbInterface, limit, offset int) ([]*domain.CycleReport, error) {
	var rows []cycleRow
	err := db.SelectContext(ctx, &rows,
		`SELECT `+cycleColumns+` FROM cycles ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	cycles := make([]*domain.CycleReport, 0, len(rows))
	for i := range rows {
		cycles = append(cycles, rows[i].toDomain())
	}
	return cycles, nil
}

func (s *Store) ListCycles(ctx context.Context, limit, offset int) ([]*domain.CycleReport, error) {
	return listCycles(ctx, s.db, limit, offset)
}

func (t *Tx) ListCycles(ctx context.Context, limit, offset int) ([]*domain.CycleReport, error) {
	return listCycles(ctx, t.tx, limit, offset)
}

// ============================================
// Authorization events
// ============================================

func createEvent(ctx context.Context, db dbInterface, ev *domain.AuthorizationEvent) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO authorization_events (id, cycle_id, action, address, authorization_id, success, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.CycleID, ev.Action, ev.Address, ev.AuthorizationID, ev.Success, ev.Error, ev.CreatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateEvent(ctx context.Context, ev *domain.AuthorizationEvent) error {
	return createEvent(ctx, s.db, ev)
}

func (t *Tx) CreateEvent(ctx context.Context, ev *domain.AuthorizationEvent) error {
	return createEvent(ctx, t.tx, ev)
}

func listEvents(ctx context.Context, db dbInterface, cycleID string) ([]*domain.AuthorizationEvent, error) {
	events := []*domain.AuthorizationEvent{}
	err := db.SelectContext(ctx, &events,
		`SELECT id, cycle_id, action, address, authorization_id, success, error, created_at
		 FROM authorization_events WHERE cycle_id = $1 ORDER BY created_at, id`, cycleID)
	return events, err
}

func (s *Store) ListEvents(ctx context.Context, cycleID string) ([]*domain.AuthorizationEvent, error) {
	return listEvents(ctx, s.db, cycleID)
}

func (t *Tx) ListEvents(ctx context.Context, cycleID string) ([]*domain.AuthorizationEvent, error) {
	return listEvents(ctx, t.tx, cycleID)
}
