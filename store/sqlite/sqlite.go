/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements perks.Backend (records, catalog, enrollments) plus the
  reminder delivery log using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  perks.TxStore:         Redemption records with transactions
  perks.CatalogStore:    Perk definitions
  perks.EnrollmentStore: Card enrollments (soft delete)
  api.DeliveryLog:       Reminder delivery dedupe

KEY TABLES:
  perk_definitions:    Read-mostly catalog
  card_enrollments:    User-to-card links, deleted_at for soft delete
  redemption_records:  The ledger
  reminder_deliveries: One row per delivered reminder

INDEXES:
  - idx_unique_cycle_redemption: (user, perk, cycle_reset_at) is unique,
    so a second row for the same cycle fails even if two writers pass
    the ledger's read-then-write check
  - idx_records_user_perk_reset: Active record lookups (hot path)
  - idx_records_user_redeemed: History windows

TIME FORMAT:
  Instants are stored in UTC with a fixed-width nanosecond layout so
  string comparison in SQL matches time order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for
  the whole transaction, which serializes read-then-write sequences.

USAGE:
  store, err := sqlite.New("./data/perks.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := perks.NewService(store, perks.Options{})

SEE ALSO:
  - perks/store.go: Interface definitions
  - perks/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/perk-engine/generic"
	"github.com/warp/perk-engine/perks"
)

// timeLayout sorts lexicographically in time order for UTC values.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// has a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Perk catalog
	CREATE TABLE IF NOT EXISTS perk_definitions (
		id TEXT PRIMARY KEY,
		card_product_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		unit TEXT NOT NULL,
		period_months INTEGER NOT NULL,
		reset_policy TEXT NOT NULL,
		category TEXT,
		providers_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_definitions_card
		ON perk_definitions(card_product_id);

	-- Card enrollments (soft delete via deleted_at)
	CREATE TABLE IF NOT EXISTS card_enrollments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		card_product_id TEXT NOT NULL,
		nickname TEXT,
		opened_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_user
		ON card_enrollments(user_id, deleted_at);

	-- Redemption ledger
	CREATE TABLE IF NOT EXISTS redemption_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		perk_definition_id TEXT NOT NULL,
		card_enrollment_id TEXT NOT NULL,
		redeemed_at TEXT NOT NULL,
		cycle_reset_at TEXT NOT NULL,
		status TEXT NOT NULL,
		value_redeemed TEXT NOT NULL,
		total_value TEXT NOT NULL,
		remaining_value TEXT NOT NULL,
		unit TEXT NOT NULL,
		parent_record_id TEXT,
		is_auto_redemption BOOLEAN DEFAULT FALSE,
		provider TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one row per user, perk and cycle
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_cycle_redemption
		ON redemption_records(user_id, perk_definition_id, cycle_reset_at);

	CREATE INDEX IF NOT EXISTS idx_records_user_perk_reset
		ON redemption_records(user_id, perk_definition_id, cycle_reset_at DESC);

	CREATE INDEX IF NOT EXISTS idx_records_user_redeemed
		ON redemption_records(user_id, redeemed_at);

	CREATE INDEX IF NOT EXISTS idx_records_card
		ON redemption_records(card_enrollment_id);

	-- Reminder deliveries (dispatcher dedupe)
	CREATE TABLE IF NOT EXISTS reminder_deliveries (
		user_id TEXT NOT NULL,
		period_months INTEGER NOT NULL,
		cycle_end TEXT NOT NULL,
		offset_days INTEGER NOT NULL,
		delivered_at TEXT NOT NULL,
		PRIMARY KEY (user_id, period_months, cycle_end, offset_days)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// REDEMPTION RECORDS (perks.Store interface)
// =============================================================================

const recordColumns = `id, user_id, perk_definition_id, card_enrollment_id, redeemed_at, cycle_reset_at,
	status, value_redeemed, total_value, remaining_value, unit, parent_record_id,
	is_auto_redemption, provider`

// InsertRecord writes one ledger row.
func (s *Store) InsertRecord(ctx context.Context, r perks.RedemptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return insertRecord(ctx, s.db, r)
}

func insertRecord(ctx context.Context, db execer, r perks.RedemptionRecord) error {
	query := `
		INSERT INTO redemption_records (` + recordColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		r.ID,
		r.UserID,
		r.PerkDefinitionID,
		r.CardEnrollmentID,
		formatTime(r.RedeemedAt),
		formatTime(r.CycleResetAt),
		r.Status,
		r.ValueRedeemed.Value.String(),
		r.TotalValue.Value.String(),
		r.RemainingValue.Value.String(),
		r.TotalValue.Unit,
		nullString(string(r.ParentRecordID)),
		r.IsAutoRedemption,
		nullString(r.Provider),
		formatTime(time.Now()),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.WrapStorage("insert record", generic.ErrDuplicateActiveRecord)
		}
		return fmt.Errorf("failed to insert redemption record: %w", err)
	}

	return nil
}

// QueryRecords returns matching rows ordered by redeemed_at.
func (s *Store) QueryRecords(ctx context.Context, f perks.RecordFilter) ([]perks.RedemptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryRecords(ctx, s.db, f)
}

func queryRecords(ctx context.Context, db querier, f perks.RecordFilter) ([]perks.RedemptionRecord, error) {
	where, args := filterClause(f)
	query := `SELECT ` + recordColumns + ` FROM redemption_records` + where + ` ORDER BY redeemed_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemption records: %w", err)
	}
	defer rows.Close()

	var records []perks.RedemptionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// DeleteRecords removes matching rows. Unscoped filters are refused.
func (s *Store) DeleteRecords(ctx context.Context, f perks.RecordFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteRecords(ctx, s.db, f)
}

func deleteRecords(ctx context.Context, db execer, f perks.RecordFilter) (int, error) {
	if !f.Scoped() {
		return 0, perks.ErrUnscopedFilter
	}
	where, args := filterClause(f)
	res, err := db.ExecContext(ctx, `DELETE FROM redemption_records`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete redemption records: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetRecord retrieves a record by ID.
func (s *Store) GetRecord(ctx context.Context, id perks.RecordID) (*perks.RedemptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getRecord(ctx, s.db, id)
}

func getRecord(ctx context.Context, db querier, id perks.RecordID) (*perks.RedemptionRecord, error) {
	recs, err := queryRecords(ctx, db, perks.RecordFilter{IDs: []perks.RecordID{id}})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func filterClause(f perks.RecordFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(f.IDs) > 0 {
		conds = append(conds, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, string(id))
		}
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, string(f.UserID))
	}
	if len(f.PerkIDs) > 0 {
		conds = append(conds, "perk_definition_id IN ("+placeholders(len(f.PerkIDs))+")")
		for _, id := range f.PerkIDs {
			args = append(args, string(id))
		}
	}
	if f.CardEnrollmentID != "" {
		conds = append(conds, "card_enrollment_id = ?")
		args = append(args, string(f.CardEnrollmentID))
	}
	if f.ActiveAt != nil {
		conds = append(conds, "cycle_reset_at > ?")
		args = append(args, formatTime(*f.ActiveAt))
	}
	if f.RedeemedFrom != nil {
		conds = append(conds, "redeemed_at >= ?")
		args = append(args, formatTime(*f.RedeemedFrom))
	}
	if f.RedeemedTo != nil {
		conds = append(conds, "redeemed_at <= ?")
		args = append(args, formatTime(*f.RedeemedTo))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(rows *sql.Rows) (perks.RedemptionRecord, error) {
	var (
		r                               perks.RedemptionRecord
		redeemedAt, resetAt             string
		valueRedeemed, total, remaining string
		unit                            string
		parentID, provider              sql.NullString
	)

	err := rows.Scan(
		&r.ID, &r.UserID, &r.PerkDefinitionID, &r.CardEnrollmentID,
		&redeemedAt, &resetAt, &r.Status,
		&valueRedeemed, &total, &remaining, &unit,
		&parentID, &r.IsAutoRedemption, &provider,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan redemption record: %w", err)
	}

	r.RedeemedAt = parseTime(redeemedAt)
	r.CycleResetAt = parseTime(resetAt)
	r.ValueRedeemed = parseAmount(valueRedeemed, unit)
	r.TotalValue = parseAmount(total, unit)
	r.RemainingValue = parseAmount(remaining, unit)
	r.ParentRecordID = perks.RecordID(parentID.String)
	r.Provider = provider.String

	return r, nil
}

// =============================================================================
// TRANSACTIONAL STORE (perks.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store perks.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertRecord(ctx context.Context, r perks.RedemptionRecord) error {
	return insertRecord(ctx, ts.tx, r)
}

func (ts *txStore) QueryRecords(ctx context.Context, f perks.RecordFilter) ([]perks.RedemptionRecord, error) {
	return queryRecords(ctx, ts.tx, f)
}

func (ts *txStore) DeleteRecords(ctx context.Context, f perks.RecordFilter) (int, error) {
	return deleteRecords(ctx, ts.tx, f)
}

func (ts *txStore) GetRecord(ctx context.Context, id perks.RecordID) (*perks.RedemptionRecord, error) {
	return getRecord(ctx, ts.tx, id)
}

// =============================================================================
// CATALOG STORE
// =============================================================================

// SaveDefinition upserts a catalog entry.
func (s *Store) SaveDefinition(ctx context.Context, d perks.PerkDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO perk_definitions (id, card_product_id, name, value, unit, period_months,
			reset_policy, category, providers_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			card_product_id = excluded.card_product_id,
			name = excluded.name,
			value = excluded.value,
			unit = excluded.unit,
			period_months = excluded.period_months,
			reset_policy = excluded.reset_policy,
			category = excluded.category,
			providers_json = excluded.providers_json,
			updated_at = excluded.updated_at
	`

	providersJSON, err := json.Marshal(d.Providers)
	if err != nil {
		return fmt.Errorf("failed to encode providers of %s: %w", d.ID, err)
	}
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.CardProductID, d.Name, d.Value.Value.String(), d.Value.Unit,
		d.PeriodMonths, d.ResetPolicy, d.Category, string(providersJSON), now, now,
	)
	return err
}

const definitionColumns = `id, card_product_id, name, value, unit, period_months, reset_policy, category, providers_json`

// GetDefinition retrieves a definition by ID.
func (s *Store) GetDefinition(ctx context.Context, id perks.PerkID) (*perks.PerkDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs, err := s.queryDefinitions(ctx, `SELECT `+definitionColumns+` FROM perk_definitions WHERE id = ?`, id)
	if err != nil || len(defs) == 0 {
		return nil, err
	}
	return &defs[0], nil
}

// ListDefinitions returns the catalog, or one card product's part of it.
func (s *Store) ListDefinitions(ctx context.Context, cardProductID perks.CardProductID) ([]perks.PerkDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cardProductID == "" {
		return s.queryDefinitions(ctx, `SELECT `+definitionColumns+` FROM perk_definitions ORDER BY id`)
	}
	return s.queryDefinitions(ctx,
		`SELECT `+definitionColumns+` FROM perk_definitions WHERE card_product_id = ? ORDER BY id`,
		cardProductID)
}

func (s *Store) queryDefinitions(ctx context.Context, query string, args ...any) ([]perks.PerkDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query perk definitions: %w", err)
	}
	defer rows.Close()

	var defs []perks.PerkDefinition
	for rows.Next() {
		var (
			d                   perks.PerkDefinition
			value, unit         string
			category, providers sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.CardProductID, &d.Name, &value, &unit,
			&d.PeriodMonths, &d.ResetPolicy, &category, &providers); err != nil {
			return nil, err
		}
		d.Value = parseAmount(value, unit)
		d.Category = category.String
		if providers.Valid && providers.String != "" {
			if err := json.Unmarshal([]byte(providers.String), &d.Providers); err != nil {
				return nil, fmt.Errorf("failed to decode providers of %s: %w", d.ID, err)
			}
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// =============================================================================
// ENROLLMENT STORE
// =============================================================================

// SaveEnrollment upserts an enrollment.
func (s *Store) SaveEnrollment(ctx context.Context, e perks.CardEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO card_enrollments (id, user_id, card_product_id, nickname, opened_at, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nickname = excluded.nickname,
			opened_at = excluded.opened_at,
			deleted_at = excluded.deleted_at
	`

	var deletedAt *string
	if e.DeletedAt != nil {
		d := formatTime(*e.DeletedAt)
		deletedAt = &d
	}

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.CardProductID, e.Nickname,
		formatTime(e.OpenedAt), formatTime(e.CreatedAt), deletedAt,
	)
	return err
}

const enrollmentColumns = `id, user_id, card_product_id, nickname, opened_at, created_at, deleted_at`

// GetEnrollment retrieves an enrollment by ID, including soft-deleted ones.
func (s *Store) GetEnrollment(ctx context.Context, id perks.EnrollmentID) (*perks.CardEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryEnrollments(ctx, `SELECT `+enrollmentColumns+` FROM card_enrollments WHERE id = ?`, id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListEnrollments returns the user's enrollments, oldest first.
func (s *Store) ListEnrollments(ctx context.Context, userID perks.UserID, includeDeleted bool) ([]perks.CardEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + enrollmentColumns + ` FROM card_enrollments WHERE user_id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	return s.queryEnrollments(ctx, query+` ORDER BY created_at, id`, userID)
}

// SoftDeleteEnrollment marks the enrollment removed. Records stay.
func (s *Store) SoftDeleteEnrollment(ctx context.Context, id perks.EnrollmentID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE card_enrollments SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		formatTime(at), id,
	)
	return err
}

// ListUsers returns every user with a live enrollment.
func (s *Store) ListUsers(ctx context.Context) ([]perks.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM card_enrollments WHERE deleted_at IS NULL ORDER BY user_id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []perks.UserID
	for rows.Next() {
		var u perks.UserID
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) queryEnrollments(ctx context.Context, query string, args ...any) ([]perks.CardEnrollment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query card enrollments: %w", err)
	}
	defer rows.Close()

	var list []perks.CardEnrollment
	for rows.Next() {
		var (
			e                   perks.CardEnrollment
			nickname, deletedAt sql.NullString
			openedAt, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.CardProductID, &nickname, &openedAt, &createdAt, &deletedAt); err != nil {
			return nil, err
		}
		e.Nickname = nickname.String
		e.OpenedAt = parseTime(openedAt)
		e.CreatedAt = parseTime(createdAt)
		if deletedAt.Valid {
			t := parseTime(deletedAt.String)
			e.DeletedAt = &t
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// =============================================================================
// REMINDER DELIVERIES
// =============================================================================

// ClaimReminder records a reminder as delivered. It reports false when the
// same reminder was already claimed, so each one goes out once.
func (s *Store) ClaimReminder(ctx context.Context, userID perks.UserID, r perks.ScheduledReminder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reminder_deliveries (user_id, period_months, cycle_end, offset_days, delivered_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, r.PeriodMonths, formatTime(r.CycleEnd), r.OffsetDays, formatTime(time.Now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseReminder forgets a claim so a failed delivery is retried next tick.
func (s *Store) ReleaseReminder(ctx context.Context, userID perks.UserID, r perks.ScheduledReminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM reminder_deliveries
		WHERE user_id = ? AND period_months = ? AND cycle_end = ? AND offset_days = ?
	`, userID, r.PeriodMonths, formatTime(r.CycleEnd), r.OffsetDays)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"redemption_records", "reminder_deliveries", "card_enrollments", "perk_definitions"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseAmount(value, unit string) generic.Amount {
	return generic.Amount{
		Value: generic.MustParseDecimal(value),
		Unit:  generic.Unit(unit),
	}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

var _ perks.Backend = (*Store)(nil)
