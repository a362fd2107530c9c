// Package sqlite implements store.Store on SQLite through modernc.org/sqlite.
//
// The store keeps a single connection and opens write transactions with
// BEGIN IMMEDIATE, so publish transactions are serialized and no two debits
// can read the same balance.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	passbookstore "github.com/xraph/passbook/store"
	"github.com/xraph/passbook/subscription"
)

// compile-time interface check
var _ passbookstore.Store = (*Store)(nil)

const defaultPragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

// Store implements store.Store using SQLite.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens the database at path. Connection pragmas are appended unless
// path already carries a query string.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?" + defaultPragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("passbook/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return New(db), nil
}

// New wraps an existing handle. The caller is responsible for limiting it
// to one connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	for _, stmt := range Migrations() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: sqlite: %w", passbook.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection. Every later call fails with
// passbook.ErrStoreClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// closedErr maps the errors database/sql returns for a closed handle or a
// finished connection to passbook.ErrStoreClosed.
func closedErr(err error) error {
	if errors.Is(err, sql.ErrConnDone) || (err != nil && strings.Contains(err.Error(), "sql: database is closed")) {
		return passbook.ErrStoreClosed
	}
	return err
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// ==================== Credit Store ====================

const accountColumns = `user_id, balance, replenish_mode, replenish_threshold, replenish_bundle_id,
	last_updated_at, last_auto_purchase_at, low_balance_email_sent_at, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, a *credit.Account) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return closedErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	mode, threshold, bundle := splitPolicy(a.Replenishment)
	_, err = tx.ExecContext(ctx, `INSERT INTO passbook_accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID.String(), a.Balance, mode, threshold, bundle,
		nullTime(a.LastUpdatedAt), nullTime(a.LastAutoPurchaseAt), nullTime(a.LowBalanceEmailSentAt),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return passbook.ErrAlreadyExists
		}
		return fmt.Errorf("passbook/sqlite: create account: %w", err)
	}
	if err := appendEntries(ctx, tx, a.UserID, a.History); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetAccount(ctx context.Context, userID id.UserID) (*credit.Account, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	a, err := getAccount(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, type, amount, balance_after, description, occurred_at
		FROM passbook_credit_entries WHERE user_id = ? ORDER BY seq`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("passbook/sqlite: list entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e          credit.Entry
			entryID    string
			occurredAt string
		)
		if err := rows.Scan(&entryID, &e.Type, &e.Amount, &e.BalanceAfter, &e.Description, &occurredAt); err != nil {
			return nil, err
		}
		if e.ID, err = id.Parse(entryID); err != nil {
			return nil, err
		}
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		a.History = append(a.History, e)
	}
	return a, rows.Err()
}

func getAccount(ctx context.Context, q querier, userID id.UserID) (*credit.Account, error) {
	row := q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM passbook_accounts WHERE user_id = ?`, userID.String())
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, passbook.ErrAccountNotFound
	}
	return a, err
}

func scanAccount(sc scanner) (*credit.Account, error) {
	var (
		a                                credit.Account
		userID, mode, bundle             string
		threshold                        int64
		lastUpdated, lastAuto, lastEmail sql.NullString
		createdAt, updatedAt             string
	)
	if err := sc.Scan(&userID, &a.Balance, &mode, &threshold, &bundle,
		&lastUpdated, &lastAuto, &lastEmail, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if a.UserID, err = id.Parse(userID); err != nil {
		return nil, err
	}
	if mode != "" {
		a.Replenishment = &credit.Replenishment{Mode: credit.Mode(mode), Threshold: threshold, BundleID: bundle}
	}
	if a.LastUpdatedAt, err = parseNullTime(lastUpdated); err != nil {
		return nil, err
	}
	if a.LastAutoPurchaseAt, err = parseNullTime(lastAuto); err != nil {
		return nil, err
	}
	if a.LowBalanceEmailSentAt, err = parseNullTime(lastEmail); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func splitPolicy(r *credit.Replenishment) (mode string, threshold int64, bundle string) {
	if r == nil {
		return "", 0, ""
	}
	return string(r.Mode), r.Threshold, r.BundleID
}

func updateAccount(ctx context.Context, q querier, a *credit.Account) error {
	mode, threshold, bundle := splitPolicy(a.Replenishment)
	res, err := q.ExecContext(ctx, `UPDATE passbook_accounts SET
		balance = ?, replenish_mode = ?, replenish_threshold = ?, replenish_bundle_id = ?,
		last_updated_at = ?, last_auto_purchase_at = ?, low_balance_email_sent_at = ?, updated_at = ?
		WHERE user_id = ?`,
		a.Balance, mode, threshold, bundle,
		nullTime(a.LastUpdatedAt), nullTime(a.LastAutoPurchaseAt), nullTime(a.LowBalanceEmailSentAt),
		formatTime(a.UpdatedAt), a.UserID.String(),
	)
	if err != nil {
		return fmt.Errorf("passbook/sqlite: update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return passbook.ErrAccountNotFound
	}
	return nil
}

func appendEntries(ctx context.Context, q querier, userID id.UserID, entries []credit.Entry) error {
	for _, e := range entries {
		_, err := q.ExecContext(ctx, `INSERT INTO passbook_credit_entries
			(id, user_id, type, amount, balance_after, description, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), userID.String(), string(e.Type), e.Amount, e.BalanceAfter, e.Description, formatTime(e.OccurredAt),
		)
		if err != nil {
			return fmt.Errorf("passbook/sqlite: append entry: %w", err)
		}
	}
	return nil
}

// ==================== Group Store ====================

const groupColumns = `id, name, owner_id, organizer_ids, subscription_status, subscription_expired_at,
	subscription_renewed_at, subscription_updated_at, subscription_renews_at, created_at, updated_at`

func (s *Store) CreateGroup(ctx context.Context, g *group.Group) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	organizers, err := encodeIDs(g.OrganizerIDs)
	if err != nil {
		return err
	}
	sub := g.Subscription
	_, err = s.db.ExecContext(ctx, `INSERT INTO passbook_groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID.String(), g.Name, g.OwnerID.String(), organizers, string(sub.Status),
		nullTime(sub.ExpiredAt), nullTime(sub.RenewedAt), nullTime(sub.UpdatedAt), nullTime(sub.RenewsAt),
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return passbook.ErrAlreadyExists
		}
		return fmt.Errorf("passbook/sqlite: create group: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, groupID id.GroupID) (*group.Group, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	return getGroup(ctx, s.db, groupID)
}

func getGroup(ctx context.Context, q querier, groupID id.GroupID) (*group.Group, error) {
	row := q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM passbook_groups WHERE id = ?`, groupID.String())
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, passbook.ErrGroupNotFound
	}
	return g, err
}

func (s *Store) ListGroupsByOwner(ctx context.Context, ownerID id.UserID) ([]*group.Group, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	return s.listGroups(ctx, `SELECT `+groupColumns+` FROM passbook_groups WHERE owner_id = ? ORDER BY id`,
		ownerID.String())
}

func (s *Store) ListGroupsExpiredBefore(ctx context.Context, status subscription.Status, cutoff time.Time) ([]*group.Group, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	return s.listGroups(ctx, `SELECT `+groupColumns+` FROM passbook_groups
		WHERE subscription_status = ? AND subscription_expired_at IS NOT NULL AND subscription_expired_at <= ?
		ORDER BY id`,
		string(status), formatTime(cutoff))
}

func (s *Store) listGroups(ctx context.Context, query string, args ...any) ([]*group.Group, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("passbook/sqlite: list groups: %w", closedErr(err))
	}
	defer rows.Close()

	result := make([]*group.Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func scanGroup(sc scanner) (*group.Group, error) {
	var (
		g                                      group.Group
		groupID, ownerID, organizers, status   string
		expired, renewed, subUpdated, renewsAt sql.NullString
		createdAt, updatedAt                   string
	)
	if err := sc.Scan(&groupID, &g.Name, &ownerID, &organizers, &status,
		&expired, &renewed, &subUpdated, &renewsAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if g.ID, err = id.Parse(groupID); err != nil {
		return nil, err
	}
	if g.OwnerID, err = id.Parse(ownerID); err != nil {
		return nil, err
	}
	if g.OrganizerIDs, err = decodeIDs(organizers); err != nil {
		return nil, err
	}
	g.Subscription.Status = subscription.Status(status)
	if g.Subscription.ExpiredAt, err = parseNullTime(expired); err != nil {
		return nil, err
	}
	if g.Subscription.RenewedAt, err = parseNullTime(renewed); err != nil {
		return nil, err
	}
	if g.Subscription.UpdatedAt, err = parseNullTime(subUpdated); err != nil {
		return nil, err
	}
	if g.Subscription.RenewsAt, err = parseNullTime(renewsAt); err != nil {
		return nil, err
	}
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// UpdateGroupSubscriptions writes the batch in one transaction.
func (s *Store) UpdateGroupSubscriptions(ctx context.Context, updates []group.SubscriptionUpdate) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return closedErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, u := range updates {
		st := u.State
		updatedAt := time.Now()
		if st.UpdatedAt != nil {
			updatedAt = *st.UpdatedAt
		}
		res, err := tx.ExecContext(ctx, `UPDATE passbook_groups SET
			subscription_status = ?, subscription_expired_at = ?, subscription_renewed_at = ?,
			subscription_updated_at = ?, subscription_renews_at = ?, updated_at = ?
			WHERE id = ?`,
			string(st.Status), nullTime(st.ExpiredAt), nullTime(st.RenewedAt),
			nullTime(st.UpdatedAt), nullTime(st.RenewsAt), formatTime(updatedAt), u.GroupID.String(),
		)
		if err != nil {
			return fmt.Errorf("passbook/sqlite: update group subscription: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
			return passbook.ErrGroupNotFound
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteGroup(ctx context.Context, groupID id.GroupID) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM passbook_groups WHERE id = ?`, groupID.String())
	if err != nil {
		return fmt.Errorf("passbook/sqlite: delete group: %w", closedErr(err))
	}
	return nil
}

// ==================== Event Store ====================

const eventColumns = `id, group_id, created_by_id, title, description, location, host_name,
	starts_at, ends_at, is_visible, hidden_reason, hidden_at, created_at, updated_at`

func insertEvent(ctx context.Context, q querier, e *event.Event) error {
	_, err := q.ExecContext(ctx, `INSERT INTO passbook_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.GroupID.String(), e.CreatedByID.String(), e.Title, e.Description, e.Location, e.HostName,
		formatTime(e.StartsAt), nullTime(e.EndsAt), e.IsVisible, e.Hidden.String(), nullTime(e.HiddenAt),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return passbook.ErrAlreadyExists
		}
		return fmt.Errorf("passbook/sqlite: insert event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM passbook_events WHERE id = ?`, eventID.String())
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, passbook.ErrEventNotFound
	}
	return e, err
}

func (s *Store) ListEventsByGroup(ctx context.Context, groupID id.GroupID) ([]*event.Event, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM passbook_events
		WHERE group_id = ? ORDER BY created_at, id`, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("passbook/sqlite: list events: %w", closedErr(err))
	}
	defer rows.Close()

	result := make([]*event.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanEvent(sc scanner) (*event.Event, error) {
	var (
		e                                   event.Event
		eventID, groupID, createdBy, reason string
		startsAt, createdAt, updatedAt      string
		endsAt, hiddenAt                    sql.NullString
	)
	if err := sc.Scan(&eventID, &groupID, &createdBy, &e.Title, &e.Description, &e.Location, &e.HostName,
		&startsAt, &endsAt, &e.IsVisible, &reason, &hiddenAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if e.ID, err = id.Parse(eventID); err != nil {
		return nil, err
	}
	if e.GroupID, err = id.Parse(groupID); err != nil {
		return nil, err
	}
	if e.CreatedByID, err = id.Parse(createdBy); err != nil {
		return nil, err
	}
	e.Hidden = event.ParseHiddenReason(reason)
	if e.StartsAt, err = parseTime(startsAt); err != nil {
		return nil, err
	}
	if e.EndsAt, err = parseNullTime(endsAt); err != nil {
		return nil, err
	}
	if e.HiddenAt, err = parseNullTime(hiddenAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEventVisibility writes the batch in one transaction. Missing ids are
// skipped.
func (s *Store) UpdateEventVisibility(ctx context.Context, updates []event.VisibilityUpdate) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return closedErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `UPDATE passbook_events
		SET is_visible = ?, hidden_reason = ?, hidden_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.IsVisible, u.Hidden.String(), nullTime(u.HiddenAt), u.EventID.String()); err != nil {
			return fmt.Errorf("passbook/sqlite: update event visibility: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteEvents(ctx context.Context, eventIDs []id.EventID) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if len(eventIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	args := make([]any, 0, len(eventIDs))
	for _, eid := range eventIDs {
		args = append(args, eid.String())
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM passbook_events WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("passbook/sqlite: delete events: %w", closedErr(err))
	}
	return nil
}

// ==================== Transactions ====================

// RunInTx runs fn inside BEGIN IMMEDIATE, which takes the database write
// lock before the first read.
func (s *Store) RunInTx(ctx context.Context, fn passbookstore.TxFunc) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("passbook/sqlite: begin: %w", closedErr(err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("passbook/sqlite: commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetAccount(ctx context.Context, userID id.UserID) (*credit.Account, error) {
	return getAccount(ctx, t.tx, userID)
}

func (t *sqliteTx) GetGroup(ctx context.Context, groupID id.GroupID) (*group.Group, error) {
	return getGroup(ctx, t.tx, groupID)
}

func (t *sqliteTx) InsertEvent(ctx context.Context, e *event.Event) error {
	return insertEvent(ctx, t.tx, e)
}

func (t *sqliteTx) UpdateAccount(ctx context.Context, a *credit.Account) error {
	return updateAccount(ctx, t.tx, a)
}

func (t *sqliteTx) AppendEntries(ctx context.Context, userID id.UserID, entries []credit.Entry) error {
	return appendEntries(ctx, t.tx, userID, entries)
}
