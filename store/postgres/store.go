// Package postgres implements store.Store on PostgreSQL through pgx.
//
// Publish transactions lock the account row with SELECT ... FOR UPDATE and
// the group row with FOR SHARE, so concurrent debits for one user queue on
// the row lock while publishes to other users proceed in parallel.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/puddle/v2"

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

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// Open connects a pool to dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("passbook/postgres: connect: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	return s.pool.Ping(ctx)
}

// Close closes the pool. Every later call fails with
// passbook.ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.Close()
	}
	return nil
}

// closedErr maps the error a closed pool returns on acquire to
// passbook.ErrStoreClosed.
func closedErr(err error) error {
	if errors.Is(err, puddle.ErrClosedPool) {
		return passbook.ErrStoreClosed
	}
	return err
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func idStrings(ids []id.ID) []string {
	out := make([]string, 0, len(ids))
	for _, i := range ids {
		out = append(out, i.String())
	}
	return out
}

// ==================== Credit Store ====================

const accountColumns = `user_id, balance, replenish_mode, replenish_threshold, replenish_bundle_id,
	last_updated_at, last_auto_purchase_at, low_balance_email_sent_at, created_at, updated_at`

func splitPolicy(r *credit.Replenishment) (mode string, threshold int64, bundle string) {
	if r == nil {
		return "", 0, ""
	}
	return string(r.Mode), r.Threshold, r.BundleID
}

func (s *Store) CreateAccount(ctx context.Context, a *credit.Account) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		mode, threshold, bundle := splitPolicy(a.Replenishment)
		_, err := tx.Exec(ctx, `INSERT INTO passbook_accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			a.UserID.String(), a.Balance, mode, threshold, bundle,
			a.LastUpdatedAt, a.LastAutoPurchaseAt, a.LowBalanceEmailSentAt,
			a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return passbook.ErrAlreadyExists
			}
			return fmt.Errorf("passbook/postgres: create account: %w", err)
		}
		return appendEntries(ctx, tx, a.UserID, a.History)
	})
}

func (s *Store) GetAccount(ctx context.Context, userID id.UserID) (*credit.Account, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	a, err := getAccount(ctx, s.pool, userID, "")
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT id, type, amount, balance_after, description, occurred_at
		FROM passbook_credit_entries WHERE user_id = $1 ORDER BY seq`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("passbook/postgres: list entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e       credit.Entry
			entryID string
			typ     string
		)
		if err := rows.Scan(&entryID, &typ, &e.Amount, &e.BalanceAfter, &e.Description, &e.OccurredAt); err != nil {
			return nil, err
		}
		if e.ID, err = id.Parse(entryID); err != nil {
			return nil, err
		}
		e.Type = credit.EntryType(typ)
		e.OccurredAt = e.OccurredAt.UTC()
		a.History = append(a.History, e)
	}
	return a, rows.Err()
}

func getAccount(ctx context.Context, q querier, userID id.UserID, lock string) (*credit.Account, error) {
	var (
		a                    credit.Account
		uid, mode, bundle    string
		threshold            int64
		createdAt, updatedAt time.Time
	)
	err := q.QueryRow(ctx, `SELECT `+accountColumns+` FROM passbook_accounts WHERE user_id = $1 `+lock,
		userID.String()).Scan(&uid, &a.Balance, &mode, &threshold, &bundle,
		&a.LastUpdatedAt, &a.LastAutoPurchaseAt, &a.LowBalanceEmailSentAt, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, passbook.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("passbook/postgres: get account: %w", err)
	}

	if a.UserID, err = id.Parse(uid); err != nil {
		return nil, err
	}
	if mode != "" {
		a.Replenishment = &credit.Replenishment{Mode: credit.Mode(mode), Threshold: threshold, BundleID: bundle}
	}
	a.LastUpdatedAt = utcPtr(a.LastUpdatedAt)
	a.LastAutoPurchaseAt = utcPtr(a.LastAutoPurchaseAt)
	a.LowBalanceEmailSentAt = utcPtr(a.LowBalanceEmailSentAt)
	a.CreatedAt = createdAt.UTC()
	a.UpdatedAt = updatedAt.UTC()
	return &a, nil
}

func appendEntries(ctx context.Context, tx pgx.Tx, userID id.UserID, entries []credit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, e := range entries {
		b.Queue(`INSERT INTO passbook_credit_entries
			(id, user_id, type, amount, balance_after, description, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID.String(), userID.String(), string(e.Type), e.Amount, e.BalanceAfter, e.Description, e.OccurredAt)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("passbook/postgres: append entries: %w", err)
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
	sub := g.Subscription
	_, err := s.pool.Exec(ctx, `INSERT INTO passbook_groups (`+groupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		g.ID.String(), g.Name, g.OwnerID.String(), idStrings(g.OrganizerIDs), string(sub.Status),
		sub.ExpiredAt, sub.RenewedAt, sub.UpdatedAt, sub.RenewsAt,
		g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return passbook.ErrAlreadyExists
		}
		return fmt.Errorf("passbook/postgres: create group: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, groupID id.GroupID) (*group.Group, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	return getGroup(ctx, s.pool, groupID, "")
}

func getGroup(ctx context.Context, q querier, groupID id.GroupID, lock string) (*group.Group, error) {
	g, err := scanGroup(q.QueryRow(ctx, `SELECT `+groupColumns+` FROM passbook_groups WHERE id = $1 `+lock,
		groupID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, passbook.ErrGroupNotFound
	}
	return g, err
}

func (s *Store) ListGroupsByOwner(ctx context.Context, ownerID id.UserID) ([]*group.Group, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	return s.listGroups(ctx, `SELECT `+groupColumns+` FROM passbook_groups WHERE owner_id = $1 ORDER BY id`,
		ownerID.String())
}

func (s *Store) ListGroupsExpiredBefore(ctx context.Context, status subscription.Status, cutoff time.Time) ([]*group.Group, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	return s.listGroups(ctx, `SELECT `+groupColumns+` FROM passbook_groups
		WHERE subscription_status = $1 AND subscription_expired_at IS NOT NULL AND subscription_expired_at <= $2
		ORDER BY id`,
		string(status), cutoff)
}

func (s *Store) listGroups(ctx context.Context, query string, args ...any) ([]*group.Group, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("passbook/postgres: list groups: %w", closedErr(err))
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

func scanGroup(row pgx.Row) (*group.Group, error) {
	var (
		g                        group.Group
		gid, ownerID, status     string
		organizers               []string
		createdAt, updatedAt     time.Time
		expired, renewed, subUpd *time.Time
		renewsAt                 *time.Time
	)
	if err := row.Scan(&gid, &g.Name, &ownerID, &organizers, &status,
		&expired, &renewed, &subUpd, &renewsAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if g.ID, err = id.Parse(gid); err != nil {
		return nil, err
	}
	if g.OwnerID, err = id.Parse(ownerID); err != nil {
		return nil, err
	}
	for _, o := range organizers {
		parsed, err := id.Parse(o)
		if err != nil {
			return nil, err
		}
		g.OrganizerIDs = append(g.OrganizerIDs, parsed)
	}
	g.Subscription = subscription.State{
		Status:    subscription.Status(status),
		ExpiredAt: utcPtr(expired),
		RenewedAt: utcPtr(renewed),
		UpdatedAt: utcPtr(subUpd),
		RenewsAt:  utcPtr(renewsAt),
	}
	g.CreatedAt = createdAt.UTC()
	g.UpdatedAt = updatedAt.UTC()
	return &g, nil
}

// UpdateGroupSubscriptions sends the batch as one pipelined transaction.
func (s *Store) UpdateGroupSubscriptions(ctx context.Context, updates []group.SubscriptionUpdate) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if len(updates) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, u := range updates {
			st := u.State
			updatedAt := time.Now().UTC()
			if st.UpdatedAt != nil {
				updatedAt = *st.UpdatedAt
			}
			b.Queue(`UPDATE passbook_groups SET
				subscription_status = $1, subscription_expired_at = $2, subscription_renewed_at = $3,
				subscription_updated_at = $4, subscription_renews_at = $5, updated_at = $6
				WHERE id = $7`,
				string(st.Status), st.ExpiredAt, st.RenewedAt, st.UpdatedAt, st.RenewsAt, updatedAt, u.GroupID.String(),
			).Exec(func(tag pgconn.CommandTag) error {
				if tag.RowsAffected() == 0 {
					return passbook.ErrGroupNotFound
				}
				return nil
			})
		}
		return tx.SendBatch(ctx, b).Close()
	})
}

func (s *Store) DeleteGroup(ctx context.Context, groupID id.GroupID) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM passbook_groups WHERE id = $1`, groupID.String()); err != nil {
		return fmt.Errorf("passbook/postgres: delete group: %w", closedErr(err))
	}
	return nil
}

// ==================== Event Store ====================

const eventColumns = `id, group_id, created_by_id, title, description, location, host_name,
	starts_at, ends_at, is_visible, hidden_reason, hidden_at, created_at, updated_at`

func insertEvent(ctx context.Context, q querier, e *event.Event) error {
	_, err := q.Exec(ctx, `INSERT INTO passbook_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID.String(), e.GroupID.String(), e.CreatedByID.String(), e.Title, e.Description, e.Location, e.HostName,
		e.StartsAt, e.EndsAt, e.IsVisible, e.Hidden.String(), e.HiddenAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return passbook.ErrAlreadyExists
		}
		return fmt.Errorf("passbook/postgres: insert event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM passbook_events WHERE id = $1`,
		eventID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, passbook.ErrEventNotFound
	}
	return e, err
}

func (s *Store) ListEventsByGroup(ctx context.Context, groupID id.GroupID) ([]*event.Event, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM passbook_events
		WHERE group_id = $1 ORDER BY created_at, id`, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("passbook/postgres: list events: %w", closedErr(err))
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

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		e                              event.Event
		eid, gid, createdBy, reason    string
		startsAt, createdAt, updatedAt time.Time
		endsAt, hiddenAt               *time.Time
	)
	if err := row.Scan(&eid, &gid, &createdBy, &e.Title, &e.Description, &e.Location, &e.HostName,
		&startsAt, &endsAt, &e.IsVisible, &reason, &hiddenAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if e.ID, err = id.Parse(eid); err != nil {
		return nil, err
	}
	if e.GroupID, err = id.Parse(gid); err != nil {
		return nil, err
	}
	if e.CreatedByID, err = id.Parse(createdBy); err != nil {
		return nil, err
	}
	e.Hidden = event.ParseHiddenReason(reason)
	e.StartsAt = startsAt.UTC()
	e.EndsAt = utcPtr(endsAt)
	e.HiddenAt = utcPtr(hiddenAt)
	e.CreatedAt = createdAt.UTC()
	e.UpdatedAt = updatedAt.UTC()
	return &e, nil
}

// UpdateEventVisibility sends the batch as one pipelined transaction.
// Missing ids are skipped.
func (s *Store) UpdateEventVisibility(ctx context.Context, updates []event.VisibilityUpdate) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if len(updates) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, u := range updates {
			b.Queue(`UPDATE passbook_events SET is_visible = $1, hidden_reason = $2, hidden_at = $3 WHERE id = $4`,
				u.IsVisible, u.Hidden.String(), u.HiddenAt, u.EventID.String())
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("passbook/postgres: update event visibility: %w", err)
		}
		return nil
	})
}

func (s *Store) DeleteEvents(ctx context.Context, eventIDs []id.EventID) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if len(eventIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM passbook_events WHERE id = ANY($1)`, idStrings(eventIDs)); err != nil {
		return fmt.Errorf("passbook/postgres: delete events: %w", closedErr(err))
	}
	return nil
}

// ==================== Transactions ====================

func (s *Store) RunInTx(ctx context.Context, fn passbookstore.TxFunc) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	return closedErr(err)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAccount(ctx context.Context, userID id.UserID) (*credit.Account, error) {
	return getAccount(ctx, t.tx, userID, "FOR UPDATE")
}

func (t *pgTx) GetGroup(ctx context.Context, groupID id.GroupID) (*group.Group, error) {
	return getGroup(ctx, t.tx, groupID, "FOR SHARE")
}

func (t *pgTx) InsertEvent(ctx context.Context, e *event.Event) error {
	return insertEvent(ctx, t.tx, e)
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *credit.Account) error {
	mode, threshold, bundle := splitPolicy(a.Replenishment)
	tag, err := t.tx.Exec(ctx, `UPDATE passbook_accounts SET
		balance = $1, replenish_mode = $2, replenish_threshold = $3, replenish_bundle_id = $4,
		last_updated_at = $5, last_auto_purchase_at = $6, low_balance_email_sent_at = $7, updated_at = $8
		WHERE user_id = $9`,
		a.Balance, mode, threshold, bundle,
		a.LastUpdatedAt, a.LastAutoPurchaseAt, a.LowBalanceEmailSentAt, a.UpdatedAt, a.UserID.String(),
	)
	if err != nil {
		return fmt.Errorf("passbook/postgres: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return passbook.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) AppendEntries(ctx context.Context, userID id.UserID, entries []credit.Entry) error {
	return appendEntries(ctx, t.tx, userID, entries)
}
