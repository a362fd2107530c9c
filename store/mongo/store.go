// Package mongo implements store.Store on MongoDB via Grove ORM.
//
// Publish transactions run in a multi-document session transaction. Two
// concurrent debits of one account both write the account document, so one
// of them aborts with a write conflict and is retried by the driver against
// the new balance. The transaction also bumps the group's tx_version when it
// reads the group, so a subscription update that lands between the status
// check and the event insert conflicts in the same way.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	passbookstore "github.com/xraph/passbook/store"
	"github.com/xraph/passbook/subscription"
)

// Collection name constants.
const (
	colAccounts = "passbook_accounts"
	colGroups   = "passbook_groups"
	colEvents   = "passbook_events"
)

// compile-time interface check
var _ passbookstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db     *grove.DB
	mdb    *mongodriver.MongoDB
	closed atomic.Bool
}

// New creates a new MongoDB store backed by Grove ORM. Transactions need a
// replica set or sharded cluster.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Open connects to the deployment at uri through the grove mongo driver.
// The database name is taken from the uri path.
func Open(ctx context.Context, uri string) (*Store, error) {
	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri); err != nil {
		return nil, fmt.Errorf("passbook/mongo: connect: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		return nil, fmt.Errorf("passbook/mongo: open: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all passbook collections.
func (s *Store) Migrate(ctx context.Context) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: mongo %s indexes: %w", passbook.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	return s.db.Ping(ctx)
}

// Close closes the database connection. Every later call fails with
// passbook.ErrStoreClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// ==================== Credit Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *credit.Account) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	m := toAccountModel(a)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return passbook.ErrAlreadyExists
		}
		return fmt.Errorf("passbook/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID id.UserID) (*credit.Account, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passbook.ErrAccountNotFound
		}
		return nil, fmt.Errorf("passbook/mongo: get account: %w", err)
	}
	return fromAccountModel(&m, true)
}

// ==================== Group Store ====================

func (s *Store) CreateGroup(ctx context.Context, g *group.Group) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	m := toGroupModel(g)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return passbook.ErrAlreadyExists
		}
		return fmt.Errorf("passbook/mongo: create group: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, groupID id.GroupID) (*group.Group, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	var m groupModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": groupID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passbook.ErrGroupNotFound
		}
		return nil, fmt.Errorf("passbook/mongo: get group: %w", err)
	}
	return fromGroupModel(&m)
}

func (s *Store) ListGroupsByOwner(ctx context.Context, ownerID id.UserID) ([]*group.Group, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	return s.listGroups(ctx, bson.M{"owner_id": ownerID.String()})
}

func (s *Store) ListGroupsExpiredBefore(ctx context.Context, status subscription.Status, cutoff time.Time) ([]*group.Group, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	return s.listGroups(ctx, bson.M{
		"subscription.status":     string(status),
		"subscription.expired_at": bson.M{"$ne": nil, "$lte": cutoff.UTC()},
	})
}

func (s *Store) listGroups(ctx context.Context, filter bson.M) ([]*group.Group, error) {
	var models []groupModel
	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("passbook/mongo: list groups: %w", closedErr(err))
	}

	result := make([]*group.Group, len(models))
	for i := range models {
		g, err := fromGroupModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = g
	}
	return result, nil
}

// UpdateGroupSubscriptions sends the batch as one unordered bulk write.
func (s *Store) UpdateGroupSubscriptions(ctx context.Context, updates []group.SubscriptionUpdate) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if len(updates) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		set := bson.M{"subscription": toSubscriptionModel(u.State)}
		if u.State.UpdatedAt != nil {
			set["updated_at"] = u.State.UpdatedAt.UTC()
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": u.GroupID.String()}).
			SetUpdate(bson.M{"$set": set}))
	}

	res, err := s.mdb.Collection(colGroups).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("passbook/mongo: update group subscriptions: %w", closedErr(err))
	}
	if res.MatchedCount < int64(len(updates)) {
		return passbook.ErrGroupNotFound
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, groupID id.GroupID) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	_, err := s.mdb.NewDelete((*groupModel)(nil)).
		Filter(bson.M{"_id": groupID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("passbook/mongo: delete group: %w", closedErr(err))
	}
	return nil
}

// ==================== Event Store ====================

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	var m eventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": eventID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passbook.ErrEventNotFound
		}
		return nil, fmt.Errorf("passbook/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListEventsByGroup(ctx context.Context, groupID id.GroupID) ([]*event.Event, error) {
	if s.closed.Load() {
		return nil, passbook.ErrStoreClosed
	}
	var models []eventModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"group_id": groupID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("passbook/mongo: list events: %w", closedErr(err))
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// UpdateEventVisibility sends the batch as one unordered bulk write.
// Missing ids are skipped.
func (s *Store) UpdateEventVisibility(ctx context.Context, updates []event.VisibilityUpdate) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if len(updates) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": u.EventID.String()}).
			SetUpdate(bson.M{"$set": bson.M{
				"is_visible":    u.IsVisible,
				"hidden_reason": u.Hidden.String(),
				"hidden_at":     utcPtr(u.HiddenAt),
			}}))
	}
	if _, err := s.mdb.Collection(colEvents).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("passbook/mongo: update event visibility: %w", closedErr(err))
	}
	return nil
}

func (s *Store) DeleteEvents(ctx context.Context, eventIDs []id.EventID) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	if len(eventIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(eventIDs))
	for _, eid := range eventIDs {
		ids = append(ids, eid.String())
	}
	_, err := s.mdb.NewDelete((*eventModel)(nil)).
		Filter(bson.M{"_id": bson.M{"$in": ids}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("passbook/mongo: delete events: %w", closedErr(err))
	}
	return nil
}

// ==================== Transactions ====================

// RunInTx runs fn in a session transaction. The driver retries fn on
// transient errors such as write conflicts.
func (s *Store) RunInTx(ctx context.Context, fn passbookstore.TxFunc) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	client := s.mdb.Collection(colAccounts).Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("passbook/mongo: start session: %w", closedErr(err))
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return nil, fn(txCtx, &mongoTx{s: s})
	})
	return closedErr(err)
}

// mongoTx issues every call on the session context handed to it, so all
// reads and writes join the transaction.
type mongoTx struct {
	s *Store
}

func (t *mongoTx) GetAccount(ctx context.Context, userID id.UserID) (*credit.Account, error) {
	var m accountModel
	opts := options.FindOne().SetProjection(bson.M{"history": 0})
	err := t.s.mdb.Collection(colAccounts).FindOne(ctx, bson.M{"_id": userID.String()}, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passbook.ErrAccountNotFound
		}
		return nil, fmt.Errorf("passbook/mongo: get account: %w", err)
	}
	return fromAccountModel(&m, false)
}

// GetGroup writes the group document as it reads it. A subscription update
// committed after this read then conflicts with the transaction instead of
// slipping in before the event insert.
func (t *mongoTx) GetGroup(ctx context.Context, groupID id.GroupID) (*group.Group, error) {
	var m groupModel
	err := t.s.mdb.Collection(colGroups).FindOneAndUpdate(ctx,
		bson.M{"_id": groupID.String()},
		bson.M{"$inc": bson.M{"tx_version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, passbook.ErrGroupNotFound
		}
		return nil, fmt.Errorf("passbook/mongo: get group: %w", err)
	}
	return fromGroupModel(&m)
}

func (t *mongoTx) InsertEvent(ctx context.Context, e *event.Event) error {
	if _, err := t.s.mdb.Collection(colEvents).InsertOne(ctx, toEventModel(e)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return passbook.ErrAlreadyExists
		}
		return fmt.Errorf("passbook/mongo: insert event: %w", err)
	}
	return nil
}

func (t *mongoTx) UpdateAccount(ctx context.Context, a *credit.Account) error {
	m := toAccountModel(a)
	res, err := t.s.mdb.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": m.UserID},
		bson.M{"$set": bson.M{
			"balance":                   m.Balance,
			"replenishment":             m.Replenishment,
			"last_updated_at":           m.LastUpdatedAt,
			"last_auto_purchase_at":     m.LastAutoPurchaseAt,
			"low_balance_email_sent_at": m.LowBalanceEmailSentAt,
			"updated_at":                m.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("passbook/mongo: update account: %w", err)
	}
	if res.MatchedCount == 0 {
		return passbook.ErrAccountNotFound
	}
	return nil
}

func (t *mongoTx) AppendEntries(ctx context.Context, userID id.UserID, entries []credit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	res, err := t.s.mdb.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": userID.String()},
		bson.M{"$push": bson.M{"history": bson.M{"$each": toEntryModels(entries)}}},
	)
	if err != nil {
		return fmt.Errorf("passbook/mongo: append entries: %w", err)
	}
	if res.MatchedCount == 0 {
		return passbook.ErrAccountNotFound
	}
	return nil
}

// ==================== Helpers ====================

// closedErr maps the error of a disconnected client to
// passbook.ErrStoreClosed.
func closedErr(err error) error {
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return passbook.ErrStoreClosed
	}
	return err
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all passbook collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colGroups: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
			{Keys: bson.D{{Key: "subscription.status", Value: 1}, {Key: "subscription.expired_at", Value: 1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
