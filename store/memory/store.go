// Package memory provides an in-process Store. Transactions take the
// store-wide write lock, so they are serialized against each other and
// against every other write.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/subscription"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	accounts map[string]*credit.Account
	groups   map[string]*group.Group
	events   map[string]*event.Event
	closed   bool
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*credit.Account),
		groups:   make(map[string]*group.Group),
		events:   make(map[string]*event.Event),
	}
}

// ──────────────────────────────────────────────────
// Credit accounts
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(_ context.Context, a *credit.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passbook.ErrStoreClosed
	}
	if _, exists := s.accounts[a.UserID.String()]; exists {
		return passbook.ErrAlreadyExists
	}
	s.accounts[a.UserID.String()] = cloneAccount(a, true)
	return nil
}

func (s *Store) GetAccount(_ context.Context, userID id.UserID) (*credit.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, passbook.ErrStoreClosed
	}

	if a, ok := s.accounts[userID.String()]; ok {
		return cloneAccount(a, true), nil
	}
	return nil, passbook.ErrAccountNotFound
}

// ──────────────────────────────────────────────────
// Groups
// ──────────────────────────────────────────────────

func (s *Store) CreateGroup(_ context.Context, g *group.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passbook.ErrStoreClosed
	}
	if _, exists := s.groups[g.ID.String()]; exists {
		return passbook.ErrAlreadyExists
	}
	s.groups[g.ID.String()] = cloneGroup(g)
	return nil
}

func (s *Store) GetGroup(_ context.Context, groupID id.GroupID) (*group.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, passbook.ErrStoreClosed
	}

	if g, ok := s.groups[groupID.String()]; ok {
		return cloneGroup(g), nil
	}
	return nil, passbook.ErrGroupNotFound
}

func (s *Store) ListGroupsByOwner(_ context.Context, ownerID id.UserID) ([]*group.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, passbook.ErrStoreClosed
	}

	result := make([]*group.Group, 0)
	for _, g := range s.groups {
		if g.OwnerID.String() == ownerID.String() {
			result = append(result, cloneGroup(g))
		}
	}
	sortGroups(result)
	return result, nil
}

func (s *Store) ListGroupsExpiredBefore(_ context.Context, status subscription.Status, cutoff time.Time) ([]*group.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, passbook.ErrStoreClosed
	}

	result := make([]*group.Group, 0)
	for _, g := range s.groups {
		sub := g.Subscription
		if sub.Status != status || sub.ExpiredAt == nil {
			continue
		}
		if sub.ExpiredAt.After(cutoff) {
			continue
		}
		result = append(result, cloneGroup(g))
	}
	sortGroups(result)
	return result, nil
}

func (s *Store) UpdateGroupSubscriptions(_ context.Context, updates []group.SubscriptionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passbook.ErrStoreClosed
	}
	for _, u := range updates {
		if _, ok := s.groups[u.GroupID.String()]; !ok {
			return passbook.ErrGroupNotFound
		}
	}
	for _, u := range updates {
		g := s.groups[u.GroupID.String()]
		g.Subscription = cloneState(u.State)
		if u.State.UpdatedAt != nil {
			g.UpdatedAt = *u.State.UpdatedAt
		}
	}
	return nil
}

func (s *Store) DeleteGroup(_ context.Context, groupID id.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passbook.ErrStoreClosed
	}

	delete(s.groups, groupID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

func (s *Store) GetEvent(_ context.Context, eventID id.EventID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, passbook.ErrStoreClosed
	}

	if e, ok := s.events[eventID.String()]; ok {
		return cloneEvent(e), nil
	}
	return nil, passbook.ErrEventNotFound
}

func (s *Store) ListEventsByGroup(_ context.Context, groupID id.GroupID) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, passbook.ErrStoreClosed
	}

	result := make([]*event.Event, 0)
	for _, e := range s.events {
		if e.GroupID.String() == groupID.String() {
			result = append(result, cloneEvent(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateEventVisibility applies the batch atomically. Ids that no longer
// exist are skipped, matching the database drivers.
func (s *Store) UpdateEventVisibility(_ context.Context, updates []event.VisibilityUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passbook.ErrStoreClosed
	}
	for _, u := range updates {
		e, ok := s.events[u.EventID.String()]
		if !ok {
			continue
		}
		e.IsVisible = u.IsVisible
		e.Hidden = u.Hidden
		e.HiddenAt = cloneTime(u.HiddenAt)
	}
	return nil
}

func (s *Store) DeleteEvents(_ context.Context, eventIDs []id.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passbook.ErrStoreClosed
	}

	for _, eid := range eventIDs {
		delete(s.events, eid.String())
	}
	return nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// RunInTx holds the write lock for the whole of fn. Writes are staged and
// applied only when fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn store.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return passbook.ErrStoreClosed
	}

	tx := &memTx{
		s:        s,
		accounts: make(map[string]*credit.Account),
		entries:  make(map[string][]credit.Entry),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s        *Store
	accounts map[string]*credit.Account
	entries  map[string][]credit.Entry
	events   []*event.Event
}

func (t *memTx) GetAccount(_ context.Context, userID id.UserID) (*credit.Account, error) {
	if a, ok := t.accounts[userID.String()]; ok {
		return cloneAccount(a, false), nil
	}
	if a, ok := t.s.accounts[userID.String()]; ok {
		return cloneAccount(a, false), nil
	}
	return nil, passbook.ErrAccountNotFound
}

func (t *memTx) GetGroup(_ context.Context, groupID id.GroupID) (*group.Group, error) {
	if g, ok := t.s.groups[groupID.String()]; ok {
		return cloneGroup(g), nil
	}
	return nil, passbook.ErrGroupNotFound
}

func (t *memTx) InsertEvent(_ context.Context, e *event.Event) error {
	if _, exists := t.s.events[e.ID.String()]; exists {
		return passbook.ErrAlreadyExists
	}
	t.events = append(t.events, cloneEvent(e))
	return nil
}

func (t *memTx) UpdateAccount(_ context.Context, a *credit.Account) error {
	if _, ok := t.s.accounts[a.UserID.String()]; !ok {
		return passbook.ErrAccountNotFound
	}
	t.accounts[a.UserID.String()] = cloneAccount(a, false)
	return nil
}

func (t *memTx) AppendEntries(_ context.Context, userID id.UserID, entries []credit.Entry) error {
	if _, ok := t.s.accounts[userID.String()]; !ok {
		return passbook.ErrAccountNotFound
	}
	t.entries[userID.String()] = append(t.entries[userID.String()], entries...)
	return nil
}

func (t *memTx) commit() {
	for key, a := range t.accounts {
		history := t.s.accounts[key].History
		a.History = history
		t.s.accounts[key] = a
	}
	for key, entries := range t.entries {
		acct := t.s.accounts[key]
		acct.History = append(slices.Clip(acct.History), entries...)
	}
	for _, e := range t.events {
		t.s.events[e.ID.String()] = e
	}
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return passbook.ErrStoreClosed
	}
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return passbook.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Copy helpers
// ──────────────────────────────────────────────────

func sortGroups(gs []*group.Group) {
	sort.Slice(gs, func(i, j int) bool {
		return gs[i].ID.String() < gs[j].ID.String()
	})
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneAccount(a *credit.Account, withHistory bool) *credit.Account {
	c := *a
	c.History = nil
	if withHistory {
		c.History = slices.Clone(a.History)
	}
	if a.Replenishment != nil {
		r := *a.Replenishment
		c.Replenishment = &r
	}
	c.LastUpdatedAt = cloneTime(a.LastUpdatedAt)
	c.LastAutoPurchaseAt = cloneTime(a.LastAutoPurchaseAt)
	c.LowBalanceEmailSentAt = cloneTime(a.LowBalanceEmailSentAt)
	return &c
}

func cloneState(st subscription.State) subscription.State {
	st.ExpiredAt = cloneTime(st.ExpiredAt)
	st.RenewedAt = cloneTime(st.RenewedAt)
	st.UpdatedAt = cloneTime(st.UpdatedAt)
	st.RenewsAt = cloneTime(st.RenewsAt)
	return st
}

func cloneGroup(g *group.Group) *group.Group {
	c := *g
	c.OrganizerIDs = slices.Clone(g.OrganizerIDs)
	c.Subscription = cloneState(g.Subscription)
	return &c
}

func cloneEvent(e *event.Event) *event.Event {
	c := *e
	c.EndsAt = cloneTime(e.EndsAt)
	c.HiddenAt = cloneTime(e.HiddenAt)
	return &c
}
