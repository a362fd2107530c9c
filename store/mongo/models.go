package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/subscription"
	"github.com/xraph/passbook/types"
)

// ==================== Account models ====================

// accountModel embeds the credit history so a publish touches one document.
type accountModel struct {
	grove.BaseModel `grove:"table:passbook_accounts"`

	UserID                string              `grove:"user_id,pk"                bson:"_id"`
	Balance               int64               `grove:"balance"                   bson:"balance"`
	Replenishment         *replenishmentModel `grove:"replenishment"             bson:"replenishment"`
	History               []entryModel        `grove:"history"                   bson:"history"`
	LastUpdatedAt         *time.Time          `grove:"last_updated_at"           bson:"last_updated_at"`
	LastAutoPurchaseAt    *time.Time          `grove:"last_auto_purchase_at"     bson:"last_auto_purchase_at"`
	LowBalanceEmailSentAt *time.Time          `grove:"low_balance_email_sent_at" bson:"low_balance_email_sent_at"`
	CreatedAt             time.Time           `grove:"created_at"                bson:"created_at"`
	UpdatedAt             time.Time           `grove:"updated_at"                bson:"updated_at"`
}

type replenishmentModel struct {
	Mode      string `bson:"mode"`
	Threshold int64  `bson:"threshold"`
	BundleID  string `bson:"bundle_id"`
}

type entryModel struct {
	ID           string    `bson:"id"`
	Type         string    `bson:"type"`
	Amount       int64     `bson:"amount"`
	BalanceAfter int64     `bson:"balance_after"`
	Description  string    `bson:"description"`
	OccurredAt   time.Time `bson:"occurred_at"`
}

func toReplenishmentModel(r *credit.Replenishment) *replenishmentModel {
	if r == nil {
		return nil
	}
	return &replenishmentModel{Mode: string(r.Mode), Threshold: r.Threshold, BundleID: r.BundleID}
}

func toEntryModels(entries []credit.Entry) []entryModel {
	out := make([]entryModel, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryModel{
			ID:           e.ID.String(),
			Type:         string(e.Type),
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			Description:  e.Description,
			OccurredAt:   e.OccurredAt.UTC(),
		})
	}
	return out
}

func toAccountModel(a *credit.Account) *accountModel {
	return &accountModel{
		UserID:                a.UserID.String(),
		Balance:               a.Balance,
		Replenishment:         toReplenishmentModel(a.Replenishment),
		History:               toEntryModels(a.History),
		LastUpdatedAt:         utcPtr(a.LastUpdatedAt),
		LastAutoPurchaseAt:    utcPtr(a.LastAutoPurchaseAt),
		LowBalanceEmailSentAt: utcPtr(a.LowBalanceEmailSentAt),
		CreatedAt:             a.CreatedAt.UTC(),
		UpdatedAt:             a.UpdatedAt.UTC(),
	}
}

func fromAccountModel(m *accountModel, withHistory bool) (*credit.Account, error) {
	userID, err := id.Parse(m.UserID)
	if err != nil {
		return nil, err
	}
	a := &credit.Account{
		Entity:                types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		UserID:                userID,
		Balance:               m.Balance,
		LastUpdatedAt:         utcPtr(m.LastUpdatedAt),
		LastAutoPurchaseAt:    utcPtr(m.LastAutoPurchaseAt),
		LowBalanceEmailSentAt: utcPtr(m.LowBalanceEmailSentAt),
	}
	if r := m.Replenishment; r != nil && r.Mode != "" {
		a.Replenishment = &credit.Replenishment{Mode: credit.Mode(r.Mode), Threshold: r.Threshold, BundleID: r.BundleID}
	}
	if !withHistory {
		return a, nil
	}
	for _, em := range m.History {
		entryID, err := id.Parse(em.ID)
		if err != nil {
			return nil, err
		}
		a.History = append(a.History, credit.Entry{
			ID:           entryID,
			Type:         credit.EntryType(em.Type),
			Amount:       em.Amount,
			BalanceAfter: em.BalanceAfter,
			Description:  em.Description,
			OccurredAt:   em.OccurredAt.UTC(),
		})
	}
	return a, nil
}

// ==================== Group models ====================

type groupModel struct {
	grove.BaseModel `grove:"table:passbook_groups"`

	ID           string            `grove:"id,pk"         bson:"_id"`
	Name         string            `grove:"name"          bson:"name"`
	OwnerID      string            `grove:"owner_id"      bson:"owner_id"`
	OrganizerIDs []string          `grove:"organizer_ids" bson:"organizer_ids"`
	Subscription subscriptionModel `grove:"subscription"  bson:"subscription"`
	// TxVersion is bumped by every publish transaction that reads the group.
	TxVersion int64     `grove:"tx_version" bson:"tx_version"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

type subscriptionModel struct {
	Status    string     `bson:"status"`
	ExpiredAt *time.Time `bson:"expired_at"`
	RenewedAt *time.Time `bson:"renewed_at"`
	UpdatedAt *time.Time `bson:"updated_at"`
	RenewsAt  *time.Time `bson:"renews_at"`
}

func toSubscriptionModel(st subscription.State) subscriptionModel {
	return subscriptionModel{
		Status:    string(st.Status),
		ExpiredAt: utcPtr(st.ExpiredAt),
		RenewedAt: utcPtr(st.RenewedAt),
		UpdatedAt: utcPtr(st.UpdatedAt),
		RenewsAt:  utcPtr(st.RenewsAt),
	}
}

func toGroupModel(g *group.Group) *groupModel {
	organizers := make([]string, 0, len(g.OrganizerIDs))
	for _, o := range g.OrganizerIDs {
		organizers = append(organizers, o.String())
	}
	return &groupModel{
		ID:           g.ID.String(),
		Name:         g.Name,
		OwnerID:      g.OwnerID.String(),
		OrganizerIDs: organizers,
		Subscription: toSubscriptionModel(g.Subscription),
		CreatedAt:    g.CreatedAt.UTC(),
		UpdatedAt:    g.UpdatedAt.UTC(),
	}
}

func fromGroupModel(m *groupModel) (*group.Group, error) {
	groupID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	ownerID, err := id.Parse(m.OwnerID)
	if err != nil {
		return nil, err
	}
	g := &group.Group{
		Entity:  types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:      groupID,
		Name:    m.Name,
		OwnerID: ownerID,
		Subscription: subscription.State{
			Status:    subscription.Status(m.Subscription.Status),
			ExpiredAt: utcPtr(m.Subscription.ExpiredAt),
			RenewedAt: utcPtr(m.Subscription.RenewedAt),
			UpdatedAt: utcPtr(m.Subscription.UpdatedAt),
			RenewsAt:  utcPtr(m.Subscription.RenewsAt),
		},
	}
	for _, o := range m.OrganizerIDs {
		parsed, err := id.Parse(o)
		if err != nil {
			return nil, err
		}
		g.OrganizerIDs = append(g.OrganizerIDs, parsed)
	}
	return g, nil
}

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:passbook_events"`

	ID           string     `grove:"id,pk"         bson:"_id"`
	GroupID      string     `grove:"group_id"      bson:"group_id"`
	CreatedByID  string     `grove:"created_by_id" bson:"created_by_id"`
	Title        string     `grove:"title"         bson:"title"`
	Description  string     `grove:"description"   bson:"description"`
	Location     string     `grove:"location"      bson:"location"`
	HostName     string     `grove:"host_name"     bson:"host_name"`
	StartsAt     time.Time  `grove:"starts_at"     bson:"starts_at"`
	EndsAt       *time.Time `grove:"ends_at"       bson:"ends_at,omitempty"`
	IsVisible    bool       `grove:"is_visible"    bson:"is_visible"`
	HiddenReason string     `grove:"hidden_reason" bson:"hidden_reason"`
	HiddenAt     *time.Time `grove:"hidden_at"     bson:"hidden_at"`
	CreatedAt    time.Time  `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time  `grove:"updated_at"    bson:"updated_at"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		ID:           e.ID.String(),
		GroupID:      e.GroupID.String(),
		CreatedByID:  e.CreatedByID.String(),
		Title:        e.Title,
		Description:  e.Description,
		Location:     e.Location,
		HostName:     e.HostName,
		StartsAt:     e.StartsAt.UTC(),
		EndsAt:       utcPtr(e.EndsAt),
		IsVisible:    e.IsVisible,
		HiddenReason: e.Hidden.String(),
		HiddenAt:     utcPtr(e.HiddenAt),
		CreatedAt:    e.CreatedAt.UTC(),
		UpdatedAt:    e.UpdatedAt.UTC(),
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eventID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	groupID, err := id.Parse(m.GroupID)
	if err != nil {
		return nil, err
	}
	createdBy, err := id.Parse(m.CreatedByID)
	if err != nil {
		return nil, err
	}
	return &event.Event{
		Entity:      types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:          eventID,
		GroupID:     groupID,
		CreatedByID: createdBy,
		Title:       m.Title,
		Description: m.Description,
		Location:    m.Location,
		HostName:    m.HostName,
		StartsAt:    m.StartsAt.UTC(),
		EndsAt:      utcPtr(m.EndsAt),
		IsVisible:   m.IsVisible,
		Hidden:      event.ParseHiddenReason(m.HiddenReason),
		HiddenAt:    utcPtr(m.HiddenAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
