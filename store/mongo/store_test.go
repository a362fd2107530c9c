package mongo_test

import (
	"context"
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/store/mongo"
	"github.com/xraph/passbook/store/storetest"
	"github.com/xraph/passbook/subscription"
)

// Set PASSBOOK_MONGO_DSN to a replica set uri naming a disposable database,
// for example mongodb://localhost:27017/passbook_test?replicaSet=rs0.
// Collections are emptied before each subtest.
func newStore(t *testing.T) *mongo.Store {
	t.Helper()
	dsn := os.Getenv("PASSBOOK_MONGO_DSN")
	if dsn == "" {
		t.Skip("PASSBOOK_MONGO_DSN not set")
	}

	ctx := context.Background()
	s, err := mongo.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	mdb := mongodriver.Unwrap(s.DB())
	for _, col := range []string{"passbook_accounts", "passbook_groups", "passbook_events"} {
		if _, err := mdb.Collection(col).DeleteMany(ctx, bson.M{}); err != nil {
			t.Fatalf("clear %s: %v", col, err)
		}
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newStore(t) })
}

func TestTxGetGroupWritesGroup(t *testing.T) {
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	g := storetest.NewGroup(id.NewUserID(), subscription.StatusActive)
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	for range 2 {
		err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.GetGroup(ctx, g.ID)
			return err
		})
		if err != nil {
			t.Fatalf("RunInTx: %v", err)
		}
	}

	var doc struct {
		TxVersion int64 `bson:"tx_version"`
	}
	err := mongodriver.Unwrap(s.DB()).Collection("passbook_groups").
		FindOne(ctx, bson.M{"_id": g.ID.String()}).Decode(&doc)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc.TxVersion != 2 {
		t.Errorf("tx_version = %d, want 2", doc.TxVersion)
	}

	got, err := s.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if got.Subscription.Status != subscription.StatusActive {
		t.Errorf("status = %q, want active", got.Subscription.Status)
	}
}
