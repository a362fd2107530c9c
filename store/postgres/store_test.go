package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/store/postgres"
	"github.com/xraph/passbook/store/storetest"
)

// Set PASSBOOK_POSTGRES_DSN to run against a disposable database. Tables
// are truncated before each subtest.
func TestStore(t *testing.T) {
	dsn := os.Getenv("PASSBOOK_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PASSBOOK_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		_, err = s.Pool().Exec(ctx, `TRUNCATE passbook_credit_entries, passbook_accounts, passbook_groups, passbook_events`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
