package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/store/sqlite"
	"github.com/xraph/passbook/store/storetest"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "passbook.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
