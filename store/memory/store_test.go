package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/store/memory"
	"github.com/xraph/passbook/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestClosedStore(t *testing.T) {
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, passbook.ErrStoreClosed) {
		t.Errorf("Ping err = %v, want ErrStoreClosed", err)
	}
	err := s.RunInTx(context.Background(), func(context.Context, store.Tx) error { return nil })
	if !errors.Is(err, passbook.ErrStoreClosed) {
		t.Errorf("RunInTx err = %v, want ErrStoreClosed", err)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a := storetest.NewAccount(4)
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	got, err := s.GetAccount(ctx, a.UserID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	got.Balance = 100
	got.Replenishment.Threshold = 99

	again, err := s.GetAccount(ctx, a.UserID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if again.Balance != 4 || again.Replenishment.Threshold != 1 {
		t.Errorf("store state leaked through returned pointer: %+v", again)
	}
}
