package passbook

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("wrap: %w", ErrInsufficientCredits), "insufficient_credits"},
		{ErrUnauthorized, "unauthorized"},
		{ErrSubscriptionInactive, "subscription_inactive"},
		{ErrMissingGroupAssociation, "missing_group_association"},
		{ValidationError{Field: "title", Message: "is required"}, "invalid_input"},
		{ErrAccountNotFound, "invalid_input"},
		{fmt.Errorf("%w: %w", ErrStoreUnavailable, errors.New("dial tcp")), "store_unavailable"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	storeErr := fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrStoreClosed)
	if IsCallerError(storeErr) || !IsRetryable(storeErr) {
		t.Errorf("store error misclassified")
	}
	if !IsCallerError(ValidationError{Field: "user_id"}) {
		t.Errorf("validation error should be a caller error")
	}
	if !IsNotFound(fmt.Errorf("x: %w", ErrGroupNotFound)) {
		t.Errorf("IsNotFound should see wrapped ErrGroupNotFound")
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.ErrorOrNil() != nil {
		t.Fatal("empty MultiError should be nil")
	}
	m.Add(nil)
	m.Add(ErrGroupNotFound)
	m.Add(errors.New("other"))

	err := m.ErrorOrNil()
	if err == nil || !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("ErrorOrNil = %v, want wrapped ErrGroupNotFound", err)
	}
	if err.Error() != "passbook: 2 errors occurred" {
		t.Errorf("Error() = %q", err.Error())
	}
}
