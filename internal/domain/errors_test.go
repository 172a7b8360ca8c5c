package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrVersionConflict, want: true},
		{name: "wrapped version conflict error", err: errors.Join(ErrVersionConflict, errors.New("additional context")), want: true},
		{name: "status conflict is not a version conflict", err: ErrStatusConflict, want: false},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "idempotency already exists", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "idempotency hash mismatch", err: ErrIdempotencyHashMismatch, want: true},
		{name: "wrapped idempotency conflict", err: errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")), want: true},
		{name: "non idempotency error", err: ErrVersionConflict, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsIdempotencyConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotFoundVariantsMatchKind(t *testing.T) {
	for _, err := range []error{ErrOrderNotFound, ErrProductNotFound, ErrCartItemNotFound, ErrUserNotFound} {
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("%v must match ErrNotFound", err)
		}
	}
	if errors.Is(ErrInsufficientStock, ErrNotFound) {
		t.Fatalf("insufficient stock must not match ErrNotFound")
	}
}

func TestNewErrorKeepsKindAndMessage(t *testing.T) {
	err := fmt.Errorf("checkout: %w", NewError(ErrInvalidInput, "Shipping address and payment method are required"))

	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput kind, got %v", err)
	}
	var domainErr *Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected *Error in chain")
	}
	if domainErr.Message != "Shipping address and payment method are required" {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("lookup: %w", ErrProductNotFound)) {
		t.Fatal("wrapped product not found should be not found")
	}
	if !IsNotFound(NewError(ErrOrderNotFound, "Order not found")) {
		t.Fatal("order not found error should be not found")
	}
	if IsNotFound(ErrConflict) || IsNotFound(nil) {
		t.Fatal("conflict and nil are not not-found errors")
	}
}
