package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrNotFound, true},
		{"wrapped once", fmt.Errorf("get row: %w", ErrNotFound), true},
		{"wrapped twice", fmt.Errorf("store: %w", fmt.Errorf("blob: %w", ErrNotFound)), true},
		{"different error", ErrValidation, false},
		{"nil error", nil, false},
		{"unrelated error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrValidation, true},
		{"wrapped", fmt.Errorf("gross_weight: %w", ErrValidation), true},
		{"different error", ErrNotFound, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUnauthorized(t *testing.T) {
	if !IsUnauthorized(fmt.Errorf("export archive: %w", ErrUnauthorized)) {
		t.Error("IsUnauthorized() = false for wrapped ErrUnauthorized")
	}
	if IsUnauthorized(ErrInvalidState) {
		t.Error("IsUnauthorized() = true for ErrInvalidState")
	}
}

func TestIsInvalidState(t *testing.T) {
	if !IsInvalidState(fmt.Errorf("update while enriching: %w", ErrInvalidState)) {
		t.Error("IsInvalidState() = false for wrapped ErrInvalidState")
	}
	if IsInvalidState(nil) {
		t.Error("IsInvalidState(nil) = true")
	}
}

func TestIsAlreadyExists(t *testing.T) {
	if !IsAlreadyExists(ErrAlreadyExists) {
		t.Error("IsAlreadyExists() = false for ErrAlreadyExists")
	}
	if IsAlreadyExists(ErrNotFound) {
		t.Error("IsAlreadyExists() = true for ErrNotFound")
	}
}
