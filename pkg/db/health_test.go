package db

import (
	"context"
	"testing"
)

func TestCheck_NilPool(t *testing.T) {
	status := Check(context.Background(), nil)

	if status.Healthy {
		t.Error("expected unhealthy status for nil pool")
	}
	if status.Error != "pool is nil" {
		t.Errorf("expected 'pool is nil' error, got '%s'", status.Error)
	}
}
