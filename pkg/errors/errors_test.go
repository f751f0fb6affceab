package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFromErrorKeepsTypedError(t *testing.T) {
	err := Clone(ErrNotFound, "student not found")
	got := FromError(fmt.Errorf("load: %w", err))
	if got.Code != ErrNotFound.Code || got.Status != http.StatusNotFound {
		t.Fatalf("unexpected mapping: %s %d", got.Code, got.Status)
	}
}

func TestFromErrorMapsDeadlineToStoreUnavailable(t *testing.T) {
	// A deadline buried under domain wrapping still means a stalled store.
	err := Wrap(fmt.Errorf("find student: %w", context.DeadlineExceeded),
		ErrInternal.Code, ErrInternal.Status, "failed to load student")
	got := FromError(err)
	if got.Code != ErrStoreUnavailable.Code {
		t.Fatalf("unexpected code: %s", got.Code)
	}
	if got.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", got.Status)
	}
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	got := FromError(errors.New("boom"))
	if got.Code != ErrInternal.Code || got.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected mapping: %s %d", got.Code, got.Status)
	}
}
