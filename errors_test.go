package builddb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	err := error(&NotFoundError{Key: "couchbase-server-7.0.0-1234"})

	if err.Error() != `unable to find key "couchbase-server-7.0.0-1234" in database` {
		t.Errorf("message = %q", err.Error())
	}
	if !errors.Is(err, ErrNotFound) || !IsNotFound(err) {
		t.Error("NotFoundError should match ErrNotFound")
	}
	if errors.Is(err, ErrInvalidDocument) {
		t.Error("NotFoundError should not match other sentinels")
	}

	wrapped := fmt.Errorf("loading build: %w", err)
	var nf *NotFoundError
	if !errors.As(wrapped, &nf) || nf.Key != "couchbase-server-7.0.0-1234" {
		t.Errorf("errors.As through wrap failed: %v", nf)
	}
}

func TestUpsertError(t *testing.T) {
	err := &UpsertError{
		Total: 3,
		Failed: []BatchOperation{
			{Key: "tlm-b", Error: ErrUnauthorized},
			{Key: "tlm-a", Error: context.DeadlineExceeded},
		},
	}

	if keys := err.FailedKeys(); len(keys) != 2 || keys[0] != "tlm-a" || keys[1] != "tlm-b" {
		t.Errorf("FailedKeys() = %v", keys)
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "unable to insert/update 2 of 3 documents: tlm-a, tlm-b") {
		t.Errorf("message = %q", msg)
	}
	if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, context.DeadlineExceeded) {
		t.Error("UpsertError should unwrap to every cause")
	}
	if !IsUpsertFailure(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsUpsertFailure should see through wrapping")
	}
	if IsUpsertFailure(ErrNotFound) {
		t.Error("IsUpsertFailure(ErrNotFound) should be false")
	}
}

func TestWithContext(t *testing.T) {
	err := WithContext(ErrInvalidConfig, map[string]interface{}{
		"field": "db_uri",
	})

	var withCtx *ErrorWithContext
	if !errors.As(err, &withCtx) {
		t.Fatalf("expected *ErrorWithContext, got %T", err)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("expected error to wrap ErrInvalidConfig")
	}
	if withCtx.Context["field"] != "db_uri" {
		t.Errorf("context = %v", withCtx.Context)
	}
	if !strings.Contains(err.Error(), "db_uri") {
		t.Errorf("message should include context: %q", err.Error())
	}

	if WithContext(nil, map[string]interface{}{"a": 1}) != nil {
		t.Error("WithContext(nil) should return nil")
	}
	if WithContext(ErrNotFound, nil).Error() != ErrNotFound.Error() {
		t.Error("empty context should not change the message")
	}
}
