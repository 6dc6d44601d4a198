package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestNewTransportError(t *testing.T) {
	cause := errors.New("connection reset")
	te := NewTransportError("remote", "get", 0, cause)

	if te.Storage != "remote" || te.Op != "get" || te.Status != 0 {
		t.Fatalf("unexpected fields: %+v", te)
	}
	if !errors.Is(te, cause) {
		t.Fatal("transport error should unwrap to its cause")
	}
	if !strings.Contains(te.Error(), "connection reset") {
		t.Fatalf("message should carry the cause: %q", te.Error())
	}

	withStatus := NewTransportError("remote", "push", 503, cause)
	if withStatus.Status != 503 {
		t.Fatalf("status = %d, want 503", withStatus.Status)
	}
	if !strings.Contains(withStatus.Error(), "503") {
		t.Fatalf("message should carry the status: %q", withStatus.Error())
	}
}

func TestNewHTTPTransportError(t *testing.T) {
	te := NewHTTPTransportError("web", "stat", 404)
	if te.Status != 404 || te.Err != nil {
		t.Fatalf("unexpected fields: %+v", te)
	}
	if !strings.Contains(te.Error(), "404") {
		t.Fatalf("message should carry the status: %q", te.Error())
	}
}
