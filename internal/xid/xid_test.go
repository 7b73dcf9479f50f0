package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIsPrefixedUUID(t *testing.T) {
	id := New("tkt")
	rest, ok := strings.CutPrefix(id, "tkt_")
	if !ok {
		t.Fatalf("expected tkt_ prefix, got %q", id)
	}
	if _, err := uuid.Parse(rest); err != nil {
		t.Fatalf("expected uuid suffix, got %q: %v", rest, err)
	}
	if New("tkt") == id {
		t.Fatalf("expected distinct ids")
	}
}
