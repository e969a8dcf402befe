package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("cmt")
	if !strings.HasPrefix(id, "cmt_") || len(id) != len("cmt_")+32 {
		t.Fatalf("NewID() = %q", id)
	}
	if NewID("cmt") == id {
		t.Fatal("expected distinct ids")
	}
	if got := NewID(""); len(got) != 32 || strings.Contains(got, "_") {
		t.Fatalf("NewID(\"\") = %q", got)
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID(); len(got) != 16 {
		t.Fatalf("ShortID() = %q", got)
	}
}
