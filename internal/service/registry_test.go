package service

import (
	"testing"
)

func TestSocketKeyRoundTrip(t *testing.T) {
	key := socketKey(42, "conn-abc")
	if key != "42.conn-abc" {
		t.Errorf("unexpected key format: %q", key)
	}

	userID, connID, ok := parseSocketKey(key)
	if !ok {
		t.Fatal("parseSocketKey failed on a valid key")
	}
	if userID != 42 || connID != "conn-abc" {
		t.Errorf("round trip mismatch: got (%d, %q)", userID, connID)
	}
}

func TestParseSocketKey_ConnIDWithDots(t *testing.T) {
	// 連接 ID 本身可能含點號，只有第一個點是分隔符
	userID, connID, ok := parseSocketKey("7.a.b.c")
	if !ok || userID != 7 || connID != "a.b.c" {
		t.Errorf("got (%d, %q, %v)", userID, connID, ok)
	}
}

func TestParseSocketKey_Invalid(t *testing.T) {
	cases := []string{"", "noseparator", ".conn", "12.", "abc.conn"}
	for _, key := range cases {
		if _, _, ok := parseSocketKey(key); ok {
			t.Errorf("expected parse failure for %q", key)
		}
	}
}
