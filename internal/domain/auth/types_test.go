package auth

import (
	"testing"
	"time"
)

func TestIdentity_Expired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if (Identity{}).Expired(now) {
		t.Fatalf("identity without expiry must not expire")
	}
	if (Identity{ExpiresAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatalf("did not expect expiry")
	}
	if !(Identity{ExpiresAt: now}).Expired(now) {
		t.Fatalf("expected expiry at the boundary")
	}
}

func TestIdentity_Owns(t *testing.T) {
	id := Identity{UserID: "u1"}
	if !id.Owns("u1") {
		t.Fatalf("expected owner match")
	}
	if id.Owns("u2") {
		t.Fatalf("did not expect match for other user")
	}
	if (Identity{}).Owns("") {
		t.Fatalf("anonymous identity must not own anything")
	}
}
