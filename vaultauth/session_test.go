package vaultauth

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestSessionLifecycle(t *testing.T) {
	m := NewSessionManager(30 * time.Minute)
	kek := testKEK()

	id, err := m.Create("u", "v", kek, VaultTypeReal)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	view, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if view.UserID != "u" || view.VaultID != "v" || view.VaultType != VaultTypeReal {
		t.Errorf("unexpected view: %+v", view)
	}
	if !bytes.Equal(view.KEK, kek) {
		t.Error("view KEK does not match")
	}

	// The view holds an independent copy.
	view.KEK.Zero()
	again, err := m.Get(id)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if !bytes.Equal(again.KEK, kek) {
		t.Error("zeroing a view corrupted the stored KEK")
	}

	m.Destroy(id)
	if _, err := m.Get(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after Destroy = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	m := NewSessionManager(30 * time.Minute)
	m.now = func() time.Time { return clock }

	id, err := m.Create("u", "v", testKEK(), VaultTypeReal)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	clock = clock.Add(29 * time.Minute)
	if _, err := m.Get(id); err != nil {
		t.Fatalf("session expired early: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := m.Get(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after TTL = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionDestroyAll(t *testing.T) {
	m := NewSessionManager(time.Hour)

	a, _ := m.Create("u", "v", testKEK(), VaultTypeReal)
	b, _ := m.Create("u", "v", testKEK(), VaultTypeDecoy)
	other, _ := m.Create("u", "w", testKEK(), VaultTypeReal)

	m.DestroyAll("u", "v")

	if _, err := m.Get(a); !errors.Is(err, ErrSessionNotFound) {
		t.Error("first session survived DestroyAll")
	}
	if _, err := m.Get(b); !errors.Is(err, ErrSessionNotFound) {
		t.Error("second session survived DestroyAll")
	}
	if _, err := m.Get(other); err != nil {
		t.Errorf("unrelated vault's session destroyed: %v", err)
	}
}

func TestSessionSweep(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	m := NewSessionManager(time.Minute)
	m.now = func() time.Time { return clock }

	m.Create("u", "v", testKEK(), VaultTypeReal)
	m.Create("u", "v", testKEK(), VaultTypeReal)

	clock = clock.Add(2 * time.Minute)
	if n := m.Sweep(); n != 2 {
		t.Errorf("Sweep reclaimed %d sessions, want 2", n)
	}
}
