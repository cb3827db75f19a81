package identity

import (
	"context"
	"testing"

	"cubechat/pkg/store"
)

func TestResolveCreatesUserWithoutNickname(t *testing.T) {
	r := NewResolver(store.NewMemoryStore())
	res, err := r.Resolve(context.Background(), Hints{Fingerprint: "fp-1", BackupID: "backup-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.User.ID == "" {
		t.Fatal("expected created user id")
	}
	if res.User.Nickname != "" {
		t.Fatalf("new users must not get a nickname, got %q", res.User.Nickname)
	}
	if res.User.BackupIDs["localStorage"] != "backup-1" {
		t.Fatalf("backup id not stored: %+v", res.User.BackupIDs)
	}
}

func TestResolveIsStableWithinSession(t *testing.T) {
	r := NewResolver(store.NewMemoryStore())
	hints := Hints{Fingerprint: "fp-1", BackupID: "backup-1"}

	first, err := r.Resolve(context.Background(), hints)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), hints)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.User.ID != second.User.ID {
		t.Fatalf("identity changed within a session: %q vs %q", first.User.ID, second.User.ID)
	}
}

func TestResolveAfterClearRerunsChain(t *testing.T) {
	mem := store.NewMemoryStore()
	r := NewResolver(mem)
	hints := Hints{Fingerprint: "fp-1", BackupID: "backup-1"}

	first, err := r.Resolve(context.Background(), hints)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.Clear()
	second, err := r.Resolve(context.Background(), hints)
	if err != nil {
		t.Fatalf("resolve after clear: %v", err)
	}
	// The chain re-runs but still finds the same stored user.
	if first.User.ID != second.User.ID {
		t.Fatalf("expected the same stored user, got %q vs %q", first.User.ID, second.User.ID)
	}
}

func TestResolveByBackupIDRefreshesDriftedFingerprint(t *testing.T) {
	mem := store.NewMemoryStore()
	r := NewResolver(mem)

	created, err := r.Resolve(context.Background(), Hints{Fingerprint: "fp-old", BackupID: "backup-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// New resolver, drifted fingerprint, same backup id.
	r2 := NewResolver(mem)
	drifted, err := r2.Resolve(context.Background(), Hints{Fingerprint: "fp-new", BackupID: "backup-1"})
	if err != nil {
		t.Fatalf("resolve drifted: %v", err)
	}
	if drifted.User.ID != created.User.ID {
		t.Fatalf("backup id should recover the same user, got %q vs %q", drifted.User.ID, created.User.ID)
	}

	stored, found, err := mem.UserByFingerprint(context.Background(), "fp-new")
	if err != nil || !found {
		t.Fatalf("fingerprint was not refreshed: found=%v err=%v", found, err)
	}
	if stored.ID != created.User.ID {
		t.Fatalf("refreshed fingerprint attached to wrong user %q", stored.ID)
	}
}

func TestResolveMintsBackupIDWhenAbsent(t *testing.T) {
	r := NewResolver(store.NewMemoryStore())
	res, err := r.Resolve(context.Background(), Hints{Fingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.BackupID == "" {
		t.Fatal("expected a minted backup id for the client to persist")
	}
}

func TestFallbackFingerprintIsDeterministic(t *testing.T) {
	hints := Hints{
		UserAgent:       "Mozilla/5.0",
		Language:        "en-US",
		ScreenSize:      "1920x1080",
		TimezoneOffset:  -120,
		CanvasSignature: "data:image/png;base64,xyz",
	}
	a := FallbackFingerprint(hints)
	b := FallbackFingerprint(hints)
	if a == "" || a != b {
		t.Fatalf("fallback fingerprint unstable: %q vs %q", a, b)
	}

	hints.ScreenSize = "1280x720"
	if c := FallbackFingerprint(hints); c == a {
		t.Fatal("different heuristics should change the fallback fingerprint")
	}
}

func TestResolveUsesFallbackWhenFingerprintMissing(t *testing.T) {
	mem := store.NewMemoryStore()
	r := NewResolver(mem)
	hints := Hints{UserAgent: "UA", Language: "en", ScreenSize: "800x600"}

	res, err := r.Resolve(context.Background(), hints)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.User.Fingerprint != FallbackFingerprint(hints) {
		t.Fatalf("expected heuristic fingerprint, got %q", res.User.Fingerprint)
	}
}
