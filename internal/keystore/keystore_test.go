package keystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/synthfi-arb/arb/internal/apperr"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dir := filepath.Join(t.TempDir(), "keys")
	return New(ctx, dir), ctx
}

func TestCreateDirectoryAndVerify(t *testing.T) {
	store, ctx := newTestStore(t)
	if err := store.CreateDirectory(ctx); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	info, err := os.Stat(store.directory)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != ownerOnlyMode {
		t.Fatalf("mode = %o, want %o", info.Mode().Perm(), ownerOnlyMode)
	}
}

func TestCreateKeyPairRejectsWrongMode(t *testing.T) {
	store, ctx := newTestStore(t)
	if err := store.CreateDirectory(ctx); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if err := os.Chmod(store.directory, 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	_, err := store.CreateKeyPair(ctx, "trading")
	if err == nil {
		t.Fatal("expected permission error for 0755 directory, got nil")
	}
	if apperr.KindOf(err) != apperr.KindPermission {
		t.Fatalf("kind = %v, want KindPermission", apperr.KindOf(err))
	}
}

func TestCreateKeyPairAndLoad(t *testing.T) {
	store, ctx := newTestStore(t)
	if err := store.CreateDirectory(ctx); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}

	kp, err := store.CreateKeyPair(ctx, "trading")
	if err != nil {
		t.Fatalf("CreateKeyPair: %v", err)
	}

	pub, err := store.GetPublicKey("trading")
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	if pub != kp.Public {
		t.Fatal("GetPublicKey does not match generated key pair")
	}

	loaded, err := store.GetKeyPair("trading")
	if err != nil {
		t.Fatalf("GetKeyPair: %v", err)
	}
	if loaded.Public != kp.Public {
		t.Fatal("GetKeyPair returned a different public key")
	}
}

func TestCreateKeyPairDefaultTag(t *testing.T) {
	store, ctx := newTestStore(t)
	if err := store.CreateDirectory(ctx); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	kp, err := store.CreateKeyPair(ctx, "")
	if err != nil {
		t.Fatalf("CreateKeyPair: %v", err)
	}
	pub, err := store.GetPublicKey(kp.Public.String())
	if err != nil {
		t.Fatalf("GetPublicKey(default tag): %v", err)
	}
	if pub != kp.Public {
		t.Fatal("default tag does not resolve to generated key")
	}
}

func TestCreateKeyPairRefusesOverwrite(t *testing.T) {
	store, ctx := newTestStore(t)
	if err := store.CreateDirectory(ctx); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := store.CreateKeyPair(ctx, "dup"); err != nil {
		t.Fatalf("first CreateKeyPair: %v", err)
	}
	_, err := store.CreateKeyPair(ctx, "dup")
	if err == nil {
		t.Fatal("expected precondition-failed error on duplicate tag, got nil")
	}
	if apperr.KindOf(err) != apperr.KindPreconditionFailed {
		t.Fatalf("kind = %v, want KindPreconditionFailed", apperr.KindOf(err))
	}
}

func TestLoadKeyPairNotFound(t *testing.T) {
	store, ctx := newTestStore(t)
	if err := store.CreateDirectory(ctx); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	_, err := store.LoadKeyPair(ctx, "missing")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("kind = %v, want KindNotFound", apperr.KindOf(err))
	}
}

func TestWellKnownTagsPrePopulated(t *testing.T) {
	store, _ := newTestStore(t)
	for _, tag := range []string{"sysvar_program", "sysvar_rent", "spl_token_program", "pyth_usdt_product", "mainnet_usdt"} {
		if _, err := store.GetPublicKey(tag); err != nil {
			t.Fatalf("GetPublicKey(%q): %v", tag, err)
		}
	}
}

func TestLoadKeyPairIdempotent(t *testing.T) {
	store, ctx := newTestStore(t)
	if err := store.CreateDirectory(ctx); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	kp, err := store.CreateKeyPair(ctx, "idem")
	if err != nil {
		t.Fatalf("CreateKeyPair: %v", err)
	}

	loaded, err := store.LoadKeyPair(ctx, "idem")
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}
	if loaded.Public != kp.Public {
		t.Fatal("loaded key pair does not match created one")
	}
}
