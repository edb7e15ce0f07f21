// Package keystore implements the filesystem-rooted ed25519 key store
// (§4.8). Directory and key-file operations are serialized on a single
// executor goroutine; the in-memory tag maps are guarded by a mutex.
package keystore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/synthfi-arb/arb/internal/apperr"
	"github.com/synthfi-arb/arb/pkg/types"
)

// ownerOnlyMode is the required directory/file permission: owner
// read/write/execute, no group or other bits.
const ownerOnlyMode = 0o700

// wellKnownRaw holds the tags pre-populated at construction, matching the
// reference key store's bootstrap set.
var wellKnownRaw = map[string]types.PublicKey{
	"sysvar_program":     types.ZeroHash,
	"sysvar_rent":        mustDecode("SysvarRent111111111111111111111111111111111"),
	"spl_token_program":  mustDecode("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"),
	"pyth_usdt_product":  mustDecode("C5wDxND9E61RZ1wZhaSTWkoA8udumaHnoQY6BBsiaVpn"),
	"mainnet_usdt":       mustDecode("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"),
}

func mustDecode(b58 string) types.PublicKey {
	h, err := types.NewHashFromBase58(b58)
	if err != nil {
		// A malformed literal here is a programming error, not a runtime
		// condition; fail fast at package init rather than silently
		// serving a bad key.
		panic(fmt.Sprintf("keystore: invalid well-known literal %q: %v", b58, err))
	}
	return h
}

// command is one serialized operation submitted to the executor.
type command struct {
	fn   func() (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Store is the key store. CreateDirectory, CreateKeyPair and LoadKeyPair
// enqueue work onto a single executor goroutine, serializing access to the
// underlying directory. GetPublicKey and GetKeyPair do not go through the
// executor: they read the in-memory tag maps directly under mu, which the
// executor also takes when it writes them.
type Store struct {
	directory string

	cmdCh chan command

	mu      sync.Mutex
	loaded  map[string]types.KeyPair
	pubOnly map[string]types.PublicKey
}

// New constructs a Store rooted at directory, pre-populated with the
// well-known tags, and starts its executor goroutine, which runs until ctx
// is cancelled; callers just construct and use.
func New(ctx context.Context, directory string) *Store {
	s := &Store{
		directory: directory,
		cmdCh:     make(chan command),
		loaded:    make(map[string]types.KeyPair),
		pubOnly:   make(map[string]types.PublicKey, len(wellKnownRaw)),
	}
	for tag, pk := range wellKnownRaw {
		s.pubOnly[tag] = pk
	}
	go s.run(ctx)
	return s
}

func (s *Store) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmdCh:
			v, err := cmd.fn()
			cmd.done <- result{value: v, err: err}
		}
	}
}

func (s *Store) submit(ctx context.Context, fn func() (any, error)) (any, error) {
	cmd := command{fn: fn, done: make(chan result, 1)}
	select {
	case s.cmdCh <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-cmd.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateDirectory creates the key store's root directory with mode 0700,
// then verifies ownership and permissions.
func (s *Store) CreateDirectory(ctx context.Context) error {
	_, err := s.submit(ctx, func() (any, error) {
		if err := os.Mkdir(s.directory, ownerOnlyMode); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("%w: mkdir %s: %v", apperr.ErrInternal, s.directory, err)
		}
		if err := os.Chmod(s.directory, ownerOnlyMode); err != nil {
			return nil, fmt.Errorf("%w: chmod %s: %v", apperr.ErrInternal, s.directory, err)
		}
		return nil, s.verifyLocked()
	})
	return err
}

// verifyLocked checks: directory exists, caller is owner (real AND
// effective uid match the directory's owner), mode is exactly 0700 (no
// group/other bits). Must be called from within the executor.
func (s *Store) verifyLocked() error {
	info, err := os.Stat(s.directory)
	if err != nil {
		return fmt.Errorf("%w: key store directory %s does not exist: %v", apperr.ErrNotFound, s.directory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: key store path %s is not a directory", apperr.ErrInvalidArgument, s.directory)
	}

	if err := checkOwnership(info, s.directory); err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != ownerOnlyMode {
		return fmt.Errorf("%w: key store directory %s has mode %o, want %o (no group/other bits)",
			apperr.ErrPermission, s.directory, mode, ownerOnlyMode)
	}
	return nil
}

func (s *Store) keyPath(tag string) string {
	return filepath.Join(s.directory, tag+"_keypair.json")
}

// CreateKeyPair generates a new ed25519 key pair and persists it under
// ${dir}/${tag}_keypair.json with O_EXCL (refuses to overwrite). If tag is
// empty, it defaults to the base58 form of the generated public key.
func (s *Store) CreateKeyPair(ctx context.Context, tag string) (types.KeyPair, error) {
	v, err := s.submit(ctx, func() (any, error) {
		if err := s.verifyLocked(); err != nil {
			return nil, err
		}
		kp, err := types.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("%w: generate key pair: %v", apperr.ErrInternal, err)
		}
		resolvedTag := tag
		if resolvedTag == "" {
			resolvedTag = kp.Public.String()
		}

		raw := kp.Bytes()
		arr := make([]int, len(raw))
		for i, b := range raw {
			arr[i] = int(b)
		}
		data, err := json.Marshal(arr)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal key pair: %v", apperr.ErrDeserialize, err)
		}

		f, err := os.OpenFile(s.keyPath(resolvedTag), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			if os.IsExist(err) {
				return nil, fmt.Errorf("%w: key pair for tag %q already exists", apperr.ErrPreconditionFailed, resolvedTag)
			}
			return nil, fmt.Errorf("%w: create key pair file: %v", apperr.ErrInternal, err)
		}
		_, writeErr := f.Write(data)
		closeErr := f.Close()
		if writeErr != nil {
			return nil, fmt.Errorf("%w: write key pair file: %v", apperr.ErrInternal, writeErr)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("%w: close key pair file: %v", apperr.ErrInternal, closeErr)
		}

		s.mu.Lock()
		s.loaded[resolvedTag] = kp
		s.pubOnly[resolvedTag] = kp.Public
		s.mu.Unlock()
		return kp, nil
	})
	if err != nil {
		return types.KeyPair{}, err
	}
	return v.(types.KeyPair), nil
}

// LoadKeyPair reads a persisted key pair from disk. Idempotent: if the tag
// is already loaded in memory, it is returned without touching disk.
func (s *Store) LoadKeyPair(ctx context.Context, tag string) (types.KeyPair, error) {
	v, err := s.submit(ctx, func() (any, error) {
		s.mu.Lock()
		if kp, ok := s.loaded[tag]; ok {
			s.mu.Unlock()
			return kp, nil
		}
		s.mu.Unlock()

		data, err := os.ReadFile(s.keyPath(tag))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: key pair for tag %q not found", apperr.ErrNotFound, tag)
			}
			return nil, fmt.Errorf("%w: read key pair file: %v", apperr.ErrInternal, err)
		}
		var arr []int
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, fmt.Errorf("%w: parse key pair file: %v", apperr.ErrDeserialize, err)
		}
		raw := make([]byte, len(arr))
		for i, n := range arr {
			if n < 0 || n > 255 {
				return nil, fmt.Errorf("%w: key pair byte %d out of range", apperr.ErrDeserialize, n)
			}
			raw[i] = byte(n)
		}
		kp, err := types.KeyPairFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: reconstruct key pair: %v", apperr.ErrDeserialize, err)
		}

		s.mu.Lock()
		s.loaded[tag] = kp
		s.pubOnly[tag] = kp.Public
		s.mu.Unlock()
		return kp, nil
	})
	if err != nil {
		return types.KeyPair{}, err
	}
	return v.(types.KeyPair), nil
}

// GetPublicKey looks up a public key by tag (loaded key pairs and
// well-known tags both populate this map).
func (s *Store) GetPublicKey(tag string) (types.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk, ok := s.pubOnly[tag]
	if !ok {
		return types.PublicKey{}, fmt.Errorf("%w: no public key registered for tag %q", apperr.ErrNotFound, tag)
	}
	return pk, nil
}

// GetKeyPair looks up a full key pair by tag; well-known tags (which have
// no private half) return apperr.ErrNotFound.
func (s *Store) GetKeyPair(tag string) (types.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kp, ok := s.loaded[tag]
	if !ok {
		return types.KeyPair{}, fmt.Errorf("%w: no key pair loaded for tag %q", apperr.ErrNotFound, tag)
	}
	return kp, nil
}
