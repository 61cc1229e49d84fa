// Package credstore persists per-provider OAuth credentials encrypted
// at rest. Plaintext exists only in memory while the process runs;
// logout removes the ciphertext entirely. The store is the single
// writer of credential files — everything else holds transient copies.
package credstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/logsink"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrNotFound means the provider was never authenticated.
	ErrNotFound = errors.New("credstore: credential not found")

	// ErrDecryption means the stored ciphertext does not match the
	// current key — key rotation or tampering. Re-login is required.
	ErrDecryption = errors.New("credstore: decryption failed")
)

// File and directory permissions: owner-only.
const (
	FilePerms = 0o600
	DirPerms  = 0o700
)

// scrypt parameters for deriving the AES key from the store secret.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	keyLen       = 32
	saltLen      = 16
	secretLen    = 32
	gcmNonceSize = 12
)

// secretFile holds the machine-bound salt+secret next to the blobs.
const secretFile = "key.bin"

// Credential is one provider's persisted OAuth material plus the
// client configuration it was issued against.
type Credential struct {
	Provider     cloud.Name `json:"provider"`
	ClientID     string     `json:"client_id"`
	ClientSecret string     `json:"client_secret"`
	Scopes       []string   `json:"scopes"`
	Tenant       string     `json:"tenant,omitempty"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`

	// Account is the provider-reported identity (email or login),
	// cached for display.
	Account string `json:"account,omitempty"`
}

// Expired reports whether the access token is past expiry minus skew.
// A zero ExpiresAt means the token never expires (GitHub PATs).
func (c *Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}

	return !now.Before(c.ExpiresAt.Add(-skew))
}

// Store reads and writes encrypted credential blobs, one per provider.
// Writes are serialized per provider; encryption and file I/O are the
// only sections holding the lock.
type Store struct {
	dir      string
	key      []byte
	recorder logsink.Recorder
	logger   *slog.Logger

	mu    sync.Mutex // guards locks
	locks map[cloud.Name]*sync.Mutex
}

// Open creates a Store rooted at dir. If secret is nil, a machine-bound
// secret is loaded from dir (created on first use); otherwise the
// user-supplied secret is used for key derivation.
func Open(dir string, secret []byte, recorder logsink.Recorder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if recorder == nil {
		recorder = logsink.Noop{}
	}

	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return nil, fmt.Errorf("credstore: creating directory %s: %w", dir, err)
	}

	salt, sec, err := loadOrCreateSecret(dir, secret)
	if err != nil {
		return nil, err
	}

	key, err := scrypt.Key(sec, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("credstore: deriving key: %w", err)
	}

	return &Store{
		dir:      dir,
		key:      key,
		recorder: recorder,
		logger:   logger,
		locks:    make(map[cloud.Name]*sync.Mutex),
	}, nil
}

// loadOrCreateSecret returns the (salt, secret) pair. A user-supplied
// secret still uses the machine-local salt file so derivation is stable.
func loadOrCreateSecret(dir string, userSecret []byte) (salt, secret []byte, err error) {
	path := filepath.Join(dir, secretFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != saltLen+secretLen {
			return nil, nil, fmt.Errorf("credstore: secret file %s has unexpected size %d", path, len(data))
		}

		salt = data[:saltLen]
		secret = data[saltLen:]

		if userSecret != nil {
			secret = userSecret
		}

		return salt, secret, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("credstore: reading secret file: %w", err)
	}

	buf := make([]byte, saltLen+secretLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, nil, fmt.Errorf("credstore: generating secret: %w", err)
	}

	if err := os.WriteFile(path, buf, FilePerms); err != nil {
		return nil, nil, fmt.Errorf("credstore: writing secret file: %w", err)
	}

	salt = buf[:saltLen]
	secret = buf[saltLen:]

	if userSecret != nil {
		secret = userSecret
	}

	return salt, secret, nil
}

// providerLock returns the per-provider write mutex.
func (s *Store) providerLock(name cloud.Name) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}

	return l
}

func (s *Store) blobPath(name cloud.Name) string {
	return filepath.Join(s.dir, string(name)+".enc")
}

// Save encrypts and atomically persists the credential for its provider.
func (s *Store) Save(cred *Credential) error {
	lock := s.providerLock(cred.Provider)
	lock.Lock()
	defer lock.Unlock()

	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("credstore: encoding credential: %w", err)
	}

	ciphertext, err := s.seal(plaintext)
	if err != nil {
		return err
	}

	if err := atomicWrite(s.blobPath(cred.Provider), ciphertext); err != nil {
		return err
	}

	s.logger.Info("credential saved",
		slog.String("provider", string(cred.Provider)),
		slog.Time("expires_at", cred.ExpiresAt),
	)

	return nil
}

// Load decrypts the stored credential for the provider. Returns
// ErrNotFound if the provider was never authenticated and ErrDecryption
// if the ciphertext does not match the current key.
func (s *Store) Load(name cloud.Name) (*Credential, error) {
	lock := s.providerLock(name)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.blobPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading credential blob: %w", err)
	}

	plaintext, err := s.open(data)
	if err != nil {
		s.report(name, "decrypt failed: "+err.Error())
		return nil, fmt.Errorf("credstore: %s: %w", name, ErrDecryption)
	}

	var cred Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		s.report(name, "parse failed: "+err.Error())
		return nil, fmt.Errorf("credstore: %s: decoding plaintext: %w", name, ErrDecryption)
	}

	return &cred, nil
}

// Clear removes all persisted material for the provider. Removing an
// absent blob is success — the end state is achieved.
func (s *Store) Clear(name cloud.Name) error {
	lock := s.providerLock(name)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.blobPath(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credstore: removing credential blob: %w", err)
	}

	s.logger.Info("credential cleared", slog.String("provider", string(name)))

	return nil
}

// report journals a failed decrypt/parse under the Auth category.
// Never includes credential material.
func (s *Store) report(name cloud.Name, msg string) {
	if err := s.recorder.Record(context.Background(), logsink.CategoryAuth, string(name), msg); err != nil {
		s.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}

// seal encrypts plaintext with AES-256-GCM. Output is nonce||ciphertext.
func (s *Store) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("credstore: creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credstore: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("credstore: generating nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts nonce||ciphertext produced by seal.
func (s *Store) open(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertext, nil)
}

// atomicWrite writes data via a temp file in the same directory plus
// rename, so a crash cannot leave a partial blob at the final path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".cred-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credstore: renaming: %w", err)
	}

	success = true

	return nil
}
