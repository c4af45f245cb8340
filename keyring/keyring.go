// Package keyring provides secure storage for the bridge session token.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/hostbridge/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "hostbridge"

	// sessionTokenKey names the token shared by the UI and the host.
	sessionTokenKey = "session-token"
)

// Common errors returned by keyring operations.
var (
	ErrNotFound    = common.ErrCredentialsNotFound
	ErrUnavailable = errors.New("keyring service unavailable")
)

// Store keeps secrets in the system keyring or, when that is unavailable,
// in an AES-GCM encrypted file.
type Store struct {
	dir string

	initOnce sync.Once
	useLocal bool

	mu    sync.RWMutex
	local map[string]string
	key   []byte
}

// NewStore returns a Store whose local fallback lives in dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

var (
	defaultOnce  sync.Once
	defaultStore *Store
)

// Default returns the Store rooted in the application config directory.
func Default() *Store {
	defaultOnce.Do(func() {
		dir, err := common.GetConfigDir()
		if err != nil {
			home, _ := os.UserHomeDir()
			dir = filepath.Join(home, ".config", common.ConfigDirName)
		}
		defaultStore = NewStore(dir)
	})
	return defaultStore
}

func (s *Store) init() {
	s.initOnce.Do(func() {
		// Try system keyring first
		testKey := serviceName + "-test-init"
		if err := keyring.Set(serviceName, testKey, "test"); err == nil {
			keyring.Delete(serviceName, testKey)
			return
		}
		common.LogWarn("System keyring unavailable, using encrypted file in %s", s.dir)
		s.initLocal()
	})
}

func (s *Store) initLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useLocal {
		return
	}
	s.useLocal = true
	os.MkdirAll(s.dir, 0700)
	s.key = deriveKey()
	s.local = make(map[string]string)
	s.loadLocal()
}

// deriveKey stretches machine-specific data into an AES-256 key.
func deriveKey() []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, getMachineID(), os.Getuid())
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(serviceName), []byte("local-store-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		sum := sha256.Sum256([]byte(secret))
		return sum[:]
	}
	return key
}

func getMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func (s *Store) localPath() string {
	return filepath.Join(s.dir, common.CredentialsFileName)
}

// loadLocal must be called with s.mu held.
func (s *Store) loadLocal() {
	data, err := os.ReadFile(s.localPath())
	if err != nil {
		return
	}
	decrypted, err := s.decrypt(data)
	if err != nil {
		common.LogWarn("Ignoring unreadable credential file: %v", err)
		return
	}
	stored := make(map[string]string)
	if err := json.Unmarshal(decrypted, &stored); err != nil {
		common.LogWarn("Ignoring malformed credential file: %v", err)
		return
	}
	s.local = stored
}

func (s *Store) saveLocal() error {
	s.mu.RLock()
	data, err := json.Marshal(s.local)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	encrypted, err := s.encrypt(data)
	if err != nil {
		return err
	}
	return os.WriteFile(s.localPath(), encrypted, 0600)
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *Store) isLocal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.useLocal
}

// Set saves a secret under key.
func (s *Store) Set(key, secret string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}
	s.init()

	if !s.isLocal() {
		if err := keyring.Set(serviceName, key, secret); err == nil {
			return nil
		}
		// Fallback to local storage
		s.initLocal()
	}

	s.mu.Lock()
	s.loadLocal()
	s.local[key] = secret
	s.mu.Unlock()
	return s.saveLocal()
}

// Get retrieves the secret stored under key.
func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}
	s.init()

	if !s.isLocal() {
		secret, err := keyring.Get(serviceName, key)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", ErrNotFound
	}

	// Another process may have written the file since it was loaded.
	s.mu.Lock()
	s.loadLocal()
	secret, exists := s.local[key]
	s.mu.Unlock()
	if !exists {
		return "", ErrNotFound
	}
	return secret, nil
}

// Delete removes the secret stored under key.
func (s *Store) Delete(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	s.init()

	if !s.isLocal() {
		err := keyring.Delete(serviceName, key)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	s.mu.Lock()
	delete(s.local, key)
	s.mu.Unlock()
	return s.saveLocal()
}

// SessionToken returns the stored session token. It fails with ErrNotFound
// until a host has created one with EnsureSessionToken.
func (s *Store) SessionToken() (string, error) {
	return s.Get(sessionTokenKey)
}

// EnsureSessionToken returns the session token, creating and storing one when
// none exists. Only the host creates tokens. The stored value is read back so
// that concurrent creators agree on whichever write landed last.
func (s *Store) EnsureSessionToken() (string, error) {
	token, err := s.Get(sessionTokenKey)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if _, err := s.NewSessionToken(); err != nil {
		return "", err
	}
	return s.Get(sessionTokenKey)
}

// NewSessionToken replaces the session token with a fresh one.
func (s *Store) NewSessionToken() (string, error) {
	token := uuid.NewString()
	if err := s.Set(sessionTokenKey, token); err != nil {
		return "", fmt.Errorf("store session token: %w", err)
	}
	return token, nil
}

// ForgetSessionToken removes the session token. The next host start creates
// a new one.
func (s *Store) ForgetSessionToken() error {
	return s.Delete(sessionTokenKey)
}

// SessionToken returns the session token from the default store.
func SessionToken() (string, error) {
	return Default().SessionToken()
}

// EnsureSessionToken returns the default store's session token, creating it
// when missing.
func EnsureSessionToken() (string, error) {
	return Default().EnsureSessionToken()
}

// ForgetSessionToken removes the session token from the default store.
func ForgetSessionToken() error {
	return Default().ForgetSessionToken()
}
