package keyring

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/yllada/hostbridge/common"
)

func TestStore_SystemKeyring(t *testing.T) {
	keyring.MockInit()
	s := NewStore(t.TempDir())

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Set("k", "secret"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get("k")
	if err != nil || got != "secret" {
		t.Fatalf("Get() = %q, %v; want secret", got, err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_EmptyArguments(t *testing.T) {
	keyring.MockInit()
	s := NewStore(t.TempDir())

	if err := s.Set("", "x"); err == nil {
		t.Error("Set with empty key should fail")
	}
	if err := s.Set("k", ""); err == nil {
		t.Error("Set with empty secret should fail")
	}
	if _, err := s.Get(""); err == nil {
		t.Error("Get with empty key should fail")
	}
	if err := s.Delete(""); err == nil {
		t.Error("Delete with empty key should fail")
	}
}

func TestStore_LocalFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	dir := t.TempDir()

	s := NewStore(dir)
	if err := s.Set("k", "secret"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, common.CredentialsFileName))
	if err != nil {
		t.Fatalf("credential file not written: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("credential file is empty")
	}
	if strings.Contains(string(raw), "secret") {
		t.Error("credential file stores the secret in clear text")
	}

	// A second store over the same directory decrypts the file.
	reopened := NewStore(dir)
	got, err := reopened.Get("k")
	if err != nil || got != "secret" {
		t.Fatalf("reopened Get() = %q, %v; want secret", got, err)
	}
}

func TestStore_SessionToken(t *testing.T) {
	keyring.MockInit()
	s := NewStore(t.TempDir())

	if _, err := s.SessionToken(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SessionToken() before any host error = %v, want ErrNotFound", err)
	}

	first, err := s.EnsureSessionToken()
	if err != nil {
		t.Fatalf("EnsureSessionToken() error = %v", err)
	}
	if len(first) != 36 {
		t.Errorf("EnsureSessionToken() = %q, want a UUID", first)
	}
	again, err := s.EnsureSessionToken()
	if err != nil || again != first {
		t.Errorf("EnsureSessionToken() second call = %q, %v; want %q", again, err, first)
	}
	read, err := s.SessionToken()
	if err != nil || read != first {
		t.Errorf("SessionToken() = %q, %v; want %q", read, err, first)
	}

	rotated, err := s.NewSessionToken()
	if err != nil {
		t.Fatalf("NewSessionToken() error = %v", err)
	}
	if rotated == first {
		t.Error("NewSessionToken() returned the old token")
	}

	if err := s.ForgetSessionToken(); err != nil {
		t.Fatalf("ForgetSessionToken() error = %v", err)
	}
	if _, err := s.SessionToken(); !errors.Is(err, ErrNotFound) {
		t.Errorf("SessionToken() after forget error = %v, want ErrNotFound", err)
	}
}

func TestStore_LocalTokenSharedBetweenProcesses(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	dir := t.TempDir()
	ui := NewStore(dir)
	host := NewStore(dir)

	// The UI looks first and finds nothing.
	if _, err := ui.SessionToken(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ui SessionToken() error = %v, want ErrNotFound", err)
	}
	token, err := host.EnsureSessionToken()
	if err != nil {
		t.Fatalf("host EnsureSessionToken() error = %v", err)
	}
	got, err := ui.SessionToken()
	if err != nil || got != token {
		t.Errorf("ui SessionToken() = %q, %v; want the host's %q", got, err, token)
	}
}

func TestDeriveKey_Stable(t *testing.T) {
	a, b := deriveKey(), deriveKey()
	if len(a) != 32 {
		t.Fatalf("key length = %d, want 32", len(a))
	}
	if string(a) != string(b) {
		t.Error("deriveKey() is not deterministic")
	}
}
