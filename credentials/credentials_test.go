package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// testEncryptionKey is a fixed 32-byte key for testing (hex-encoded to 64 chars)
const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// setupTestEnv points the store at tempDir with a fixed encryption key.
func setupTestEnv(t *testing.T, tempDir string) {
	t.Helper()
	t.Setenv(ConfigDirEnv, tempDir)
	t.Setenv(EncryptionKeyEnv, testEncryptionKey)
	t.Setenv(PassphraseEnv, "")
	t.Setenv(APIKeyEnv, "")
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	setupTestEnv(t, t.TempDir())
	store, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

var testProfile = shipment.ExporterProfile{
	CompanyName:   "Acme Exports Ltd",
	Address:       "1 Dock Road, Felixstowe",
	TaxID:         "GB123456789",
	Email:         "shipping@acme.example",
	DefaultOrigin: "UK",
}

func TestCredentialsDir(t *testing.T) {
	t.Setenv(ConfigDirEnv, "")

	dir, err := CredentialsDir()
	if err != nil {
		t.Fatalf("CredentialsDir() error = %v", err)
	}

	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, DefaultCredentialsDir)
	if dir != expected {
		t.Errorf("CredentialsDir() = %v, want %v", dir, expected)
	}

	customDir := "/tmp/test-tradedoc-creds"
	t.Setenv(ConfigDirEnv, customDir)

	dir, err = CredentialsDir()
	if err != nil {
		t.Fatalf("CredentialsDir() with env error = %v", err)
	}
	if dir != customDir {
		t.Errorf("CredentialsDir() with env = %v, want %v", dir, customDir)
	}
}

func TestCredentialsPath(t *testing.T) {
	customDir := "/tmp/test-tradedoc-path"
	t.Setenv(ConfigDirEnv, customDir)

	path, err := CredentialsPath()
	if err != nil {
		t.Fatalf("CredentialsPath() error = %v", err)
	}

	expected := filepath.Join(customDir, DefaultCredentialsFile)
	if path != expected {
		t.Errorf("CredentialsPath() = %v, want %v", path, expected)
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)

	profile := testProfile
	creds := &Credentials{
		APIKey:   "sk-test-api-key-12345",
		Exporter: &profile,
	}

	if err := store.Save(creds); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !store.Exists() {
		t.Error("Exists() = false after Save()")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.APIKey != creds.APIKey {
		t.Errorf("Loaded APIKey = %v, want %v", loaded.APIKey, creds.APIKey)
	}
	if loaded.Exporter == nil || *loaded.Exporter != testProfile {
		t.Errorf("Loaded Exporter = %+v, want %+v", loaded.Exporter, testProfile)
	}
	if loaded.LastUpdated.IsZero() {
		t.Error("LastUpdated should be set")
	}
}

func TestStore_APIKeyEncryptedAtRest(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetAPIKey("sk-plaintext-should-not-appear"); err != nil {
		t.Fatalf("SetAPIKey() error = %v", err)
	}

	data, err := os.ReadFile(store.path())
	if err != nil {
		t.Fatalf("reading credentials file: %v", err)
	}
	if strings.Contains(string(data), "sk-plaintext-should-not-appear") {
		t.Error("credentials file contains plaintext API key")
	}

	info, err := os.Stat(store.path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credentials file mode = %o, want 600", perm)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(&Credentials{APIKey: "test-key"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !store.Exists() {
		t.Error("Exists() = false after Save()")
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.Exists() {
		t.Error("Exists() = true after Delete()")
	}

	// Delete again should not error
	if err := store.Delete(); err != nil {
		t.Errorf("Delete() second time error = %v", err)
	}
}

func TestStore_LoadNoCredentials(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load()
	if err != ErrNoCredentials {
		t.Errorf("Load() error = %v, want %v", err, ErrNoCredentials)
	}
}

func TestStore_SignInSignOut(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Exporter(); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("Exporter() before sign in error = %v, want ErrNotSignedIn", err)
	}

	if err := store.SetAPIKey("sk-keep-me"); err != nil {
		t.Fatalf("SetAPIKey() error = %v", err)
	}
	if err := store.SignIn(testProfile); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	got, err := store.Exporter()
	if err != nil {
		t.Fatalf("Exporter() error = %v", err)
	}
	if *got != testProfile {
		t.Errorf("Exporter() = %+v, want %+v", got, testProfile)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.APIKey != "sk-keep-me" {
		t.Errorf("SignIn() lost the API key, got %q", loaded.APIKey)
	}
	if loaded.SignedInAt.IsZero() {
		t.Error("SignedInAt should be set after SignIn()")
	}

	if err := store.SignOut(); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, err := store.Exporter(); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("Exporter() after sign out error = %v, want ErrNotSignedIn", err)
	}

	key, err := store.ActiveAPIKey()
	if err != nil {
		t.Fatalf("ActiveAPIKey() error = %v", err)
	}
	if key != "sk-keep-me" {
		t.Errorf("SignOut() should keep the API key, got %q", key)
	}
}

func TestStore_SignOutWithoutAPIKeyRemovesFile(t *testing.T) {
	store := newTestStore(t)

	if err := store.SignIn(testProfile); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if err := store.SignOut(); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if store.Exists() {
		t.Error("credentials file should be removed when nothing is left to store")
	}

	// Signing out twice is a no-op.
	if err := store.SignOut(); err != nil {
		t.Errorf("SignOut() second time error = %v", err)
	}
}

func TestStore_SignInRequiresCompanyName(t *testing.T) {
	store := newTestStore(t)

	err := store.SignIn(shipment.ExporterProfile{Address: "somewhere"})
	if err == nil {
		t.Fatal("SignIn() expected error for missing company name")
	}
	if store.Exists() {
		t.Error("failed SignIn() should not write credentials")
	}
}

func TestStore_ActiveAPIKey(t *testing.T) {
	t.Run("env var wins", func(t *testing.T) {
		store := newTestStore(t)
		if err := store.SetAPIKey("sk-stored"); err != nil {
			t.Fatal(err)
		}
		t.Setenv(APIKeyEnv, "sk-from-env")

		key, err := store.ActiveAPIKey()
		if err != nil {
			t.Fatalf("ActiveAPIKey() error = %v", err)
		}
		if key != "sk-from-env" {
			t.Errorf("ActiveAPIKey() = %q, want sk-from-env", key)
		}
	})

	t.Run("stored key", func(t *testing.T) {
		store := newTestStore(t)
		if err := store.SetAPIKey("sk-stored"); err != nil {
			t.Fatal(err)
		}

		key, err := store.ActiveAPIKey()
		if err != nil {
			t.Fatalf("ActiveAPIKey() error = %v", err)
		}
		if key != "sk-stored" {
			t.Errorf("ActiveAPIKey() = %q, want sk-stored", key)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		store := newTestStore(t)

		key, err := store.ActiveAPIKey()
		if err != nil {
			t.Fatalf("ActiveAPIKey() error = %v", err)
		}
		if key != "" {
			t.Errorf("ActiveAPIKey() = %q, want empty", key)
		}
	})
}

func TestEncryption(t *testing.T) {
	store := newTestStore(t)

	testCases := []string{
		"simple-key",
		"key-with-special-chars!@#$%^&*()",
		"very-long-key-" + strings.Repeat("x", 1000),
		"",
	}

	for _, plaintext := range testCases {
		if plaintext == "" {
			continue
		}

		encrypted, err := store.encrypt(plaintext)
		if err != nil {
			t.Errorf("encrypt(%q) error = %v", plaintext, err)
			continue
		}

		// Encrypted should be different from plaintext
		if encrypted == plaintext {
			t.Errorf("encrypt(%q) returned plaintext", plaintext)
		}

		decrypted, err := store.decrypt(encrypted)
		if err != nil {
			t.Errorf("decrypt() error = %v", err)
			continue
		}
		if decrypted != plaintext {
			t.Errorf("decrypt(encrypt(%q)) = %q", plaintext, decrypted)
		}
	}

	if _, err := store.decrypt("not base64!"); !errors.Is(err, ErrEncryptionFailed) {
		t.Errorf("decrypt(invalid) error = %v, want ErrEncryptionFailed", err)
	}
	if _, err := store.decrypt(base64.StdEncoding.EncodeToString([]byte("short"))); !errors.Is(err, ErrEncryptionFailed) {
		t.Errorf("decrypt(short) error = %v, want ErrEncryptionFailed", err)
	}
}

func TestStore_WrongKeyFailsToLoad(t *testing.T) {
	dir := t.TempDir()
	setupTestEnv(t, dir)

	// Write a file encrypted under a different key.
	otherKey := make([]byte, keyLength)
	if _, err := rand.Read(otherKey); err != nil {
		t.Fatal(err)
	}
	encrypted, err := encryptWithKey("sk-other", otherKey)
	if err != nil {
		t.Fatal(err)
	}
	data, err := yaml.Marshal(&Credentials{APIKey: encrypted})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DefaultCredentialsFile), data, 0600); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrEncryptionFailed) {
		t.Errorf("Load() error = %v, want ErrEncryptionFailed", err)
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"short", "*****"},
		{"12345678", "********"},
		{"sk-abcdefghijklmnop", "sk-a********..."},
	}

	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestAPIKeyID(t *testing.T) {
	id1 := APIKeyID("sk-test-key-1")
	id2 := APIKeyID("sk-test-key-2")
	id1Again := APIKeyID("sk-test-key-1")

	if len(id1) != 8 {
		t.Errorf("APIKeyID() length = %d, want 8", len(id1))
	}
	if id1 == id2 {
		t.Error("APIKeyID() should return different IDs for different keys")
	}
	if id1 != id1Again {
		t.Error("APIKeyID() should return the same ID for the same key")
	}
}

func TestNewStoreWithKeyProvider(t *testing.T) {
	t.Setenv(ConfigDirEnv, t.TempDir())

	salt, err := GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}
	provider := NewPassphraseKeyProvider("my-test-passphrase", salt)

	store, err := NewStoreWithKeyProvider(provider)
	if err != nil {
		t.Fatalf("NewStoreWithKeyProvider() error = %v", err)
	}
	if !strings.Contains(store.KeyDescription(), "Argon2") {
		t.Errorf("KeyDescription() = %q, want passphrase provider", store.KeyDescription())
	}

	if err := store.SetAPIKey("sk-passphrase"); err != nil {
		t.Fatalf("SetAPIKey() error = %v", err)
	}

	// Same passphrase and salt decrypt the file.
	reopened, err := NewStoreWithKeyProvider(NewPassphraseKeyProvider("my-test-passphrase", salt))
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.APIKey != "sk-passphrase" {
		t.Errorf("Loaded APIKey = %q, want sk-passphrase", loaded.APIKey)
	}

	// A different passphrase cannot.
	wrong, err := NewStoreWithKeyProvider(NewPassphraseKeyProvider("wrong", salt))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wrong.Load(); err == nil {
		t.Error("Load() with wrong passphrase should fail")
	}
}

// encryptWithKey encrypts plaintext under an arbitrary key.
func encryptWithKey(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
