// Package credentials provides secure credential storage for the tradedoc CLI.
// It stores the model API key and the signed-in exporter profile in
// ~/.tradedoc/credentials.yaml, with the API key encrypted at rest.
//
// Encryption Key Storage:
// The encryption key is stored securely using the system keyring:
// - macOS: Keychain
// - Windows: Credential Manager
// - Linux: Secret Service (libsecret)
//
// For CI/testing environments, set TRADEDOC_ENCRYPTION_KEY to a 64-character
// hex string (32 bytes), or TRADEDOC_PASSPHRASE to derive the key with Argon2id.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".tradedoc"
	DefaultCredentialsFile = "credentials.yaml"

	// APIKeyEnv overrides the stored API key.
	APIKeyEnv = "TRADEDOC_API_KEY"
	// ConfigDirEnv overrides the credentials directory.
	ConfigDirEnv = "TRADEDOC_CONFIG_DIR"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no credentials are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrNotSignedIn is returned when no exporter profile is stored.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials holds the stored authentication state.
type Credentials struct {
	// APIKey is the model API key (encrypted at rest).
	APIKey string `yaml:"api_key,omitempty"`
	// Exporter is the signed-in shipper profile. Nil when signed out.
	Exporter *shipment.ExporterProfile `yaml:"exporter,omitempty"`
	// SignedInAt is when Exporter was stored.
	SignedInAt time.Time `yaml:"signed_in_at,omitempty"`
	// LastUpdated is when the credentials were last updated.
	LastUpdated time.Time `yaml:"last_updated"`
}

// Store manages credential storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a credential store using the default key provider.
func NewStore() (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}

	keyProvider, err := GetDefaultKeyProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}

	return NewStoreAt(dir, keyProvider)
}

// NewStoreWithKeyProvider creates a store in the default directory with a custom key provider.
func NewStoreWithKeyProvider(keyProvider KeyProvider) (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}
	return NewStoreAt(dir, keyProvider)
}

// NewStoreAt creates a store rooted at dir.
func NewStoreAt(dir string, keyProvider KeyProvider) (*Store, error) {
	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// KeyDescription describes where the encryption key lives.
func (s *Store) KeyDescription() string {
	return s.keyProvider.Description()
}

// CredentialsDir returns the credentials directory path.
// Uses $TRADEDOC_CONFIG_DIR if set, otherwise ~/.tradedoc
func CredentialsDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// CredentialsPath returns the full path to the credentials file.
func CredentialsPath() (string, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

// Path returns the file this store reads and writes.
func (s *Store) Path() string {
	return s.path()
}

func (s *Store) path() string {
	return filepath.Join(s.credentialsDir, DefaultCredentialsFile)
}

// Save stores credentials to the credentials file.
func (s *Store) Save(creds *Credentials) error {
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	storageCreds := *creds
	storageCreds.LastUpdated = time.Now()

	if storageCreds.APIKey != "" {
		encrypted, err := s.encrypt(storageCreds.APIKey)
		if err != nil {
			return fmt.Errorf("encrypting API key: %w", err)
		}
		storageCreds.APIKey = encrypted
	}

	data, err := yaml.Marshal(&storageCreds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	// Write with restrictive permissions
	if err := os.WriteFile(s.path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}

	return nil
}

// Load reads credentials from the credentials file.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	if creds.APIKey != "" {
		decrypted, err := s.decrypt(creds.APIKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting API key: %w", err)
		}
		creds.APIKey = decrypted
	}

	return &creds, nil
}

// loadOrEmpty returns stored credentials, or an empty set when none exist.
func (s *Store) loadOrEmpty() (*Credentials, error) {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		return &Credentials{}, nil
	}
	return creds, err
}

// Delete removes stored credentials.
func (s *Store) Delete() error {
	if err := os.Remove(s.path()); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Exists checks if credentials file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

// SetAPIKey stores the model API key, keeping any signed-in profile.
func (s *Store) SetAPIKey(apiKey string) error {
	creds, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	creds.APIKey = apiKey
	return s.Save(creds)
}

// ActiveAPIKey returns $TRADEDOC_API_KEY when set, otherwise the stored key.
// An empty string with a nil error means no key is configured.
func (s *Store) ActiveAPIKey() (string, error) {
	if apiKey := os.Getenv(APIKeyEnv); apiKey != "" {
		return apiKey, nil
	}
	creds, err := s.loadOrEmpty()
	if err != nil {
		return "", err
	}
	return creds.APIKey, nil
}

// SignIn stores profile as the signed-in exporter.
func (s *Store) SignIn(profile shipment.ExporterProfile) error {
	if strings.TrimSpace(profile.CompanyName) == "" {
		return errors.New("company name is required")
	}
	creds, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	creds.Exporter = &profile
	creds.SignedInAt = time.Now().UTC()
	return s.Save(creds)
}

// SignOut forgets the exporter profile but keeps the API key.
func (s *Store) SignOut() error {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		return nil
	}
	if err != nil {
		return err
	}
	if creds.Exporter == nil {
		return nil
	}
	creds.Exporter = nil
	creds.SignedInAt = time.Time{}
	if creds.APIKey == "" {
		return s.Delete()
	}
	return s.Save(creds)
}

// Exporter returns the signed-in profile, or ErrNotSignedIn.
func (s *Store) Exporter() (*shipment.ExporterProfile, error) {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		return nil, ErrNotSignedIn
	}
	if err != nil {
		return nil, err
	}
	if creds.Exporter == nil {
		return nil, ErrNotSignedIn
	}
	return creds.Exporter, nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

// MaskAPIKey returns a masked API key showing only a short prefix.
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:4] + strings.Repeat("*", 8) + "..."
}

// APIKeyID creates a short, stable id for an API key (for display purposes).
func APIKeyID(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:4])
}
