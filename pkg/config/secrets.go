package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// credentialsFileName is the encrypted file holding model-provider API keys
// under a session store's root, e.g. <storage_root>/credentials.json.enc.
const credentialsFileName = "credentials.json.enc"

const (
	saltSize  = 16
	nonceSize = 12
	scryptN   = 32768 // 2^15
	scryptR   = 8
	scryptP   = 1
	keySize   = 32 // AES-256
)

// CredentialStore holds decrypted provider API keys in memory (never
// written back to disk unencrypted). Keyed by provider name, e.g.
// "anthropic", "openai", "google".
type CredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]string
}

// NewCredentialStore returns an empty in-memory store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{credentials: make(map[string]string)}
}

// Get returns the API key for provider, falling back to the environment
// variable envVar if the store has nothing for it — the same
// store-then-environment precedence the teacher's GetSecret uses.
func (s *CredentialStore) Get(provider, envVar string) (string, error) {
	s.mu.RLock()
	if v, ok := s.credentials[provider]; ok && v != "" {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("config: no credential for provider %q (checked in-memory store and %s)", provider, envVar)
}

// Set stores a provider's API key in memory.
func (s *CredentialStore) Set(provider, apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[provider] = apiKey
}

// snapshot returns a plain copy suitable for marshaling, without holding the
// lock across the encryption call.
func (s *CredentialStore) snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.credentials))
	for k, v := range s.credentials {
		out[k] = v
	}
	return out
}

// Save encrypts the current credentials under password and writes them to
// <storageRoot>/credentials.json.enc with 0600 permissions.
func (s *CredentialStore) Save(storageRoot, password string) error {
	return encryptCredentialsFile(storageRoot, password, s.snapshot())
}

// Load decrypts <storageRoot>/credentials.json.enc under password and
// replaces the store's in-memory contents.
func (s *CredentialStore) Load(storageRoot, password string) error {
	creds, err := decryptCredentialsFile(storageRoot, password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = creds
	return nil
}

// encryptCredentialsFile implements the same [salt][nonce][ciphertext+tag]
// envelope the teacher's EncryptSecretsFile uses: scrypt-derived AES-256-GCM
// key, random salt and nonce per write.
func encryptCredentialsFile(storageRoot, password string, credentials map[string]string) error {
	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("config: generating salt: %w", err)
	}

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("config: deriving key: %w", err)
	}
	defer zero(key)

	plaintext, err := json.Marshal(credentials)
	if err != nil {
		return fmt.Errorf("config: marshaling credentials: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("config: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("config: creating GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("config: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(storageRoot, 0755); err != nil {
		return fmt.Errorf("config: creating storage root: %w", err)
	}
	path := filepath.Join(storageRoot, credentialsFileName)
	if err := os.WriteFile(path, fileData, 0600); err != nil {
		return fmt.Errorf("config: writing credentials file: %w", err)
	}
	return nil
}

func decryptCredentialsFile(storageRoot, password string) (map[string]string, error) {
	path := filepath.Join(storageRoot, credentialsFileName)

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading credentials file: %w", err)
	}

	minSize := saltSize + nonceSize + 16 // 16 is the GCM tag size
	if len(fileData) < minSize {
		return nil, fmt.Errorf("config: credentials file is corrupted or invalid (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("config: deriving key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("config: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("config: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("config: decryption failed (wrong password or corrupted file)")
	}

	var credentials map[string]string
	if err := json.Unmarshal(plaintext, &credentials); err != nil {
		return nil, fmt.Errorf("config: parsing decrypted credentials: %w", err)
	}
	return credentials, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
