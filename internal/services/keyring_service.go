package services

import (
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "deepresearch"

// ProviderGemini is the keyring entry holding the Gemini API key.
const ProviderGemini = "gemini"

// envKeys maps providers to environment variables consulted when the keyring
// has no entry.
var envKeys = map[string]string{
	ProviderGemini: "GEMINI_API_KEY",
}

// KeyringOptions selects the credential backend.
type KeyringOptions struct {
	Backend  string
	FileDir  string
	Password string
}

// OpenKeyring opens the OS keyring, or the encrypted file backend when asked.
func OpenKeyring(opts KeyringOptions) (keyring.Keyring, error) {
	cfg := keyring.Config{
		ServiceName:             serviceName,
		FileDir:                 opts.FileDir,
		KWalletAppID:            serviceName,
		KWalletFolder:           serviceName,
		LibSecretCollectionName: serviceName,
	}
	if opts.Backend != "" {
		cfg.AllowedBackends = []keyring.BackendType{keyring.BackendType(opts.Backend)}
	}
	if opts.Password != "" {
		cfg.FilePasswordFunc = keyring.FixedStringPrompt(opts.Password)
	} else {
		cfg.FilePasswordFunc = keyring.TerminalPrompt
	}
	return keyring.Open(cfg)
}

type KeyringService struct {
	ring keyring.Keyring
}

func NewKeyringService(ring keyring.Keyring) *KeyringService {
	return &KeyringService{ring: ring}
}

func (s *KeyringService) StoreApiKey(provider string, apiKey []byte) error {
	if len(apiKey) == 0 {
		return errors.New("API key is empty")
	}
	if provider == "" {
		return errors.New("provider is required")
	}

	return s.ring.Set(keyring.Item{
		Key:         provider,
		Data:        apiKey,
		Label:       provider + " API key",
		Description: "API key for " + provider + " used by deepresearch",
	})
}

// GetApiKey returns the stored key, falling back to the provider's
// environment variable. A missing key yields "" and no error.
func (s *KeyringService) GetApiKey(provider string) (string, error) {
	if provider == "" {
		return "", errors.New("provider is required")
	}
	item, err := s.ring.Get(provider)
	switch {
	case err == nil:
		return strings.TrimSpace(string(item.Data)), nil
	case errors.Is(err, keyring.ErrKeyNotFound):
		if env, ok := envKeys[provider]; ok {
			return strings.TrimSpace(os.Getenv(env)), nil
		}
		return "", nil
	default:
		return "", err
	}
}

func (s *KeyringService) DeleteApiKey(provider string) error {
	if provider == "" {
		return errors.New("provider is required")
	}
	err := s.ring.Remove(provider)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

func (s *KeyringService) ListApiKeys() ([]map[string]string, error) {
	providers, err := s.ring.Keys()
	if err != nil {
		return nil, err
	}
	sort.Strings(providers)

	var results []map[string]string
	for _, provider := range providers {
		if _, err := s.ring.Get(provider); err != nil {
			continue
		}
		results = append(results, map[string]string{
			"provider":    provider,
			"label":       provider + " API key",
			"description": "API key for " + provider + " used by deepresearch",
		})
	}
	return results, nil
}
