package config

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringService is the service name API keys are stored under.
const KeyringService = "vade"

// ErrKeyNotFound is returned when the keyring has no key for a provider.
var ErrKeyNotFound = errors.New("api key not found in keyring")

var openKeyring = func() (keyring.Keyring, error) {
	return keyring.Open(keyring.Config{ServiceName: KeyringService})
}

func keyringKey(provider string) string {
	return provider + "-api-key"
}

// LookupAPIKey reads the stored API key for provider.
func LookupAPIKey(provider string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", fmt.Errorf("open keyring: %w", err)
	}
	item, err := ring.Get(keyringKey(provider))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read keyring: %w", err)
	}
	if len(item.Data) == 0 {
		return "", ErrKeyNotFound
	}
	return string(item.Data), nil
}

// SetAPIKey stores key for provider in the OS keyring.
func SetAPIKey(provider, key string) error {
	if key == "" {
		return errors.New("api key cannot be empty")
	}
	ring, err := openKeyring()
	if err != nil {
		return fmt.Errorf("open keyring: %w", err)
	}
	err = ring.Set(keyring.Item{
		Key:   keyringKey(provider),
		Data:  []byte(key),
		Label: "VADE " + provider + " API key",
	})
	if err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}
