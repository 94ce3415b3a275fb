package credstore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "authgate"

// KeyringBackend stores values in the system keychain.
type KeyringBackend struct{}

// NewKeyringBackend probes the system keyring and returns an error if it
// cannot be written.
func NewKeyringBackend() (*KeyringBackend, error) {
	testKey := "authgate::probe"
	if err := keyring.Set(serviceName, testKey, "probe"); err != nil {
		return nil, fmt.Errorf("keyring unavailable: %w", err)
	}
	_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
	return &KeyringBackend{}, nil
}

func (KeyringBackend) Load(key string) (string, error) {
	v, err := keyring.Get(serviceName, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (KeyringBackend) Save(key, value string) error {
	return keyring.Set(serviceName, key, value)
}

func (KeyringBackend) Delete(key string) error {
	err := keyring.Delete(serviceName, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
