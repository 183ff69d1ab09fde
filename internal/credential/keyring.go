// Package credential stores delivery secrets (SMTP password, Telegram bot
// token) in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "signoff"

// Environment variables that take precedence over the keyring.
const (
	EnvSMTPPassword  = "SIGNOFF_SMTP_PASSWORD"
	EnvTelegramToken = "SIGNOFF_TELEGRAM_TOKEN"
)

// ErrNotFound is returned when neither the environment nor the keyring
// holds the requested secret.
var ErrNotFound = errors.New("credential not found")

// opener is swapped in tests.
var opener = openKeyring

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/signoff/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("signoff-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := opener()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Lookup returns the value of envVar when set and otherwise reads key from
// the keyring.
func Lookup(envVar, key string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	if key == "" {
		return "", fmt.Errorf("%s is unset and no keyring key is configured: %w", envVar, ErrNotFound)
	}
	return Get(key)
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := opener()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "signoff " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := opener()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
