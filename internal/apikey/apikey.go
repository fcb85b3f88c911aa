// Package apikey resolves the Gemini API key: the environment variable
// wins, then the OS keychain. The key never lands in the config file or
// the logs.
package apikey

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "screenpulse"
	accountName = "gemini"

	// EnvVar overrides the keychain when set.
	EnvVar = "GEMINI_API_KEY"
)

// Key sources reported by Resolve.
const (
	SourceEnv     = "environment"
	SourceKeyring = "keyring"
)

// Resolve returns the API key and where it came from. An unset key is not
// an error: callers get ("", "", nil) and decide whether that is fatal.
func Resolve() (key, source string, err error) {
	if key := strings.TrimSpace(os.Getenv(EnvVar)); key != "" {
		return key, SourceEnv, nil
	}
	key, err = keyring.Get(serviceName, accountName)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("read api key from keychain: %w", err)
	}
	return key, SourceKeyring, nil
}

// Set stores the API key in the OS keychain.
func Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key is empty")
	}
	if err := keyring.Set(serviceName, accountName, key); err != nil {
		return fmt.Errorf("store api key in keychain: %w", err)
	}
	return nil
}

// Get retrieves the keychain entry without consulting the environment.
// Returns "" when no key is stored.
func Get() (string, error) {
	key, err := keyring.Get(serviceName, accountName)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read api key from keychain: %w", err)
	}
	return key, nil
}

// Clear removes the keychain entry. Clearing an absent key is not an error.
func Clear() error {
	err := keyring.Delete(serviceName, accountName)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete api key from keychain: %w", err)
	}
	return nil
}

// Mask renders a key safe for display: first four characters plus length.
func Mask(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}
