package apikey

import (
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/patinas/ScreenPulse/testutil"
)

func TestResolvePrefersEnvironment(t *testing.T) {
	keyring.MockInit()
	testutil.AssertNoError(t, Set("keychain-key"), "seed keychain")
	t.Setenv(EnvVar, "env-key")

	key, source, err := Resolve()
	testutil.AssertNoError(t, err, "resolve")
	testutil.AssertEqual(t, "env-key", key, "env wins")
	testutil.AssertEqual(t, SourceEnv, source, "source")
}

func TestResolveFallsBackToKeyring(t *testing.T) {
	keyring.MockInit()
	t.Setenv(EnvVar, "")
	testutil.AssertNoError(t, Set("keychain-key"), "seed keychain")

	key, source, err := Resolve()
	testutil.AssertNoError(t, err, "resolve")
	testutil.AssertEqual(t, "keychain-key", key, "keychain key")
	testutil.AssertEqual(t, SourceKeyring, source, "source")
}

func TestResolveUnset(t *testing.T) {
	keyring.MockInit()
	t.Setenv(EnvVar, "")

	key, source, err := Resolve()
	testutil.AssertNoError(t, err, "unset key is not an error")
	testutil.AssertEqual(t, "", key, "empty key")
	testutil.AssertEqual(t, "", source, "empty source")
}

func TestSetRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	testutil.AssertError(t, Set(""), "empty key rejected")
	testutil.AssertError(t, Set("   "), "blank key rejected")
}

func TestSetGetClear(t *testing.T) {
	keyring.MockInit()

	testutil.AssertNoError(t, Set("  my-key  "), "set trims and stores")
	got, err := Get()
	testutil.AssertNoError(t, err, "get")
	testutil.AssertEqual(t, "my-key", got, "stored key trimmed")

	testutil.AssertNoError(t, Clear(), "clear")
	got, err = Get()
	testutil.AssertNoError(t, err, "get after clear")
	testutil.AssertEqual(t, "", got, "no key after clear")

	testutil.AssertNoError(t, Clear(), "clearing an absent key is fine")
}

func TestMask(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "****"},
		{"AIzaSyExample123", "AIza************"},
	}
	for _, tt := range tests {
		testutil.AssertEqual(t, tt.want, Mask(tt.key), "mask "+tt.key)
	}
}
