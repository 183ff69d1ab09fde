package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMemoryKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := opener
	opener = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { opener = prev })
}

func TestSetGetDelete(t *testing.T) {
	useMemoryKeyring(t)

	_, err := Get("smtp-password")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Set("smtp-password", "hunter2"))
	v, err := Get("smtp-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	require.NoError(t, Delete("smtp-password"))
	_, err = Get("smtp-password")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup(t *testing.T) {
	useMemoryKeyring(t)
	require.NoError(t, Set("telegram-bot-token", "from-keyring"))

	t.Setenv(EnvTelegramToken, "")
	v, err := Lookup(EnvTelegramToken, "telegram-bot-token")
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", v)

	t.Setenv(EnvTelegramToken, "from-env")
	v, err = Lookup(EnvTelegramToken, "telegram-bot-token")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	t.Setenv(EnvSMTPPassword, "")
	_, err = Lookup(EnvSMTPPassword, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
