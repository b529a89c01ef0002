package unit_tests

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/services"
)

func TestKeyringService_StoreGetDelete(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	svc := services.NewKeyringService(keyring.NewArrayKeyring(nil))

	require.NoError(t, svc.StoreApiKey(services.ProviderGemini, []byte(" secret-key \n")))
	key, err := svc.GetApiKey(services.ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "secret-key", key)

	list, err := svc.ListApiKeys()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, services.ProviderGemini, list[0]["provider"])

	require.NoError(t, svc.DeleteApiKey(services.ProviderGemini))
	require.NoError(t, svc.DeleteApiKey(services.ProviderGemini))
	key, err = svc.GetApiKey(services.ProviderGemini)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestKeyringService_FallsBackToEnvironment(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	svc := services.NewKeyringService(keyring.NewArrayKeyring(nil))

	key, err := svc.GetApiKey(services.ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)

	require.NoError(t, svc.StoreApiKey(services.ProviderGemini, []byte("stored")))
	key, err = svc.GetApiKey(services.ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "stored", key)
}

func TestKeyringService_RejectsEmptyInput(t *testing.T) {
	svc := services.NewKeyringService(keyring.NewArrayKeyring(nil))
	assert.Error(t, svc.StoreApiKey(services.ProviderGemini, nil))
	assert.Error(t, svc.StoreApiKey("", []byte("k")))
	_, err := svc.GetApiKey("")
	assert.Error(t, err)
}

func TestKeyringService_UnknownProviderHasNoFallback(t *testing.T) {
	svc := services.NewKeyringService(keyring.NewArrayKeyring(nil))
	key, err := svc.GetApiKey("openai")
	require.NoError(t, err)
	assert.Empty(t, key)
}
