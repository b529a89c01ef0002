package mocks

type APIKeyProviderMock struct {
	GetApiKeyFunc func(provider string) (string, error)
}

func (m *APIKeyProviderMock) GetApiKey(provider string) (string, error) {
	if m.GetApiKeyFunc != nil {
		return m.GetApiKeyFunc(provider)
	}
	return "test-key", nil
}
