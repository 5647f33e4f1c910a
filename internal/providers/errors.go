package providers

import "fmt"

// ProviderModelsError wraps an upstream failure surfaced while listing or calling a
// provider's models, carrying the HTTP status and raw response body for the proxy layer
// to relay without having to re-parse anything.
type ProviderModelsError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderModelsError) Error() string {
	return fmt.Sprintf("providers: %s returned status %d: %s", e.Provider, e.Status, e.Body)
}
