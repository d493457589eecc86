package out

import "context"

// SecretStore resolves a named secret (API keys, bearer tokens). A missing
// key is a Critical error (§6).
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
}
