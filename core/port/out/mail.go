// Package out holds the pipeline's outbound port interfaces: the
// boundaries the core depends on but does not implement.
package out

import (
	"context"

	"collabiq/core/domain"
)

// MailAdapter fetches cleaned messages after a cursor. Mail fetching
// itself, signature/quote stripping, and OAuth token handling are out of
// scope (§1) — this interface is the seam.
type MailAdapter interface {
	// Fetch returns messages strictly after afterID, in the adapter's
	// stable order. afterID == "" fetches from the beginning.
	Fetch(ctx context.Context, afterID string) ([]domain.Email, error)
}
