//go:build !darwin

package procinfo

import (
	"context"

	"github.com/serome111/portwatch/internal/model"
)

// platformSigner stubs signing inspection on non-macOS platforms; the
// scorer must treat Unknown verdicts as neutral rather than penalizing
// an "unsigned" binary it never actually inspected.
type platformSigner struct{}

func (platformSigner) inspect(ctx context.Context, exePath string) model.SigningVerdict {
	return model.SigningVerdict{Unknown: true}
}
