//go:build !darwin

package connections

import (
	"context"
	"errors"
)

// enumerateLsof has no fallback outside macOS; non-darwin platforms
// rely solely on the gopsutil kernel socket table.
func (e *Enumerator) enumerateLsof(ctx context.Context) ([]Raw, error) {
	return nil, errors.New("connections: lsof fallback only implemented on darwin")
}
