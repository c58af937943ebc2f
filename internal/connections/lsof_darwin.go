//go:build darwin

package connections

import (
	"context"
	"os/exec"
)

// enumerateLsof shells out to lsof in field-output mode, the macOS
// fallback used when the kernel socket table isn't readable directly
// (spec.md §4.2, §9 design note on privilege-dependent enumeration).
func (e *Enumerator) enumerateLsof(ctx context.Context) ([]Raw, error) {
	out, err := exec.CommandContext(ctx, "lsof", "-i", "-n", "-P", "-F", "pcnP").Output()
	if err != nil {
		return nil, err
	}
	return parseLsofFieldOutput(string(out), e.selfPID), nil
}
