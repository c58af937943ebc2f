//go:build darwin

package procinfo

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/serome111/portwatch/internal/model"
)

// platformSigner inspects code-signing state on macOS via codesign,
// spctl, and xattr subprocess calls (spec.md §4.1), the direct analogue
// of the teacher's WMI probes: an external tool invoked with a timeout
// and the result folded into a verdict struct.
type platformSigner struct{}

func (platformSigner) inspect(ctx context.Context, exePath string) model.SigningVerdict {
	verdict := model.SigningVerdict{}

	ctxCodesign, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctxCodesign, "codesign", "-dv", "--verbose=4", exePath).CombinedOutput()
	text := string(out)
	if err == nil {
		verdict.Signed = true
		if strings.Contains(text, "Authority=Apple") || strings.Contains(text, "Developer ID Application") {
			verdict.Apple = strings.Contains(text, "Authority=Apple")
		}
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Authority=") {
				verdict.Authorities = append(verdict.Authorities, strings.TrimPrefix(line, "Authority="))
			}
		}
	}

	ctxSpctl, cancelSpctl := context.WithTimeout(ctx, 2*time.Second)
	defer cancelSpctl()
	spctlOut, spctlErr := exec.CommandContext(ctxSpctl, "spctl", "-a", "-v", exePath).CombinedOutput()
	if spctlErr == nil && strings.Contains(string(spctlOut), "accepted") {
		verdict.Notarized = strings.Contains(string(spctlOut), "Notarized Developer ID") ||
			strings.Contains(string(spctlOut), "source=Notarized")
	}

	ctxXattr, cancelXattr := context.WithTimeout(ctx, 1*time.Second)
	defer cancelXattr()
	xattrOut, xattrErr := exec.CommandContext(ctxXattr, "xattr", "-p", "com.apple.quarantine", exePath).CombinedOutput()
	if xattrErr == nil && len(strings.TrimSpace(string(xattrOut))) > 0 {
		verdict.Quarantine = true
	}

	return verdict
}
