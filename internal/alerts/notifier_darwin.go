//go:build darwin

package alerts

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// OSNotifier dispatches notifications via osascript's "display
// notification" command, the macOS analogue of the teacher's
// external-tool-via-os/exec-with-timeout probes.
type OSNotifier struct{}

func (OSNotifier) Notify(title, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	script := fmt.Sprintf(
		`display notification %q with title %q`,
		strings.ReplaceAll(message, `"`, `\"`),
		strings.ReplaceAll(title, `"`, `\"`),
	)
	return exec.CommandContext(ctx, "osascript", "-e", script).Run()
}
