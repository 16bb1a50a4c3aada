package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// ExecSender delivers notifications through the platform notifier binary:
// osascript on macOS, notify-send elsewhere.
type ExecSender struct{}

// Send shells out to the platform notifier. Failures are returned, not
// fatal: a headless host simply has no notifier installed.
func (ExecSender) Send(title, body string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		cmd = exec.Command("osascript", "-e", script)
	} else {
		cmd = exec.Command("notify-send", title, body)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: %w: %s", err, out)
	}
	return nil
}
