package supervise

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PortListening reports whether something accepts TCP connections on
// 127.0.0.1:port within timeout.
func PortListening(port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// KillProcessOnPort force-kills any process listening on the port, except
// the current process. Best effort: hosts without lsof, vanished PIDs, and
// permission errors are all tolerated.
func KillProcessOnPort(ctx context.Context, port int) {
	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return
	}

	out, err := exec.CommandContext(ctx, lsofPath, "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		return
	}

	ownPID := os.Getpid()
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid == ownPID {
			continue
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		_ = proc.Signal(syscall.SIGKILL)
	}
}
