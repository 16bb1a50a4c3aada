package supervise

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// tailBuffer keeps the last max lines written to it. Process output is
// drained into one of these so pipes never fill up and block the child.
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *tailBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *tailBuffer) Contains(substr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range b.lines {
		if strings.Contains(strings.ToLower(line), substr) {
			return true
		}
	}
	return false
}

// drain consumes r line by line until EOF. Run in its own goroutine.
func (b *tailBuffer) drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		b.Append(scanner.Text())
	}
}
