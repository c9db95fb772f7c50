package runner

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"sync"
)

// restic reports a held repository lock on stderr; the exact wording has
// been stable across releases.
func lockSignature(line string) bool {
	return strings.Contains(line, "repository is already locked") ||
		strings.Contains(line, "unable to create lock")
}

// lineCapture collects child process output line by line.
//
// Every line is forwarded verbatim to the live writer; lines matching the
// filter are dropped from the captured log only.
type lineCapture struct {
	mu      sync.Mutex
	filter  *regexp.Regexp
	live    io.Writer
	buf     bytes.Buffer
	lines   []string
	sawLock bool
}

func newLineCapture(filter *regexp.Regexp, live io.Writer) *lineCapture {
	return &lineCapture{filter: filter, live: live}
}

func (c *lineCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(p)
	for {
		line, err := c.buf.ReadString('\n')
		if err != nil {
			// Partial line: put it back and wait for more bytes.
			c.buf.WriteString(line)
			break
		}
		c.handleLine(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// flush drains any trailing partial line. Call after the process exited.
func (c *lineCapture) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() > 0 {
		c.handleLine(strings.TrimRight(c.buf.String(), "\r\n"))
		c.buf.Reset()
	}
}

func (c *lineCapture) handleLine(line string) {
	if c.live != nil {
		_, _ = io.WriteString(c.live, line+"\n")
	}
	if lockSignature(line) {
		c.sawLock = true
	}
	if c.filter != nil && c.filter.MatchString(line) {
		return
	}
	c.lines = append(c.lines, line)
}

func (c *lineCapture) snapshot() (lines []string, sawLock bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...), c.sawLock
}
