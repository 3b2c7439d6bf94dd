// Package capturelog persists drained child output to a size-rotated file.
// Each line is stamped with the time it was drained and the stream it came
// from. Rotated copies are named {name}.1 (newest) through {name}.N.
package capturelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gurre/processoutput-go/state/run"
)

// Capture is a line sink backed by a rotating file. It is safe for
// concurrent use by both drains.
type Capture struct {
	dir      string
	name     string
	maxBytes int64
	maxFiles int
	now      func() time.Time

	mu   sync.Mutex
	file *os.File
	size int64
	err  error
}

// Open creates the directory of path if needed and opens path for
// appending. Writing resumes at the existing size so rotation carries on
// across runs.
//
//	c, err := capturelog.Open("/var/log/procoutput/capture.log", 64<<20, 8)
//	if err != nil { ... }
//	defer c.Close()
func Open(path string, maxBytes int64, maxFiles int) (*Capture, error) {
	c := &Capture{
		dir:      filepath.Dir(path),
		name:     filepath.Base(path),
		maxBytes: maxBytes,
		maxFiles: max(maxFiles, 1),
		now:      time.Now,
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("capturelog: mkdir %s: %w", c.dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capturelog: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("capturelog: stat %s: %w", path, err)
	}

	c.file = f
	c.size = info.Size()
	return c, nil
}

// Consume appends one record. Write failures are kept, not returned; see Err.
func (c *Capture) Consume(line string, stream run.Stream) {
	rec := fmt.Sprintf("%s %s %s\n", c.now().UTC().Format(time.RFC3339Nano), stream, line)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked([]byte(rec)); err != nil && c.err == nil {
		c.err = err
	}
}

// Err returns the first write failure, if any.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the current file.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// writeLocked rotates first when p would push the file past maxBytes. A
// single record larger than maxBytes still lands whole in a fresh file.
func (c *Capture) writeLocked(p []byte) error {
	if c.file == nil {
		return fmt.Errorf("capturelog: closed")
	}

	if c.maxBytes > 0 && c.size > 0 && c.size+int64(len(p)) > c.maxBytes {
		if err := c.rotate(); err != nil {
			return err
		}
	}

	n, err := c.file.Write(p)
	c.size += int64(n)
	return err
}

// rotate shifts name.N-1 to name.N down to name to name.1, dropping the
// oldest, and opens a fresh file. Caller must hold c.mu.
func (c *Capture) rotate() error {
	_ = c.file.Close()
	c.file = nil

	base := filepath.Join(c.dir, c.name)
	_ = os.Remove(fmt.Sprintf("%s.%d", base, c.maxFiles))
	for i := c.maxFiles - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", base, i), fmt.Sprintf("%s.%d", base, i+1))
	}
	_ = os.Rename(base, base+".1")

	f, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("capturelog: open new %s: %w", base, err)
	}
	c.file = f
	c.size = 0
	return nil
}
