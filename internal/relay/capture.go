package relay

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrCaptureLimit is reported once when a capture reaches its size limit.
var ErrCaptureLimit = errors.New("capture size limit reached")

// ErrCaptureAlloc is reported when the capture buffer cannot grow.
var ErrCaptureAlloc = errors.New("capture buffer allocation failed")

// Capture accumulates a copy of the bytes relayed in one direction.
//
// A Capture has a single writer (the pump that owns it) and must not be read
// until that pump has returned.
type Capture struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
	failed    bool
}

// NewCapture creates a capture. limit <= 0 means unlimited.
func NewCapture(limit int64) *Capture {
	return &Capture{limit: limit}
}

// Append copies p into the capture. Errors are informational: the capture
// stops growing but the caller keeps relaying.
func (c *Capture) Append(p []byte) (err error) {
	if c.failed || c.truncated {
		return nil
	}
	if c.limit > 0 {
		remaining := c.limit - int64(c.buf.Len())
		if int64(len(p)) > remaining {
			p = p[:remaining]
			c.truncated = true
			err = fmt.Errorf("%w (%d bytes)", ErrCaptureLimit, c.limit)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			if r != bytes.ErrTooLarge {
				panic(r)
			}
			c.failed = true
			err = ErrCaptureAlloc
		}
	}()
	c.buf.Write(p)
	return err
}

// Bytes returns the captured bytes.
func (c *Capture) Bytes() []byte { return c.buf.Bytes() }

// Len returns the number of captured bytes.
func (c *Capture) Len() int { return c.buf.Len() }

// Truncated reports whether the size limit cut the capture short.
func (c *Capture) Truncated() bool { return c.truncated }

// Failed reports whether the capture gave up because it could not grow.
func (c *Capture) Failed() bool { return c.failed }

// Usable reports whether the capture holds something worth persisting.
func (c *Capture) Usable() bool {
	return c != nil && !c.failed && c.buf.Len() > 0
}
