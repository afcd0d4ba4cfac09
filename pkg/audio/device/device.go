// Package device implements microphone capture and speaker playback on top of
// miniaudio (via the malgo bindings). A single [Context] owns the miniaudio
// backend; capture and playback devices are created from it and share its
// lifetime.
package device

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"
)

// Context wraps the miniaudio backend context. All devices created from a
// context must be closed before the context itself.
type Context struct {
	ctx *malgo.AllocatedContext
}

// NewContext initializes the miniaudio backend. Backend log messages are
// forwarded to slog at debug level.
func NewContext() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Close tears down the backend context. Devices created from this context
// must already be closed.
func (c *Context) Close() error {
	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	if err != nil {
		return fmt.Errorf("failed to uninitialize audio context: %w", err)
	}
	return nil
}
