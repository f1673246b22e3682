// Package viewer contains Datastar SSE handlers that drive a server-side
// viewer session from the browser.
package viewer

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"
)

// SSEContext wraps the Datastar SSE generator with helper methods.
type SSEContext struct {
	SSE *datastar.ServerSentEventGenerator
}

// NewSSEContext creates an SSE context from a Huma context.
func NewSSEContext(humaCtx huma.Context) *SSEContext {
	r, w := humago.Unwrap(humaCtx)
	return &SSEContext{
		SSE: datastar.NewSSE(w, r),
	}
}

// Patch replaces the content at a selector.
func (c *SSEContext) Patch(html, selector string) {
	c.SSE.PatchElements(html, datastar.WithSelector(selector), datastar.WithModeInner())
}

// Append adds html at the end of the element at selector.
func (c *SSEContext) Append(html, selector string) {
	c.SSE.PatchElements(html, datastar.WithSelector(selector), datastar.WithModeAppend())
}

// Remove deletes the element with id.
func (c *SSEContext) Remove(id string) {
	c.SSE.RemoveElementByID(id)
}

// Dispatch fires a DOM custom event in the browser.
func (c *SSEContext) Dispatch(name string, detail any) {
	c.SSE.DispatchCustomEvent(name, detail)
}

// SendError sends an error signal to the client.
func (c *SSEContext) SendError(msg string) {
	c.SSE.MarshalAndPatchSignals(map[string]any{
		"error": msg,
	})
}

// SendSignals sends arbitrary signals to the client.
func (c *SSEContext) SendSignals(signals map[string]any) {
	c.SSE.MarshalAndPatchSignals(signals)
}
