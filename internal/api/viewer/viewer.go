package viewer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	log "github.com/sirupsen/logrus"

	"github.com/joeblew999/tiledgeojson/internal/render"
	"github.com/joeblew999/tiledgeojson/internal/service"
	"github.com/joeblew999/tiledgeojson/internal/templates"
)

// Handler streams a session's render events to the browser and moves its
// viewport from Datastar signals.
type Handler struct {
	sessions *service.SessionService
	builder  *service.BuilderService
	renderer *templates.Renderer
}

// NewHandler creates a viewer handler. builder may be nil.
func NewHandler(sessions *service.SessionService, builder *service.BuilderService, renderer *templates.Renderer) *Handler {
	return &Handler{sessions: sessions, builder: builder, renderer: renderer}
}

type SessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// RegisterRoutes registers viewer routes with Huma.
func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/viewer/{id}/events", h.Events, huma.OperationTags("viewer"))
	huma.Post(api, "/api/v1/viewer/{id}/viewport", h.Viewport, huma.OperationTags("viewer"))
	if h.builder != nil {
		huma.Post(api, "/api/v1/viewer/build", h.Build, huma.OperationTags("viewer"))
	}
}

// Events streams feature additions and removals until the client goes
// away or the session is deleted.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := NewSSEContext(humaCtx)
			sub, drawn, err := sess.Subscribe(ctx)
			if err != nil {
				sse.SendSignals(map[string]any{"closed": true})
				return
			}
			defer sess.Unsubscribe(sub)

			h.replay(sse, drawn)
			h.sendState(ctx, sse, sess)

			events := sub.Events()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						sse.SendSignals(map[string]any{"closed": true})
						return
					}
					h.apply(sse, sess, ev)
				drain:
					for {
						select {
						case ev, ok := <-events:
							if !ok {
								break drain
							}
							h.apply(sse, sess, ev)
						default:
							break drain
						}
					}
					if sub.Overflowed() {
						drawn, err := sess.Resync(ctx, sub)
						if err != nil {
							sse.SendSignals(map[string]any{"closed": true})
							return
						}
						h.replay(sse, drawn)
					}
					h.sendState(ctx, sse, sess)
				}
			}
		},
	}, nil
}

// Viewport moves the session to the viewport in the signals and answers
// with the resulting state.
func (h *Handler) Viewport(ctx context.Context, input *struct {
	SessionInput
	SignalsInput
}) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	vp, err := signals.Viewport()
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	sess, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}

	if err := sess.SetViewport(vp); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if err := sess.Sync(ctx); err != nil {
		return nil, huma.Error503ServiceUnavailable("session stopped", err)
	}

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			h.sendState(ctx, NewSSEContext(humaCtx), sess)
		},
	}, nil
}

// Build builds the dataset from the signals and streams progress.
func (h *Handler) Build(ctx context.Context, input *SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}

	opts := service.BuildOptions{
		SourceFile: signals.String("sourcefile"),
		IDProperty: signals.String("idproperty"),
	}
	if opts.SourceFile == "" {
		return nil, huma.Error400BadRequest("Source file is required")
	}
	lods, err := service.ParseLODs(signals.String("lods"))
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	opts.LODs = lods

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := NewSSEContext(humaCtx)

			res, err := h.builder.Build(ctx, opts, func(progress int, status string) {
				sse.SendSignals(map[string]any{
					"buildStatus":   status,
					"buildProgress": progress,
				})
			})
			if err != nil {
				sse.SendError(err.Error())
				return
			}

			sse.SendSignals(map[string]any{
				"buildStatus":   "Complete!",
				"buildProgress": 100,
				"success":       fmt.Sprintf("Built %d tile documents from %d features", res.Files, res.Features),
			})
		},
	}, nil
}

// replay replaces the client's feature list with drawn.
func (h *Handler) replay(sse *SSEContext, drawn []render.Drawn) {
	var buf bytes.Buffer
	for _, d := range drawn {
		h.renderFeature(&buf, d.Tile.String(), d.Tile.LOD, d.Tile.Cell.X, d.Tile.Cell.Y, d.Index, d.ID)
	}
	sse.Patch(buf.String(), "#features")
	sse.Dispatch("features-reset", map[string]any{"count": len(drawn)})
}

func (h *Handler) apply(sse *SSEContext, sess *service.Session, ev render.Event) {
	key := featureKey(ev.Tile.LOD, ev.Tile.Cell.X, ev.Tile.Cell.Y, ev.Index)
	switch ev.Action {
	case "add":
		var buf bytes.Buffer
		h.renderFeature(&buf, ev.Tile.String(), ev.Tile.LOD, ev.Tile.Cell.X, ev.Tile.Cell.Y, ev.Index, sess.FeatureID(ev.Feature))
		sse.Append(buf.String(), "#features")
		sse.Dispatch("feature-added", map[string]any{
			"key":     key,
			"tile":    ev.Tile.String(),
			"feature": ev.Feature,
		})
	case "remove":
		sse.Remove(key)
		sse.Dispatch("feature-removed", map[string]any{"key": key, "tile": ev.Tile.String()})
	}
}

func (h *Handler) sendState(ctx context.Context, sse *SSEContext, sess *service.Session) {
	st, err := sess.State(ctx)
	if err != nil {
		sse.SendError(err.Error())
		return
	}
	signals := map[string]any{
		"lod":      st.LOD,
		"ready":    st.Ready,
		"cells":    len(st.ActiveCells),
		"loading":  len(st.Loading),
		"features": st.Features,
	}
	if st.Style != nil {
		signals["style"] = st.Style
	}
	sse.SendSignals(signals)
	if h.renderer == nil {
		return
	}
	html, err := h.renderer.Render("session-summary", st)
	if err != nil {
		log.WithField("session", sess.ID).Warnf("rendering summary: %v", err)
		return
	}
	sse.Patch(html, "#session")
}

func (h *Handler) renderFeature(buf *bytes.Buffer, tile string, lod, x, y, index int, id string) {
	if h.renderer == nil {
		return
	}
	err := h.renderer.RenderToBuffer(buf, "feature-item", map[string]any{
		"Key":   featureKey(lod, x, y, index),
		"Tile":  tile,
		"Index": index,
		"ID":    id,
	})
	if err != nil {
		buf.WriteString("<!-- template error: " + err.Error() + " -->")
	}
}

func featureKey(lod, x, y, index int) string {
	return fmt.Sprintf("feature-%d_%d_%d_%d", lod, x, y, index)
}
