// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/tiledgeojson/internal/dataset"
	"github.com/joeblew999/tiledgeojson/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Dataset *service.DatasetService
	Session *service.SessionService
	Source  *service.SourceService
	Builder *service.BuilderService
}

// RegisterRoutes registers every REST route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// Types

type SessionIDInput struct {
	ID string `path:"id" doc:"Session ID" example:"PPPaQsbNR"`
}

type SessionOutput struct {
	Body service.SessionState
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// DocumentOutput is a JSON document passed through as stored.
type DocumentOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

type TileInput struct {
	File string `path:"file" doc:"Tile document, <hash>.json" example:"3f786850e387550fdab836ed7e6dc881de23001b.json"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterDataset registers the dataset routes. The metadata and tile
// documents are served at the paths layers fetch them from.
func (h *APIHandler) RegisterDataset(api huma.API) {
	huma.Get(api, "/"+dataset.MetadataFile, h.GetMetadata, huma.OperationTags("dataset"))
	huma.Get(api, "/"+dataset.TilesDir+"/{file}", h.GetTile, huma.OperationTags("dataset"))
	huma.Get(api, "/api/v1/dataset", h.GetDataset, huma.OperationTags("dataset"))
}

// RegisterSources registers source listing and build routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
	huma.Post(api, "/api/v1/build", h.Build, huma.OperationTags("sources"))
}

// RegisterSessions registers viewer session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	huma.Get(api, "/api/v1/sessions", h.GetSessions, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions", h.CreateSession, huma.OperationTags("sessions"),
		func(o *huma.Operation) { o.DefaultStatus = http.StatusCreated })
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, huma.OperationTags("sessions"))
	huma.Put(api, "/api/v1/sessions/{id}/viewport", h.PutViewport, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/sessions/{id}/features", h.GetFeatures, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/reload", h.ReloadSession, huma.OperationTags("sessions"))
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, huma.OperationTags("sessions"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetMetadata(ctx context.Context, input *struct{}) (*DocumentOutput, error) {
	data, err := h.svc.Dataset.MetadataDocument()
	if err != nil {
		return nil, datasetError(err)
	}
	return &DocumentOutput{ContentType: "application/json", CacheControl: "no-cache", Body: data}, nil
}

func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*DocumentOutput, error) {
	hash, ok := strings.CutSuffix(input.File, ".json")
	if !ok {
		return nil, huma.Error404NotFound("tile not found")
	}
	data, err := h.svc.Dataset.TileDocument(hash)
	if err != nil {
		return nil, datasetError(err)
	}
	// documents are named by content, so they never change
	return &DocumentOutput{
		ContentType:  "application/geo+json",
		CacheControl: "public, max-age=31536000, immutable",
		Body:         data,
	}, nil
}

func (h *APIHandler) GetDataset(ctx context.Context, input *struct{}) (*struct{ Body service.DatasetInfo }, error) {
	info, err := h.svc.Dataset.Info()
	if err != nil {
		return nil, datasetError(err)
	}
	return &struct{ Body service.DatasetInfo }{Body: info}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	sources, err := h.svc.Source.List()
	if err != nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

func (h *APIHandler) Build(ctx context.Context, input *struct{ Body service.BuildOptions }) (*struct{ Body service.BuildResult }, error) {
	res, err := h.svc.Builder.Build(ctx, input.Body, nil)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &struct{ Body service.BuildResult }{Body: *res}, nil
}

func (h *APIHandler) GetSessions(ctx context.Context, input *PageInput) (*struct{ Body PageBody[string] }, error) {
	return &struct{ Body PageBody[string] }{Body: Page(h.svc.Session.List(), *input)}, nil
}

func (h *APIHandler) CreateSession(ctx context.Context, input *struct{ Body service.SessionConfig }) (*SessionOutput, error) {
	sess, err := h.svc.Session.Create(input.Body)
	if errors.Is(err, service.ErrBadViewport) {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to create session", err)
	}
	return h.state(ctx, sess)
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionIDInput) (*SessionOutput, error) {
	sess, err := h.svc.Session.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return h.state(ctx, sess)
}

func (h *APIHandler) PutViewport(ctx context.Context, input *struct {
	SessionIDInput
	Body service.Viewport
}) (*SessionOutput, error) {
	sess, err := h.svc.Session.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	if err := sess.SetViewport(input.Body); err != nil {
		return nil, sessionError(err)
	}
	if err := sess.Sync(ctx); err != nil {
		return nil, sessionError(err)
	}
	return h.state(ctx, sess)
}

func (h *APIHandler) GetFeatures(ctx context.Context, input *SessionIDInput) (*DocumentOutput, error) {
	sess, err := h.svc.Session.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	data, err := sess.FeatureCollection().MarshalJSON()
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to encode features", err)
	}
	return &DocumentOutput{ContentType: "application/geo+json", CacheControl: "no-cache", Body: data}, nil
}

func (h *APIHandler) ReloadSession(ctx context.Context, input *SessionIDInput) (*struct{ Body MessageBody }, error) {
	sess, err := h.svc.Session.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	if err := sess.Reload(ctx); err != nil {
		return nil, sessionError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session reloading"}}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Session.Delete(ctx, input.ID); err != nil {
		return nil, sessionError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session deleted"}}, nil
}

func (h *APIHandler) state(ctx context.Context, sess *service.Session) (*SessionOutput, error) {
	st, err := sess.State(ctx)
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: st}, nil
}

func datasetError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidHash):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, service.ErrNoDataset), errors.Is(err, os.ErrNotExist):
		return huma.Error404NotFound(err.Error())
	default:
		return huma.Error500InternalServerError("dataset unavailable", err)
	}
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrBadViewport):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("session stopped", err)
	default:
		return huma.Error500InternalServerError("session error", err)
	}
}
