// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/mapstate"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/style"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Catalog *service.CatalogService
	Tile    *service.TileService
	Map     *mapstate.Engine
	// BaseURL roots the tile URLs of TileJSON documents.
	BaseURL string
	Logger  zerolog.Logger
}

// Types

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
	Mounted bool   `json:"mounted" doc:"Whether the map is mounted"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
	log zerolog.Logger
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc, log: svc.Logger.With().Str("component", "api").Logger()}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterCatalog registers the layer catalogue routes.
func (h *APIHandler) RegisterCatalog(api huma.API) {
	huma.Get(api, "/api/v1/catalog", h.GetCatalog, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/catalog/layers/{id}", h.GetLayer, huma.OperationTags("catalog"))
}

// RegisterTiles registers tile archive routes. Tile bytes are served by a
// plain handler in the server package.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles", h.GetTiles, huma.OperationTags("tiles"))
	huma.Get(api, "/tiles/{archive}", h.GetTileJSON, huma.OperationTags("tiles"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	body := HealthBody{Status: "ok", Version: "1.0.0"}
	if h.svc.Map != nil {
		_ = h.svc.Map.Run(ctx, func() error {
			body.Mounted = h.svc.Map.Snapshot().Mounted
			return nil
		})
	}
	return &struct{ Body HealthBody }{Body: body}, nil
}

type CatalogOutput struct {
	Body service.Catalog
}

func (h *APIHandler) GetCatalog(ctx context.Context, input *struct{}) (*CatalogOutput, error) {
	return &CatalogOutput{Body: h.svc.Catalog.Catalog()}, nil
}

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"regiones_zona1"`
}

type LayerOutput struct {
	Body service.LayerConfig
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	layer, ok := h.svc.Catalog.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: layer}, nil
}

func (h *APIHandler) GetTiles(ctx context.Context, input *struct{}) (*struct{ Body []service.TileFile }, error) {
	if h.svc.Tile == nil {
		return &struct{ Body []service.TileFile }{Body: []service.TileFile{}}, nil
	}
	tiles, err := h.svc.Tile.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing tiles", err)
	}
	return &struct{ Body []service.TileFile }{Body: tiles}, nil
}

type ArchiveInput struct {
	Archive string `path:"archive" doc:"Archive name without extension" example:"regiones_zona1"`
}

type TileJSONOutput struct {
	CORS string `header:"Access-Control-Allow-Origin"`
	Body service.TileJSON
}

func (h *APIHandler) GetTileJSON(ctx context.Context, input *ArchiveInput) (*TileJSONOutput, error) {
	if h.svc.Tile == nil {
		return nil, huma.Error404NotFound("no tile store")
	}
	tj, err := h.svc.Tile.TileJSON(input.Archive, h.svc.BaseURL)
	if err != nil {
		if service.IsNotFound(err) {
			return nil, huma.Error404NotFound("archive not found")
		}
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &TileJSONOutput{CORS: "*", Body: tj}, nil
}

// mapError translates engine errors into HTTP errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mapstate.ErrNotMounted):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, style.ErrDegraded):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, mapstate.ErrBadEvent):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("map loop did not respond", err)
	}
	return huma.Error500InternalServerError("map operation failed", err)
}
