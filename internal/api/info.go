package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir    string
	routing    bool
	routeCache bool
}

func NewInfoHandler(dataDir string, routing, routeCache bool) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, routing: routing, routeCache: routeCache}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name       string   `json:"name" doc:"Service name"`
	Version    string   `json:"version" doc:"Service version"`
	DataDir    string   `json:"data_dir" doc:"Tile archive directory"`
	Routing    bool     `json:"routing" doc:"Whether a routing service is configured"`
	RouteCache bool     `json:"route_cache" doc:"Whether route lookups are cached in redis"`
	Features   []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"pmtiles", "terrain", "satellite", "measure-line", "tooltips", "minimap"}
	if h.routing {
		features = append(features, "measure-route")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:       "plat-map",
		Version:    "0.1.0",
		DataDir:    h.dataDir,
		Routing:    h.routing,
		RouteCache: h.routeCache,
		Features:   features,
	}}, nil
}
