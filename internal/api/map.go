package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/humastar"
	"github.com/joeblew999/plat-map/internal/mapstate"
	"github.com/joeblew999/plat-map/internal/measure"
	"github.com/joeblew999/plat-map/internal/style"
	"github.com/joeblew999/plat-map/internal/visibility"
)

// StateBody is the map state with the actions valid in it.
type StateBody struct {
	mapstate.State
}

// Actions lists the operations the current state allows.
func (b StateBody) Actions() []humastar.Action {
	if !b.Mounted {
		return nil
	}
	actions := []humastar.Action{
		{Rel: "visibility", Href: "/api/v1/map/visibility", Method: "PUT", Title: "Replace the visibility table"},
		{Rel: "route", Href: "/api/v1/map/measure/route", Method: "POST", Title: "Toggle route measurement"},
		{Rel: "line", Href: "/api/v1/map/measure/line", Method: "POST", Title: "Toggle straight-line measurement"},
	}
	if !b.Style.Degraded {
		actions = append(actions,
			humastar.Action{Rel: "terrain", Href: "/api/v1/map/style/terrain", Method: "POST", Title: "Toggle relief"},
			humastar.Action{Rel: "imagery", Href: "/api/v1/map/style/imagery", Method: "POST", Title: "Toggle satellite imagery"},
		)
	}
	if len(b.Measure.Records) > 0 || b.Measure.Mode != measure.Idle.String() {
		actions = append(actions, humastar.Action{Rel: "clear", Href: "/api/v1/map/measure", Method: "DELETE", Title: "Clear measurements"})
	}
	return actions
}

type StateOutput struct {
	Body StateBody
}

type VisibilityInput struct {
	Body map[string]bool `doc:"Visibility table keyed by layer or group id"`
}

type VisibilityOutput struct {
	Body map[string]bool
}

type ToggleBody struct {
	ID      string `json:"id"`
	Visible bool   `json:"visible"`
}

type ModeBody struct {
	Requested string `json:"requested" doc:"Mode the controller is moving to" example:"raised-normal"`
	Current   string `json:"current" doc:"Mode currently displayed"`
}

type MeasureModeInput struct {
	Mode string `path:"mode" enum:"route,line" doc:"Measurement mode to toggle"`
}

type MeasureModeBody struct {
	Mode string `json:"mode" enum:"idle,route,line"`
}

type ClickInput struct {
	Body struct {
		Lng float64 `json:"lng" minimum:"-180" maximum:"180"`
		Lat float64 `json:"lat" minimum:"-90" maximum:"90"`
	}
}

// PointerInput is a pointer event reported by the browser. Features are
// GeoJSON features under the pointer, as returned by queryRenderedFeatures.
type PointerInput struct {
	Body struct {
		Type     string           `json:"type" enum:"mouseenter,mousemove,mouseleave,mouseout"`
		Layer    string           `json:"layer,omitempty" doc:"Layer the event was bound to"`
		Lng      float64          `json:"lng"`
		Lat      float64          `json:"lat"`
		X        float64          `json:"x" doc:"Screen x in pixels"`
		Y        float64          `json:"y" doc:"Screen y in pixels"`
		Features []map[string]any `json:"features,omitempty"`
	}
}

// CameraInput is a camera change reported by the browser.
type CameraInput struct {
	Body struct {
		Center  [2]float64  `json:"center" doc:"[lng, lat]"`
		Zoom    float64     `json:"zoom" minimum:"0" maximum:"24"`
		Bearing float64     `json:"bearing"`
		Pitch   float64     `json:"pitch" minimum:"0" maximum:"85"`
		Bounds  *[4]float64 `json:"bounds,omitempty" doc:"Visible [west, south, east, north]"`
	}
}

// RegisterMap registers the map operation routes.
func (h *APIHandler) RegisterMap(api huma.API) {
	tags := huma.OperationTags("map")
	huma.Get(api, "/api/v1/map/state", h.GetState, tags)
	huma.Put(api, "/api/v1/map/visibility", h.PutVisibility, tags)
	huma.Post(api, "/api/v1/map/layers/{id}/toggle", h.ToggleLayer, tags)
	huma.Post(api, "/api/v1/map/style/terrain", h.ToggleTerrain, tags)
	huma.Post(api, "/api/v1/map/style/imagery", h.ToggleImagery, tags)
	huma.Post(api, "/api/v1/map/measure/{mode}", h.ToggleMeasure, tags)
	huma.Delete(api, "/api/v1/map/measure", h.ClearMeasurements, tags)
	huma.Post(api, "/api/v1/map/click", h.Click, tags)
	huma.Post(api, "/api/v1/map/pointer", h.Pointer, tags)
	huma.Post(api, "/api/v1/map/camera", h.Camera, tags)
}

func (h *APIHandler) GetState(ctx context.Context, input *struct{}) (*StateOutput, error) {
	var st mapstate.State
	err := h.svc.Map.Run(ctx, func() error {
		st = h.svc.Map.Snapshot()
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &StateOutput{Body: StateBody{st}}, nil
}

func (h *APIHandler) PutVisibility(ctx context.Context, input *VisibilityInput) (*VisibilityOutput, error) {
	var table visibility.Table
	err := h.svc.Map.Run(ctx, func() error {
		if err := h.svc.Map.SetVisibility(input.Body); err != nil {
			return err
		}
		table = h.svc.Map.Snapshot().Visibility
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &VisibilityOutput{Body: table}, nil
}

func (h *APIHandler) ToggleLayer(ctx context.Context, input *IDInput) (*struct{ Body ToggleBody }, error) {
	if !h.known(input.ID) {
		return nil, huma.Error404NotFound(fmt.Sprintf("unknown layer %q", input.ID))
	}
	var visible bool
	err := h.svc.Map.Run(ctx, func() (err error) {
		visible, err = h.svc.Map.ToggleLayer(input.ID)
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &struct{ Body ToggleBody }{Body: ToggleBody{ID: input.ID, Visible: visible}}, nil
}

// known reports whether id names a catalogue layer or a visibility group.
func (h *APIHandler) known(id string) bool {
	if _, ok := h.svc.Catalog.Get(id); ok {
		return true
	}
	_, ok := h.svc.Catalog.Visibility()[id]
	return ok
}

func (h *APIHandler) ToggleTerrain(ctx context.Context, input *struct{}) (*struct{ Body ModeBody }, error) {
	return h.toggleStyle(ctx, h.svc.Map.ToggleTerrain)
}

func (h *APIHandler) ToggleImagery(ctx context.Context, input *struct{}) (*struct{ Body ModeBody }, error) {
	return h.toggleStyle(ctx, h.svc.Map.ToggleImagery)
}

func (h *APIHandler) toggleStyle(ctx context.Context, toggle func() (style.Mode, error)) (*struct{ Body ModeBody }, error) {
	var body ModeBody
	err := h.svc.Map.Run(ctx, func() error {
		mode, err := toggle()
		if err != nil {
			return err
		}
		body = ModeBody{Requested: mode.String(), Current: h.svc.Map.Snapshot().Style.Mode}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	h.log.Debug().Str("requested", body.Requested).Msg("style toggle")
	return &struct{ Body ModeBody }{Body: body}, nil
}

func (h *APIHandler) ToggleMeasure(ctx context.Context, input *MeasureModeInput) (*struct{ Body MeasureModeBody }, error) {
	toggle := h.svc.Map.ToggleRouteMode
	if input.Mode == "line" {
		toggle = h.svc.Map.ToggleLineMode
	}
	var mode measure.Mode
	err := h.svc.Map.Run(ctx, func() (err error) {
		mode, err = toggle()
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &struct{ Body MeasureModeBody }{Body: MeasureModeBody{Mode: mode.String()}}, nil
}

func (h *APIHandler) ClearMeasurements(ctx context.Context, input *struct{}) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Map.Run(ctx, h.svc.Map.ClearMeasurements); err != nil {
		return nil, mapError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Measurements cleared"}}, nil
}

func (h *APIHandler) Click(ctx context.Context, input *ClickInput) (*struct{}, error) {
	p := orb.Point{input.Body.Lng, input.Body.Lat}
	err := h.svc.Map.Run(ctx, func() error { return h.svc.Map.Click(p) })
	if err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}

func (h *APIHandler) Pointer(ctx context.Context, input *PointerInput) (*struct{}, error) {
	in := input.Body
	ev := engine.Event{
		Type:    engine.EventType(in.Type),
		LayerID: in.Layer,
		LngLat:  orb.Point{in.Lng, in.Lat},
		Point:   [2]float64{in.X, in.Y},
	}
	for i, raw := range in.Features {
		f, err := decodeFeature(raw)
		if err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("feature %d: %v", i, err))
		}
		ev.Features = append(ev.Features, f)
	}
	err := h.svc.Map.Run(ctx, func() error { return h.svc.Map.Pointer(ev) })
	if err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}

// decodeFeature re-reads a generic JSON object as a GeoJSON feature.
func decodeFeature(raw map[string]any) (*geojson.Feature, error) {
	if _, ok := raw["type"]; !ok {
		raw["type"] = "Feature"
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return geojson.UnmarshalFeature(data)
}

func (h *APIHandler) Camera(ctx context.Context, input *CameraInput) (*struct{}, error) {
	in := input.Body
	v := engine.ViewState{
		Center:  orb.Point{in.Center[0], in.Center[1]},
		Zoom:    in.Zoom,
		Bearing: in.Bearing,
		Pitch:   in.Pitch,
	}
	var bounds *orb.Bound
	if b := in.Bounds; b != nil {
		bounds = &orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
	}
	err := h.svc.Map.Run(ctx, func() error { return h.svc.Map.Camera(v, bounds) })
	if err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}
