package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-map/internal/humastar"
	"github.com/joeblew999/plat-map/internal/scene"
	"github.com/joeblew999/plat-map/internal/service"
)

// Custom DOM events dispatched on the browser document.
const (
	SnapshotEvent = "map-snapshot"
	CommandEvent  = "map-command"
)

// RegisterEvents registers the Datastar streams that drive the browser map.
func (h *APIHandler) RegisterEvents(api huma.API) {
	huma.Get(api, "/api/v1/map/events", h.Events, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/map/panel/toggle", h.PanelToggle, huma.OperationTags("map"))
}

// Events streams scene commands and notices. A browser that connects late
// first receives the scene snapshots, then every command with a higher
// sequence number.
func (h *APIHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return humastar.Stream(func(sse humastar.SSE) {
		bus := h.svc.Map.Bus()
		ch := bus.Subscribe()
		defer bus.Unsubscribe(ch)

		// Subscribe before snapshotting so nothing falls between the two.
		var snaps []scene.Snapshot
		err := h.svc.Map.Run(ctx, func() (err error) {
			snaps, err = h.svc.Map.Scenes()
			return err
		})
		seen := map[string]uint64{}
		if err != nil {
			h.log.Debug().Err(err).Msg("event stream without snapshot")
		}
		for _, snap := range snaps {
			seen[snap.Target] = snap.Seq
			if err := sse.Event(SnapshotEvent, snap); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := h.forward(sse, ev, seen); err != nil {
					h.log.Debug().Err(err).Msg("event stream closed")
					return
				}
			}
		}
	}), nil
}

func (h *APIHandler) forward(sse humastar.SSE, ev service.Event, seen map[string]uint64) error {
	switch p := ev.Payload.(type) {
	case scene.Command:
		if p.Seq <= seen[p.Target] {
			return nil
		}
		seen[p.Target] = p.Seq
		if p.Op == scene.CloseOp {
			// A remounted scene numbers its commands from 1 again.
			delete(seen, p.Target)
		}
		return sse.Event(CommandEvent, p)
	case service.Notice:
		switch p.Level {
		case "error":
			return sse.Error(p.Message)
		case "fatal":
			return sse.Signals(map[string]any{"error": p.Message, "fatal": true})
		default:
			return sse.Success(p.Message)
		}
	}
	return nil
}

// PanelToggle is the side panel's switch. It reads the layer id from the
// "layer" signal, or a whole table from the "visibility" signal, and answers
// with the resulting visibility table as signals.
func (h *APIHandler) PanelToggle(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	id := signals.String("layer")
	replace := id == "" && signals.Has("visibility")
	if !replace && !h.known(id) {
		return humastar.Stream(func(sse humastar.SSE) {
			sse.Error("Unknown layer: " + id)
		}), nil
	}

	var table map[string]bool
	err = h.svc.Map.Run(ctx, func() error {
		var err error
		if replace {
			err = h.svc.Map.SetVisibility(signals.Table("visibility"))
		} else {
			_, err = h.svc.Map.ToggleLayer(id)
		}
		if err != nil {
			return err
		}
		table = h.svc.Map.Snapshot().Visibility
		return nil
	})
	return humastar.Stream(func(sse humastar.SSE) {
		if err != nil {
			sse.Error(err.Error())
			return
		}
		vis := make(map[string]any, len(table))
		for k, v := range table {
			vis[k] = v
		}
		sse.Signals(map[string]any{"visibility": vis})
	}), nil
}
