package mapstate

import (
	"github.com/joeblew999/plat-map/internal/engine"
	"github.com/joeblew999/plat-map/internal/hover"
	"github.com/joeblew999/plat-map/internal/measure"
	"github.com/joeblew999/plat-map/internal/style"
)

// StyleState reports the style controller.
type StyleState struct {
	Mode     string `json:"mode" example:"flat-normal"`
	Desired  string `json:"desired" doc:"Mode the controller is converging to"`
	Terrain  bool   `json:"terrain"`
	Imagery  bool   `json:"satellite"`
	Busy     bool   `json:"busy" doc:"A transition is in flight"`
	Degraded bool   `json:"degraded" doc:"Both a style load and its revert failed"`
	Document string `json:"document"`
}

// MeasureState reports the measurement machine.
type MeasureState struct {
	Mode    string           `json:"mode" enum:"idle,route,line"`
	Points  int              `json:"points" doc:"Captured points of the pending pair"`
	Pending bool             `json:"pending" doc:"A route request is in flight"`
	Records []measure.Record `json:"records"`
}

// State is a read-only view of the engine.
type State struct {
	Mounted    bool             `json:"mounted"`
	Ready      bool             `json:"ready"`
	View       engine.ViewState `json:"view"`
	Style      StyleState       `json:"style"`
	Visibility map[string]bool  `json:"visibility"`
	Measure    MeasureState     `json:"measure"`
	Hover      hover.Status     `json:"hover"`
	Compass    float64          `json:"compass" doc:"Displayed compass bearing"`
}

// Snapshot returns the current state. It works while unmounted.
func (e *Engine) Snapshot() State {
	ms := e.measure.State()
	st := State{
		Mounted:    e.mounted,
		Ready:      e.ready,
		Style:      styleState(e.style),
		Visibility: e.visibility.Last(),
		Measure: MeasureState{
			Mode:    ms.Mode.String(),
			Points:  len(ms.Points),
			Pending: ms.Pending,
			Records: e.measure.Records(),
		},
		Hover:   e.hover.State(),
		Compass: e.animation.Compass().Display,
	}
	if e.main != nil {
		st.View = e.main.View()
	}
	return st
}

func styleState(c *style.Controller) StyleState {
	m := c.Mode()
	return StyleState{
		Mode:     m.String(),
		Desired:  c.Desired().String(),
		Terrain:  m.Terrain,
		Imagery:  m.Satellite,
		Busy:     c.Busy(),
		Degraded: c.Degraded(),
		Document: c.Document(),
	}
}
