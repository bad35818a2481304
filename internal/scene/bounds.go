package scene

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/joeblew999/plat-map/internal/engine"
)

const (
	tileSize = 512
	// half the equatorial circumference in EPSG:3857 metres
	mercatorHalf = math.Pi * orb.EarthRadius
)

// ViewportBounds approximates the visible bounds of a north-up viewport of
// width×height pixels. Bearing and pitch are ignored.
func ViewportBounds(v engine.ViewState, width, height float64) orb.Bound {
	// metres per pixel at this zoom
	res := 2 * mercatorHalf / (tileSize * math.Exp2(v.Zoom))
	c := project.Point(v.Center, project.WGS84.ToMercator)

	sw := orb.Point{
		clamp(c[0]-width/2*res, -mercatorHalf, mercatorHalf),
		clamp(c[1]-height/2*res, -mercatorHalf, mercatorHalf),
	}
	ne := orb.Point{
		clamp(c[0]+width/2*res, -mercatorHalf, mercatorHalf),
		clamp(c[1]+height/2*res, -mercatorHalf, mercatorHalf),
	}
	return orb.Bound{
		Min: project.Point(sw, project.Mercator.ToWGS84),
		Max: project.Point(ne, project.Mercator.ToWGS84),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
