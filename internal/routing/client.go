// Package routing talks to an OSRM-compatible routing service.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/metrics"
)

// ErrNoRoute is returned when the service answers without a usable route.
var ErrNoRoute = errors.New("no route found")

// Route is the first route candidate returned by the service.
type Route struct {
	Path            orb.LineString `json:"path"`
	DistanceMeters  float64        `json:"distance"`
	DurationSeconds float64        `json:"duration"`
}

// Cache stores raw route responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
}

// Client is a routing service client.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Cache   Cache
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// NewClient creates a client with a 10s timeout.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Logger:  log,
	}
}

type response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64           `json:"distance"`
		Duration float64           `json:"duration"`
		Geometry *geojson.Geometry `json:"geometry"`
	} `json:"routes"`
}

// Route requests a driving route between two points.
func (c *Client) Route(ctx context.Context, from, to orb.Point) (Route, error) {
	key := cacheKey(from, to)
	if c.Cache != nil {
		if raw, ok := c.Cache.Get(ctx, key); ok {
			if r, err := decode(raw); err == nil {
				c.Metrics.ObserveRouting("cache_hit", 0)
				return r, nil
			}
		}
	}

	u := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		c.BaseURL, from.Lon(), from.Lat(), to.Lon(), to.Lat())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Route{}, err
	}
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	t0 := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.Metrics.ObserveRouting("error", time.Since(t0))
		c.Logger.Warn().Err(err).Msg("routing request failed")
		return Route{}, fmt.Errorf("routing request: %w", err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		c.Metrics.ObserveRouting("error", time.Since(t0))
		return Route{}, fmt.Errorf("decoding route: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.Metrics.ObserveRouting("error", time.Since(t0))
		return Route{}, fmt.Errorf("routing service status %d: %w", resp.StatusCode, ErrNoRoute)
	}

	r, err := decode(raw)
	if err != nil {
		c.Metrics.ObserveRouting("error", time.Since(t0))
		c.Logger.Warn().Err(err).Msg("routing service returned no route")
		return Route{}, err
	}
	c.Metrics.ObserveRouting("ok", time.Since(t0))
	c.Logger.Debug().Float64("distance_m", r.DistanceMeters).Dur("took", time.Since(t0)).Msg("route resolved")

	if c.Cache != nil {
		c.Cache.Set(ctx, key, raw)
	}
	return r, nil
}

func decode(raw []byte) (Route, error) {
	var body response
	if err := json.Unmarshal(raw, &body); err != nil {
		return Route{}, fmt.Errorf("decoding route: %w", err)
	}
	if body.Code != "Ok" {
		return Route{}, fmt.Errorf("code %q %s: %w", body.Code, body.Message, ErrNoRoute)
	}
	if len(body.Routes) == 0 {
		return Route{}, ErrNoRoute
	}
	first := body.Routes[0]
	var path orb.LineString
	if first.Geometry != nil {
		if ls, ok := first.Geometry.Geometry().(orb.LineString); ok {
			path = ls
		}
	}
	if len(path) < 2 {
		return Route{}, fmt.Errorf("route without path geometry: %w", ErrNoRoute)
	}
	return Route{
		Path:            path,
		DistanceMeters:  first.Distance,
		DurationSeconds: first.Duration,
	}, nil
}

func cacheKey(from, to orb.Point) string {
	return fmt.Sprintf("route:%.5f,%.5f;%.5f,%.5f", from.Lon(), from.Lat(), to.Lon(), to.Lat())
}
