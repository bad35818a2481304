package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/api"
	"github.com/joeblew999/plat-map/internal/mapstate"
	"github.com/joeblew999/plat-map/internal/metrics"
	"github.com/joeblew999/plat-map/internal/service"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	// BaseURL is the public address of this server, used in TileJSON.
	BaseURL string
	// Routing and RouteCache are reported by /api/v1/info.
	Routing    bool
	RouteCache bool
}

// Server is the map HTTP server.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	humaAPI huma.API
	tiles   *service.TileService
	engine  *mapstate.Engine
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates the map server around a constructed engine.
func New(cfg Config, engine *mapstate.Engine, tiles *service.TileService, m *metrics.Metrics, log zerolog.Logger) *Server {
	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-map API", "1.0.0")
	humaConfig.Info.Description = "Headless thematic map: layer catalogue, style transitions, measurements and the Datastar stream that drives the browser map."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humago.New(mux, humaConfig),
		tiles:   tiles,
		engine:  engine,
		metrics: m,
		log:     log.With().Str("component", "server").Logger(),
	}
	s.routes()
	s.handler = s.observe(s.cors(mux))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

func (s *Server) routes() {
	h := api.NewAPIHandler(&api.Services{
		Catalog: s.engine.Catalog(),
		Tile:    s.tiles,
		Map:     s.engine,
		BaseURL: s.config.BaseURL,
		Logger:  s.log,
	})
	huma.AutoRegister(s.humaAPI, h)
	api.NewInfoHandler(s.dataDir(), s.config.Routing, s.config.RouteCache).RegisterRoutes(s.humaAPI)

	s.mux.HandleFunc("GET /tiles/{archive}/{z}/{x}/{y}", s.handleTile)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
}

func (s *Server) dataDir() string {
	if s.tiles == nil {
		return s.config.DataDir
	}
	return s.tiles.TilesDir()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/docs", http.StatusFound)
}

// handleTile serves one tile of a PMTiles archive. Tiles keep the
// compression they were stored with.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	if s.tiles == nil {
		http.NotFound(w, r)
		return
	}
	t, err := parseTile(r.PathValue("z"), r.PathValue("x"), r.PathValue("y"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tile, err := s.tiles.Tile(r.PathValue("archive"), t)
	switch {
	case service.IsNotFound(err):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, service.ErrInvalidTile):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("tile read failed")
		http.Error(w, "tile read failed", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", tile.ContentType)
	if tile.ContentEncoding != "" {
		w.Header().Set("Content-Encoding", tile.ContentEncoding)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.Write(tile.Data)
}

func parseTile(zs, xs, ys string) (maptile.Tile, error) {
	z, err := strconv.ParseUint(zs, 10, 8)
	if err != nil {
		return maptile.Tile{}, fmt.Errorf("invalid zoom %q", zs)
	}
	x, err := strconv.ParseUint(xs, 10, 32)
	if err != nil {
		return maptile.Tile{}, fmt.Errorf("invalid x %q", xs)
	}
	y, err := strconv.ParseUint(ys, 10, 32)
	if err != nil {
		return maptile.Tile{}, fmt.Errorf("invalid y %q", ys)
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), nil
}

// cors opens the tile endpoints to map clients served from other origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Encoding, Link")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// observe records request metrics under the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		s.metrics.ObserveHTTPRequest(r.Method, path, rec.status, time.Since(start))
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start mounts the map and serves until ctx is done. The engine's loop
// must already be running.
func (s *Server) Start(ctx context.Context, addr string) error {
	if err := s.engine.Run(ctx, func() error {
		return s.engine.Mount(func(err error) {
			if err != nil {
				s.log.Error().Err(err).Msg("initial style failed")
			}
		})
	}); err != nil {
		return fmt.Errorf("mounting map: %w", err)
	}

	srv := &http.Server{Addr: addr, Handler: s}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	_ = s.engine.Run(shutdownCtx, func() error {
		s.engine.Unmount()
		return nil
	})
	return err
}
