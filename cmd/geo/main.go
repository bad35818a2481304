package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-map/internal/logging"
	"github.com/joeblew999/plat-map/internal/loop"
	"github.com/joeblew999/plat-map/internal/mapstate"
	"github.com/joeblew999/plat-map/internal/measure"
	"github.com/joeblew999/plat-map/internal/metrics"
	"github.com/joeblew999/plat-map/internal/pmtiles"
	"github.com/joeblew999/plat-map/internal/routing"
	"github.com/joeblew999/plat-map/internal/scene"
	"github.com/joeblew999/plat-map/internal/server"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/style"
	"github.com/joeblew999/plat-map/internal/tiler"
)

// Options defines all CLI flags and env vars for the map server.
// Flags: --host, --port, --data-dir, --catalog, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_CATALOG, ...
type Options struct {
	Host     string `doc:"Host to bind to" default:"0.0.0.0"`
	Port     int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir  string `doc:"Directory holding the .pmtiles archives" default:".data/tiles"`
	Catalog  string `doc:"Layer catalogue YAML; empty uses the built-in catalogue"`
	BaseURL  string `doc:"Public URL of this server; derived from host and port when empty"`
	LogLevel string `doc:"Log level (debug, info, warn, error)" default:"info"`

	StyleFlat            string `doc:"Street style document" default:"https://demotiles.maplibre.org/style.json"`
	StyleSatellite       string `doc:"Satellite style document" default:"https://demotiles.maplibre.org/style.json"`
	StyleRaised          string `doc:"Street style used with terrain; empty reuses --style-flat"`
	StyleRaisedSatellite string `doc:"Satellite style used with terrain; empty reuses --style-satellite"`
	TerrainURL           string `doc:"raster-dem TileJSON for relief" default:"https://demotiles.maplibre.org/terrain-tiles/tiles.json"`
	MinimapStyle         string `doc:"Overview map style; empty reuses --style-flat"`
	MinimapZoomOffset    int    `doc:"Zoom levels the overview map sits below the main map" default:"4"`
	TerrainPitch         int    `doc:"Camera pitch eased to when relief is enabled; 0 keeps the view" default:"0"`

	RoutingURL    string `doc:"OSRM-compatible routing service; empty disables route measurement" default:"https://router.project-osrm.org"`
	RedisAddr     string `doc:"Redis address for the route cache; empty disables caching"`
	RedisPassword string `doc:"Redis password"`
	RedisDB       int    `doc:"Redis database" default:"0"`
}

func (o *Options) baseURL() string {
	if o.BaseURL != "" {
		return o.BaseURL
	}
	host := o.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, o.Port)
}

func (o *Options) documents() style.Documents {
	return style.Documents{
		FlatNormal:      o.StyleFlat,
		FlatSatellite:   o.StyleSatellite,
		RaisedNormal:    o.StyleRaised,
		RaisedSatellite: o.StyleRaisedSatellite,
		TerrainSource:   o.TerrainURL,
	}
}

// app is everything the serve command runs.
type app struct {
	loop   *loop.Loop
	server *server.Server
	store  *pmtiles.Store
	log    zerolog.Logger
}

func newApp(opts *Options) (*app, error) {
	log := logging.New(opts.LogLevel)

	catalog, err := service.LoadCatalog(opts.Catalog)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	l := loop.New(loop.DefaultFrameInterval)

	var router measure.Router
	cacheOn := false
	if opts.RoutingURL != "" {
		client := routing.NewClient(opts.RoutingURL, log)
		client.Metrics = m
		if rc := routing.OpenRedis(opts.RedisAddr, opts.RedisPassword, opts.RedisDB); rc != nil {
			client.Cache = routing.NewRedisCache(rc, 0)
			cacheOn = true
		}
		router = client
	}

	engine, err := mapstate.New(mapstate.Config{
		Scheduler:         l,
		Catalog:           catalog,
		Documents:         opts.documents(),
		MinimapStyle:      opts.MinimapStyle,
		MinimapZoomOffset: float64(opts.MinimapZoomOffset),
		TerrainPitch:      float64(opts.TerrainPitch),
		Fetcher:           scene.HTTPStyleFetcher{},
		Router:            router,
		BaseURL:           opts.baseURL(),
		Logger:            log,
		Metrics:           m,
	})
	if err != nil {
		return nil, err
	}

	store := pmtiles.NewStore(opts.DataDir)
	srv := server.New(server.Config{
		Host:       opts.Host,
		Port:       fmt.Sprintf("%d", opts.Port),
		DataDir:    opts.DataDir,
		BaseURL:    opts.baseURL(),
		Routing:    router != nil,
		RouteCache: cacheOn,
	}, engine, service.NewTileService(store), m, log)
	return &app{loop: l, server: srv, store: store, log: log}, nil
}

func main() {
	_ = godotenv.Load(".env")

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var cancel context.CancelFunc

		hooks.OnStart(func() {
			a, err := newApp(opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer a.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			cancel = stop
			defer stop()

			// The loop outlives the HTTP server so Unmount can still run.
			loopCtx, stopLoop := context.WithCancel(context.Background())
			defer stopLoop()
			go a.loop.Run(loopCtx)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			baseURL := opts.baseURL()
			a.log.Info().
				Str("addr", addr).
				Str("data", opts.DataDir).
				Str("docs", baseURL+"/docs").
				Str("events", baseURL+"/api/v1/map/events").
				Msg("plat-map server starting")

			if err := a.server.Start(ctx, addr); err != nil {
				a.log.Error().Err(err).Msg("server stopped")
			}
		})
		hooks.OnStop(func() {
			if cancel != nil {
				cancel()
			}
		})
	})

	cli.Root().Use = "geo"
	cli.Root().Short = "Headless thematic map server"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			a, err := newApp(opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer a.store.Close()
			spec := a.server.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")
			output, err := marshal(spec, useYAML)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// catalog subcommand: validate and print the layer catalogue
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate the layer catalogue and print it (YAML by default, --json for JSON)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cat, err := service.LoadCatalog(opts.Catalog)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid catalogue: %v\n", err)
				os.Exit(1)
			}
			useJSON, _ := cmd.Flags().GetBool("json")
			output, err := marshal(cat.Catalog(), !useJSON)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling catalogue: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	catalogCmd.Flags().Bool("json", false, "Output as JSON instead of YAML")
	cli.Root().AddCommand(catalogCmd)

	// tile subcommand: build a PMTiles archive from GeoJSON
	tileCmd := &cobra.Command{
		Use:   "tile <input.geojson> <name>",
		Short: "Cut GeoJSON into vector tiles and write <data-dir>/<name>.pmtiles",
		Args:  cobra.ExactArgs(2),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			layer, _ := cmd.Flags().GetString("layer")
			minZoom, _ := cmd.Flags().GetInt("min-zoom")
			maxZoom, _ := cmd.Flags().GetInt("max-zoom")
			attribution, _ := cmd.Flags().GetString("attribution")

			out := filepath.Join(opts.DataDir, args[1]+".pmtiles")
			stats, err := tiler.BuildFile(args[0], out, tiler.Options{
				Layer:       layer,
				MinZoom:     minZoom,
				MaxZoom:     maxZoom,
				Attribution: attribution,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Tile generation failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote %s: %d tiles from %d features\n", out, stats.Tiles, stats.Features)
		}),
	}
	tileCmd.Flags().StringP("layer", "l", "", "Source layer name (default <name>_tile)")
	tileCmd.Flags().IntP("min-zoom", "Z", 0, "Minimum zoom")
	tileCmd.Flags().IntP("max-zoom", "z", tiler.DefaultMaxZoom, "Maximum zoom")
	tileCmd.Flags().String("attribution", "", "Attribution stored in the archive metadata")
	cli.Root().AddCommand(tileCmd)

	cli.Run()
}

func marshal(v any, asYAML bool) ([]byte, error) {
	if asYAML {
		return yaml.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
