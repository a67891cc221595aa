package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/campus-map/internal/export"
	"github.com/joeblew999/campus-map/internal/logging"
	"github.com/joeblew999/campus-map/internal/resolver"
	"github.com/joeblew999/campus-map/internal/server"
	"github.com/joeblew999/campus-map/internal/wfs"
)

// Options defines all CLI flags and env vars for the campus map server.
// Flags: --host, --port, --wfs-url, --workspace, --data-dir, --web-dir, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_WFS_URL, SERVICE_WORKSPACE, ...
type Options struct {
	Host        string        `doc:"Host to bind to" default:"0.0.0.0"`
	Port        int           `doc:"Port to listen on" short:"p" default:"8086"`
	WFSURL      string        `doc:"GeoServer root URL" default:"http://localhost:8080/geoserver"`
	Workspace   string        `doc:"WFS workspace holding batiments, services and batiment_service" default:"projet"`
	WFSTimeout  time.Duration `doc:"Timeout of one WFS request" default:"15s"`
	LogLevel    string        `doc:"Log level: debug, info, warn, error" default:"info"`
	LogFormat   string        `doc:"Log format: json or console" default:"console"`
	DataDir     string        `doc:"Directory for the journal and campus presets" default:".data"`
	WebDir      string        `doc:"Path to web/ directory" default:"web"`
	CORSOrigins string        `doc:"Comma-separated allowed CORS origins" default:"*"`
	SessionTTL  time.Duration `doc:"Idle time after which a map session is dropped" default:"30m"`
	Dev         bool          `doc:"Reload HTML fragments on every map page load"`
}

func (o *Options) wfsConfig() wfs.Config {
	cfg := wfs.DefaultConfig()
	cfg.BaseURL = strings.TrimRight(o.WFSURL, "/")
	cfg.Workspace = o.Workspace
	cfg.Timeout = o.WFSTimeout
	return cfg
}

func newLogger(opts *Options) *zap.Logger {
	logger, err := logging.New(opts.LogLevel, opts.LogFormat, "campus-map")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func newServer(opts *Options, logger *zap.Logger) *server.Server {
	var origins []string
	for _, o := range strings.Split(opts.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return server.New(server.Config{
		Host:        opts.Host,
		Port:        fmt.Sprintf("%d", opts.Port),
		DataDir:     opts.DataDir,
		WebDir:      opts.WebDir,
		WFS:         opts.wfsConfig(),
		CORSOrigins: origins,
		SessionTTL:  opts.SessionTTL,
		Logger:      logger,

		ReloadTemplates: opts.Dev,
	})
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		logger := newLogger(opts)
		srv := newServer(opts, logger)
		httpSrv := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler: srv,
		}

		hooks.OnStart(func() {
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			logger.Info("campus-map server starting",
				zap.String("addr", httpSrv.Addr),
				zap.String("map", baseURL+"/map"),
				zap.String("docs", baseURL+"/docs"),
				zap.String("openapi", baseURL+"/openapi.json"),
				zap.String("wfs", opts.WFSURL),
				zap.String("data_dir", opts.DataDir),
			)

			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				logger.Warn("shutdown incomplete", zap.Error(err))
			}
			if err := srv.Close(); err != nil {
				logger.Warn("closing server resources", zap.Error(err))
			}
			logger.Sync()
		})
	})

	cli.Root().Use = "campus"
	cli.Root().Short = "Campus map of buildings and services over WFS"
	cli.Root().Version = "1.0.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts, zap.NewNop())
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// export subcommand: write the service export without starting the server
	exportCmd := &cobra.Command{
		Use:   "export [csv|geojson|xlsx]",
		Short: "Export every located service to a file",
		Args:  cobra.MaximumNArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			format := export.CSV
			if len(args) == 1 {
				f, err := export.ParseFormat(args[0])
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				format = f
			}
			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				out = format.Filename()
			}

			logger := newLogger(opts)
			defer logger.Sync()
			res := resolver.New(wfs.New(opts.wfsConfig(), logger), logger)

			rows, err := res.EnrichedServices(cmd.Context())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading services: %v\n", err)
				os.Exit(1)
			}
			data, err := export.Render(format, rows)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error rendering export: %v\n", err)
				os.Exit(1)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", out, err)
				os.Exit(1)
			}
			fmt.Printf("Exported %d services to %s\n", len(rows), out)
		}),
	}
	exportCmd.Flags().StringP("output", "o", "", "Output file (default campus.<format>)")
	cli.Root().AddCommand(exportCmd)

	cli.Run()
}
