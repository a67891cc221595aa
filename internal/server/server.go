package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/joeblew999/campus-map/internal/api"
	"github.com/joeblew999/campus-map/internal/api/mapui"
	"github.com/joeblew999/campus-map/internal/humastar"
	"github.com/joeblew999/campus-map/internal/journal"
	"github.com/joeblew999/campus-map/internal/mapstate"
	"github.com/joeblew999/campus-map/internal/resolver"
	"github.com/joeblew999/campus-map/internal/service"
	"github.com/joeblew999/campus-map/internal/templates"
	"github.com/joeblew999/campus-map/internal/wfs"
)

// janitorInterval is how often idle map sessions are evicted.
const janitorInterval = time.Minute

// Config holds the server configuration.
type Config struct {
	Host        string
	Port        string
	DataDir     string
	WebDir      string // web/ directory holding static files and templates
	WFS         wfs.Config
	CORSOrigins []string
	SessionTTL  time.Duration
	Logger      *zap.Logger

	// ReloadTemplates re-parses the fragment templates on every /map load.
	ReloadTemplates bool
}

// Server is the campus map HTTP server.
type Server struct {
	config     Config
	mux        *http.ServeMux
	handler    http.Handler
	humaAPI    huma.API
	logger     *zap.Logger
	journal    *journal.Journal
	gateway    *wfs.Gateway
	resolver   *resolver.Resolver
	controller *mapstate.Controller
	campuses   *service.CampusService
	bus        *service.EventBus
	renderer   *templates.Renderer
	stop       context.CancelFunc
}

// New creates a campus map server. A journal that cannot be opened is
// logged and left out; the map keeps working without it.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("campus-map API", api.Version)
	humaConfig.Info.Description = "Campus map over a WFS server: buildings, services, audiences, campus presets and exports."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer(api.Links))

	humaAPI := humago.New(mux, humaConfig)
	humaAPI.UseMiddleware(requestLogger(logger.Named("http")))

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		logger:  logger,
		bus:     service.NewEventBus(),
	}

	s.gateway = wfs.New(cfg.WFS, logger)
	s.resolver = resolver.New(s.gateway, logger)
	s.campuses = service.NewCampusService(cfg.DataDir, s.bus)

	j, err := journal.Open(context.Background(), journal.Config{DataDir: cfg.DataDir, DBName: "campus"}, logger)
	if err != nil {
		logger.Warn("write journal unavailable", zap.Error(err))
	} else {
		s.journal = j
	}

	deps := mapstate.Deps{
		Reader:     s.resolver,
		Writer:     s.gateway,
		Bus:        s.bus,
		Logger:     logger,
		SessionTTL: cfg.SessionTTL,
	}
	if s.journal != nil {
		deps.Journal = s.journal
	}
	s.controller = mapstate.New(deps)

	if cfg.WebDir != "" {
		fragmentsDir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if r, err := templates.New(fragmentsDir); err == nil {
			s.renderer = r
			logger.Info("loaded fragment templates", zap.String("dir", fragmentsDir))
		} else {
			logger.Warn("fragment templates unavailable, map page disabled", zap.String("dir", fragmentsDir), zap.Error(err))
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	go s.controller.Sessions().Run(ctx, janitorInterval)

	s.routes()
	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Datastar-Request"},
		ExposedHeaders: []string{"Link", "Content-Disposition"},
	}).Handler(mux)
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

// Close stops the session janitor and closes the journal.
func (s *Server) Close() error {
	s.stop()
	return s.journal.Close()
}

func (s *Server) routes() {
	services := &api.Services{
		Catalog:   s.resolver,
		Relocator: s.gateway,
		Campuses:  s.campuses,
		Bus:       s.bus,
		Logger:    s.logger,
	}
	if s.journal != nil {
		services.Journal = s.journal
	}
	api.RegisterRoutes(s.humaAPI, services)
	api.NewInfoHandler(s.gateway.Config().BaseURL, s.gateway.Config().Workspace,
		s.journal != nil, s.controller.Sessions()).RegisterRoutes(s.humaAPI)

	if s.renderer != nil {
		mapui.NewMapHandler(s.controller, s.resolver, s.campuses, s.bus, s.renderer, s.logger).
			RegisterRoutes(s.humaAPI)
	}

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		s.mux.HandleFunc("/map", s.handleMap)
	}

	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Link", `</map>; rel="map", </docs>; rel="service-doc", </openapi.json>; rel="service-desc"`)
	json.NewEncoder(w).Encode(map[string]string{
		"service": "campus-map",
		"status":  "running",
	})
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	if s.config.ReloadTemplates && s.renderer != nil {
		if err := s.renderer.Reload(); err != nil {
			s.logger.Warn("template reload failed", zap.Error(err))
		}
	}
	http.ServeFile(w, r, filepath.Join(s.config.WebDir, "templates", "map.html"))
}

// requestLogger logs every API request once it has been answered.
func requestLogger(logger *zap.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		next(ctx)
		logger.Info("request",
			zap.String("method", ctx.Method()),
			zap.String("path", ctx.URL().Path),
			zap.Int("status", ctx.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
