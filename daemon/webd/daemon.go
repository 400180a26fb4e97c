package webd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/mux"
	"github.com/olahol/melody"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/view"
)

// WebDaemon serves a view's tile layers over HTTP and streams its changes
// over a websocket.
type WebDaemon struct {
	Config         *params.WebDaemonConfig
	logger         *slog.Logger
	view           *view.View
	melodyInstance *melody.Melody
	changesSub     event.Subscription
	started        time.Time
}

func NewWebDaemon(config *params.WebDaemonConfig, v *view.View) *WebDaemon {
	if config == nil {
		config = params.DefaultWebDaemonConfig()
	}
	return &WebDaemon{
		Config:  config,
		logger:  slog.With("d", "web"),
		view:    v,
		started: time.Now(),
	}
}

// Run serves until ctx is done, then shuts the server down.
func (s *WebDaemon) Run(ctx context.Context) error {
	ln, err := net.Listen(s.Config.Network, s.Config.Address)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: s.Config.ReadHeaderTimeout,
	}
	defer s.Close()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Failed to shut down", "error", err)
		}
	}()

	s.logger.Info("Starting web daemon", "network", s.Config.Network, "address", ln.Addr().String())
	if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WebDaemon) NewRouter() *mux.Router {
	s.initMelody()

	router := mux.NewRouter().StrictSlash(false)
	router.Use(loggingMiddleware)

	router.Path(s.Config.SocketPath).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.melodyInstance.HandleRequest(w, r)
	})

	apiRoutes := router.NewRoute().Subrouter()

	// All API routes use permissive CORS settings.
	apiRoutes.Use(permissiveCorsMiddleware)

	// /ping is a simple server healthcheck endpoint
	apiRoutes.Path("/ping").HandlerFunc(pingPong)

	apiJSONRoutes := apiRoutes.NewRoute().Subrouter()
	apiJSONRoutes.Use(contentTypeMiddlewareFunc("application/json"))

	apiJSONRoutes.Path("/status").HandlerFunc(s.statusReport).Methods(http.MethodGet)
	apiJSONRoutes.Path("/camera").HandlerFunc(s.handleGetCamera).Methods(http.MethodGet)
	apiJSONRoutes.Path("/camera").HandlerFunc(s.handleSetCamera).Methods(http.MethodPost)
	apiJSONRoutes.Path("/layers/{layer}/stats").HandlerFunc(s.handleLayerStats).Methods(http.MethodGet)

	geoJSONRoutes := apiRoutes.NewRoute().Subrouter()
	geoJSONRoutes.Use(contentTypeMiddlewareFunc("application/geo+json"))
	geoJSONRoutes.Path("/layers/{layer}/tiles").HandlerFunc(s.handleTiles).Methods(http.MethodGet)

	return router
}

// Close stops streaming changes and disconnects websocket clients.
func (s *WebDaemon) Close() {
	if s.changesSub != nil {
		s.changesSub.Unsubscribe()
		s.changesSub = nil
	}
	if s.melodyInstance != nil && !s.melodyInstance.IsClosed() {
		_ = s.melodyInstance.Close()
	}
}
