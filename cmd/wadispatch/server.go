package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"wadispatch/internal/app"
	"wadispatch/internal/middleware"
	"wadispatch/internal/versioning"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// maxWebhookBytes bounds a single webhook delivery.
const maxWebhookBytes = 5 << 20

// maxAPIBodyBytes bounds JSON request bodies on the /v1 API; media travels base64 encoded.
const maxAPIBodyBytes = 25 << 20

type Server struct {
	router  *mux.Router
	app     *app.App
	logger  *logrus.Logger
	verbose bool
	server  *http.Server
}

func NewServer(a *app.App, verbose bool) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		app:     a,
		logger:  a.Logger,
		verbose: verbose,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger, s.app.Registry))
	s.router.Use(middleware.DetailedLogging(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.app.Registry.Handler()).Methods(http.MethodGet)

	// Provider callbacks authenticate with the webhook HMAC, not the API key.
	s.router.HandleFunc("/v1/webhooks/whatsapp", s.handleWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(requireAPIKey(s.app.Config.Server.APIKey))
	api.Use(versioning.Negotiate(s.logger))

	api.Handle("/events/ws", s.app.Feed).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleSend()).Methods(http.MethodPost)

	api.HandleFunc("/contacts", s.handleCreateContact()).Methods(http.MethodPost)
	api.HandleFunc("/contacts/{id}", s.handleGetContact()).Methods(http.MethodGet)
	api.HandleFunc("/contacts/{id}", s.handleUpdateContact()).Methods(http.MethodPut)
	api.HandleFunc("/contacts/{id}", s.handleDeleteContact()).Methods(http.MethodDelete)

	api.HandleFunc("/scheduled", s.handleCreateScheduled()).Methods(http.MethodPost)
	api.HandleFunc("/scheduled", s.handleListScheduled()).Methods(http.MethodGet)
	api.HandleFunc("/scheduled/{id}", s.handleGetScheduled()).Methods(http.MethodGet)
	api.HandleFunc("/scheduled/{id}", s.handleUpdateScheduled()).Methods(http.MethodPut)
	api.HandleFunc("/scheduled/{id}", s.handleCancelScheduled()).Methods(http.MethodDelete)

	api.HandleFunc("/dlq/{queue}", s.handleListDLQ()).Methods(http.MethodGet)
	api.HandleFunc("/dlq/{queue}/replay", s.handleReplayDLQ()).Methods(http.MethodPost)

	sysconfig := api.PathPrefix("/config").Subrouter()
	sysconfig.Use(versioning.RequireFeature(versioning.FeatureSystemConfig))
	sysconfig.HandleFunc("/{key}", s.handleGetSystemConfig()).Methods(http.MethodGet)
	sysconfig.HandleFunc("/{key}", s.handlePutSystemConfig()).Methods(http.MethodPut)
}

func (s *Server) Start() error {
	cfg := s.app.Config.Server
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", cfg.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
