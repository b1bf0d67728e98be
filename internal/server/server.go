// Package server exposes the controller's HTTP API: the companion app's
// schedule and history management, the QR registration flow, and the device's
// own intake reporting endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"medichine/internal/dispense/clock"
	"medichine/internal/dispense/engine"
	"medichine/internal/dispense/ledger"
	"medichine/internal/fireq"
	"medichine/internal/push"
	"medichine/internal/store"
	logx "medichine/pkg/logx"
)

// Options holds the listener settings, already parsed from config.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Deps collects everything the handlers operate on.
type Deps struct {
	Store    *store.Store
	Backend  *fireq.Client
	Notifier *push.Client
	Engine   *engine.Engine
	Clock    *clock.Clock
	Ledger   *ledger.Ledger

	// TimezoneChanged runs after a successful timezone update so dependent
	// services (maintenance cron) can reschedule.
	TimezoneChanged func(zone string)
}

type Server struct {
	opts Options
	deps Deps
	log  logx.Logger
	http *http.Server
}

func New(opts Options, deps Deps, log logx.Logger) *Server {
	s := &Server{opts: opts, deps: deps, log: log}
	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.routes(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	// Public surface: liveness and the registration flow itself.
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/register_firebase", s.handleRegisterFirebase)

	// Device-to-controller reporting, authenticated by device binding rather
	// than owner email.
	r.Post("/push_history", s.handlePushHistory)

	// Everything else requires the owner's email once a device is bound.
	r.Group(func(r chi.Router) {
		r.Use(s.requireOwner)

		r.Get("/system_status", s.handleSystemStatus)
		r.Get("/firebase_config", s.handleFirebaseConfig)
		r.Get("/test_firebase_status", s.handleTestFirebaseStatus)
		r.Post("/reset_system", s.handleResetSystem)
		r.Post("/update_timezone", s.handleUpdateTimezone)
		r.Post("/update_dispensing_message", s.handleUpdateDispensingMessage)
		r.Post("/test_command", s.handleTestCommand)

		r.Post("/save_schedule", s.handleSaveSchedule)
		r.Get("/get_schedules/{container_id}", s.handleGetContainerSchedules)
		r.Get("/get_all_schedules", s.handleGetAllSchedules)
		r.Get("/schedule/{id}", s.handleGetSchedule)
		r.Put("/update_schedule/{id}", s.handleUpdateSchedule)
		r.Delete("/delete_schedule/{id}", s.handleDeleteSchedule)
		r.Delete("/delete_all_schedules/{container_id}", s.handleDeleteContainerSchedules)

		r.Post("/disconnect_device", s.handleDisconnectDevice)
		r.Get("/user_devices", s.handleUserDevices)
		r.Get("/device_info/{device_id}", s.handleDeviceInfo)
		r.Get("/connection_history/{device_id}", s.handleConnectionHistory)

		r.Get("/history", s.handleListHistory)
		r.Delete("/delete_history/{id}", s.handleDeleteHistory)
		r.Delete("/delete_all_history", s.handleDeleteAllHistory)
	})

	return r
}

// Handler returns the configured router. Used in tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Serve blocks until the listener fails or Shutdown runs.
func (s *Server) Serve() error {
	s.log.Info("http server listening", logx.String("addr", s.opts.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(sctx)
}
