package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/dashauth"
	"github.com/MrEthical07/dashauth/internal/authtest"
	promexport "github.com/MrEthical07/dashauth/metrics/export/prometheus"
	"github.com/MrEthical07/dashauth/middleware"
)

const (
	demoAdminEmail = "admin@example.com"
	demoUserEmail  = "user@example.com"
	demoPassword   = "secret123"
	adminRole      = "admin"
)

type serveOptions struct {
	addr        string
	demoBackend bool
	demoRedis   bool
	verify      bool
	audit       string
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a guarded dashboard for one operator session",
		Long: `Serve a local dashboard whose pages are guarded by the session.

The session belongs to the process: whoever signs in on /login is the
operator every page is rendered for. --demo-backend starts an in-process
auth backend with two accounts (admin@example.com and user@example.com,
password secret123); --demo-redis keeps credentials in an embedded redis.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, so)
		},
	}
	cmd.Flags().StringVar(&so.addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().BoolVar(&so.demoBackend, "demo-backend", false, "run an in-process demo auth backend")
	cmd.Flags().BoolVar(&so.demoRedis, "demo-redis", false, "store credentials in an embedded redis")
	cmd.Flags().BoolVar(&so.verify, "verify-remote", false, "confirm the session with the backend on every guarded request")
	cmd.Flags().StringVar(&so.audit, "audit", "", "record session audit events: json (stderr lines) or log (through the logger)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, so *serveOptions) error {
	cfg, err := loadConfig(opts.v)
	if err != nil {
		return err
	}
	logger := opts.logger

	if so.demoBackend {
		srv, err := startDemoBackend(logger)
		if err != nil {
			return err
		}
		defer srv.Close()
		cfg.API.BaseURL = srv.URL
		logger.Info("demo backend started", "url", srv.URL, "accounts", []string{demoAdminEmail, demoUserEmail})
	}
	if so.demoRedis {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start embedded redis: %w", err)
		}
		defer mr.Close()
		cfg.Storage.Backend = dashauth.BackendRedis
		cfg.Storage.RedisAddr = mr.Addr()
		logger.Info("embedded redis started", "addr", mr.Addr())
	}

	sink, err := auditSink(so.audit, logger, os.Stderr)
	if err != nil {
		return err
	}
	m, err := buildManager(opts, cfg, func(b *dashauth.Builder) {
		b.WithNotifier(logNotifier{logger: logger})
		if sink != nil {
			b.WithAuditSink(sink)
		}
	})
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if res := m.Initialize(ctx); res.Success {
		logger.Info("restored session", "email", res.User.Email)
	}

	server := &http.Server{
		Addr:              so.addr,
		Handler:           newDashboard(m, logger, so.verify).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("dashboard listening", "addr", so.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}

// auditSink maps the --audit flag to a sink. An empty format disables
// auditing.
func auditSink(format string, logger *slog.Logger, w io.Writer) (dashauth.AuditSink, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "":
		return nil, nil
	case "json":
		return dashauth.NewJSONWriterSink(w), nil
	case "log":
		return dashauth.NewLogSink(logger), nil
	}
	return nil, fmt.Errorf("unknown audit format %q (want json or log)", format)
}

func startDemoBackend(logger *slog.Logger) (*httptest.Server, error) {
	backend := authtest.New(authtest.WithLogger(logger.With("component", "demo-backend")))
	if _, err := backend.AddUser(demoAdminEmail, demoPassword, adminRole); err != nil {
		return nil, err
	}
	if _, err := backend.AddUser(demoUserEmail, demoPassword, "user"); err != nil {
		return nil, err
	}
	return backend.Start(), nil
}

// logNotifier writes user-facing notices to the log.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(_ context.Context, notice dashauth.Notice) {
	n.logger.Info("notice", "level", notice.Level, "message", notice.Message)
}

type dashboard struct {
	m      *dashauth.Manager
	logger *slog.Logger
	verify bool
}

func newDashboard(m *dashauth.Manager, logger *slog.Logger, verify bool) *dashboard {
	return &dashboard{m: m, logger: logger, verify: verify}
}

func (d *dashboard) routes() *mux.Router {
	r := mux.NewRouter()
	observe := middleware.CountDecisions(d.m.Metrics())

	member := middleware.Guard(d.m, middleware.Options{VerifyRemote: d.verify, Observer: observe}, nil)
	admin := middleware.Guard(d.m, middleware.Options{
		RequiredRoles: []string{adminRole},
		VerifyRemote:  d.verify,
		Observer:      observe,
	}, nil)

	r.Handle("/", http.RedirectHandler(middleware.DefaultReturnPath, http.StatusSeeOther)).Methods(http.MethodGet)
	r.HandleFunc("/login", d.loginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", d.loginSubmit).Methods(http.MethodPost)
	r.Handle("/dashboard", member(http.HandlerFunc(d.dashboardPage))).Methods(http.MethodGet)
	r.Handle("/admin", admin(http.HandlerFunc(d.adminPage))).Methods(http.MethodGet)
	r.HandleFunc("/logout", d.logout(false)).Methods(http.MethodPost)
	r.HandleFunc("/logout-all", d.logout(true)).Methods(http.MethodPost)
	r.Handle("/metrics", promexport.NewCollector(d.m).Handler()).Methods(http.MethodGet)
	return r
}

func (d *dashboard) loginPage(w http.ResponseWriter, r *http.Request) {
	if d.m.CheckAuth(r.Context()).Success {
		http.Redirect(w, r, middleware.ReturnTo(r), http.StatusSeeOther)
		return
	}
	render(w, http.StatusOK, "login", pageData{Title: "Sign in", From: r.URL.Query().Get("from")})
}

func (d *dashboard) loginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	email := r.PostFormValue("email")
	res := d.m.Login(r.Context(), email, r.PostFormValue("password"))
	if !res.Success {
		d.m.ClearError()
		render(w, http.StatusUnauthorized, "login", pageData{
			Title: "Sign in",
			Error: res.Error,
			From:  r.PostFormValue("from"),
			Email: email,
		})
		return
	}
	http.Redirect(w, r, middleware.ReturnTo(r), http.StatusSeeOther)
}

func (d *dashboard) dashboardPage(w http.ResponseWriter, r *http.Request) {
	s, _ := middleware.SessionFromContext(r.Context())
	data := pageData{
		Title: "Dashboard",
		User:  s.User,
		Admin: s.User.Role.HasAny(adminRole),
	}
	if bound := d.m.StalenessBound(r.Context()); bound > 0 {
		data.Staleness = bound.Round(time.Second).String()
	}
	render(w, http.StatusOK, "dashboard", data)
}

func (d *dashboard) adminPage(w http.ResponseWriter, r *http.Request) {
	s, _ := middleware.SessionFromContext(r.Context())
	render(w, http.StatusOK, "admin", pageData{Title: "Administration", User: s.User})
}

func (d *dashboard) logout(all bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if all {
			d.m.LogoutAll(r.Context())
		} else {
			d.m.Logout(r.Context())
		}
		http.Redirect(w, r, middleware.DefaultLoginPath, http.StatusSeeOther)
	}
}
