// Package server serves the dashboard: the record list, detail pages, ingestion
// forms, grouping, exports, mail actions and the activity log.
package server

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"tracklight/internal/activity"
	"tracklight/internal/config"
	"tracklight/internal/grouping"
	"tracklight/internal/ingest"
	"tracklight/internal/logger"
	"tracklight/internal/mailbox"
	"tracklight/internal/models"
	"tracklight/internal/prefs"
	"tracklight/internal/store"
)

//go:embed templates
var templateFS embed.FS

const shutdownTimeout = 10 * time.Second

// MailPoller harvests article links from the mailbox.
type MailPoller interface {
	ShouldPoll() bool
	LastPoll() time.Time
	Poll(ctx context.Context, extractor *mailbox.LinkExtractor) (*mailbox.Result, error)
}

// MailSender emails a record summary.
type MailSender interface {
	Send(ctx context.Context, to string, rec models.ArticleRecord) error
}

// SheetSource lists the URLs of a spreadsheet.
type SheetSource interface {
	URLs(ctx context.Context, identifier string) ([]string, error)
}

// PersonDescriber summarizes the role of a person named in an article.
type PersonDescriber interface {
	PersonOverview(ctx context.Context, person string, summary models.Summary) (string, error)
}

// Deps are the collaborators behind the dashboard. Store, Pipeline and Prefs are
// required; actions whose collaborator is nil report that they are not configured.
type Deps struct {
	Store           *store.Store
	Pipeline        *ingest.Pipeline
	Grouping        *grouping.Pass
	Prefs           *prefs.Store
	Journal         *activity.Journal
	Poller          MailPoller
	Sender          MailSender
	Sheets          SheetSource
	People          PersonDescriber
	SheetIdentifier string
	// AutoCheckMail polls the mailbox when the list is rendered and the poll
	// interval has passed.
	AutoCheckMail bool
	Config        config.ServerConfig
	Log           *logger.Logger
}

// Server is the dashboard HTTP handler.
type Server struct {
	Deps

	pages  map[string]*template.Template
	router chi.Router
	now    func() time.Time
}

// New parses the templates and builds the router.
func New(d Deps) (*Server, error) {
	if d.Store == nil || d.Pipeline == nil || d.Prefs == nil {
		return nil, errors.New("server: store, pipeline and prefs are required")
	}

	if d.Log == nil {
		d.Log = logger.Nop()
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &Server{Deps: d, pages: pages, now: time.Now}
	s.router = s.routes()

	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured address until ctx is canceled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.Log.Info("dashboard listening", "addr", s.Config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.basicAuth)

		r.Get("/", s.handleList)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/bulk", s.handleBulk)

		r.Route("/articles/{id}", func(r chi.Router) {
			r.Get("/", s.handleDetail)
			r.Get("/brief.docx", s.handleBrief)
			r.Post("/note", s.handleNote)
			r.Post("/status", s.handleStatus)
			r.Post("/reanalyze", s.handleReanalyze)
			r.Post("/delete", s.handleDelete)
			r.Post("/email", s.handleEmail)
			r.Post("/block", s.handleBlock)
		})

		r.Post("/grouping", s.handleGrouping)
		r.Get("/groups", s.handleGroups)
		r.Post("/mail/check", s.handleMailCheck)
		r.Post("/sheet/import", s.handleSheetImport)
		r.Get("/export.xlsx", s.handleExport)
		r.Get("/logs", s.handleLogs)
		r.Post("/logs/clear", s.handleLogsClear)
		r.Get("/settings", s.handleSettings)
		r.Post("/settings", s.handleSettingsSave)
	})

	return r
}

// basicAuth enforces the configured username and bcrypt password hash. Without a
// configured username the dashboard is open.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	if s.Config.Username == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok && subtle.ConstantTimeCompare([]byte(user), []byte(s.Config.Username)) == 1 &&
			bcrypt.CompareHashAndPassword([]byte(s.Config.PasswordHash), []byte(pass)) == nil {
			next.ServeHTTP(w, r)

			return
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="tracklight", charset="UTF-8"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.Log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func parsePages() (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"date":       formatDate,
		"severity":   severityClass,
		"statuses":   func() []models.Status { return models.AllStatuses },
		"href":       articleHref,
		"personHref": personHref,
	}

	pages := make(map[string]*template.Template)

	for _, name := range []string{"list", "article", "groups", "logs", "settings"} {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}

		pages[name] = t
	}

	return pages, nil
}

// articleHref links a detail page, carrying the list query for prev/next navigation.
func articleHref(id, query string) template.URL {
	href := articlePath(id)
	if query != "" {
		href += "?" + query
	}

	return template.URL(href)
}

func personHref(id, person string) template.URL {
	return template.URL(articlePath(id) + "?" + url.Values{"person": {person}}.Encode())
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Local().Format("2006-01-02 15:04")
}

func severityClass(s models.Severity) string {
	if s == "" {
		return "none"
	}

	return strings.ToLower(string(s))
}
