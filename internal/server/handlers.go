package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tracklight/internal/activity"
	"tracklight/internal/export"
	"tracklight/internal/grouping"
	"tracklight/internal/ingest"
	"tracklight/internal/mailbox"
	"tracklight/internal/models"
	"tracklight/internal/prefs"
	"tracklight/internal/store"
)

const logsLimit = 500

var errNotConfigured = errors.New("not configured")

type page struct {
	Title    string
	Flash    string
	Error    string
	FontSize int
	Data     any
}

type listData struct {
	Records       []models.ArticleRecord
	Total         int
	Query         ListQuery
	QueryString   string
	SortKeys      []string
	MailEnabled   bool
	SheetEnabled  bool
	GroupEnabled  bool
	LastMailCheck string
}

type articleData struct {
	Record         models.ArticleRecord
	Prev           string
	Next           string
	QueryString    string
	Person         string
	PersonOverview string
	Domain         string
	Blocked        bool
	MailEnabled    bool
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name, title string, data any) {
	q := r.URL.Query()

	p := page{
		Title:    title,
		Flash:    q.Get("msg"),
		Error:    q.Get("err"),
		FontSize: s.Prefs.Get().FontSize,
		Data:     data,
	}

	var buf bytes.Buffer
	if err := s.pages[name].Execute(&buf, p); err != nil {
		s.Log.Error("render failed", "page", name, "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// redirect sends the browser to path with a flash message or an error.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, path, msg string, err error) {
	v := url.Values{}

	if i := strings.IndexByte(path, '?'); i >= 0 {
		v, _ = url.ParseQuery(path[i+1:])
		path = path[:i]
	}

	if err != nil {
		v.Set("err", err.Error())
	} else if msg != "" {
		v.Set("msg", msg)
	}

	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	http.Redirect(w, r, path, http.StatusSeeOther)
}

func (s *Server) journal(ctx context.Context, level activity.Level, action, subject, message string) {
	if s.Journal == nil {
		return
	}

	if err := s.Journal.Record(context.WithoutCancel(ctx), level, action, subject, message); err != nil {
		s.Log.Warn("journal write failed", "action", action, "error", err)
	}
}

func articlePath(id string) string {
	return "/articles/" + url.PathEscape(id)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "records": s.Store.Len()})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.AutoCheckMail && s.Poller != nil && s.Poller.ShouldPoll() {
		if msg, err := s.checkMail(r.Context()); err != nil {
			s.Log.Warn("automatic mail check failed", "error", err)
		} else {
			s.Log.Info("automatic mail check", "result", msg)
		}
	}

	q := ParseListQuery(r.URL.Query())

	data := listData{
		Records:      q.Apply(s.Store.ListAll()),
		Total:        s.Store.Len(),
		Query:        q,
		QueryString:  q.Values().Encode(),
		SortKeys:     SortKeys,
		MailEnabled:  s.Poller != nil,
		SheetEnabled: s.Sheets != nil,
		GroupEnabled: s.Grouping != nil,
	}

	if s.Poller != nil {
		data.LastMailCheck = formatDate(s.Poller.LastPoll())
	}

	s.render(w, r, "list", "Articles", data)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.Store.Get(id)
	if err != nil {
		s.notFound(w, r, err)

		return
	}

	q := ParseListQuery(r.URL.Query())
	prev, next := Neighbours(q.Apply(s.Store.ListAll()), id)

	data := articleData{
		Record:      rec,
		Prev:        prev,
		Next:        next,
		QueryString: q.Values().Encode(),
		Domain:      rec.Domain(),
		MailEnabled: s.Sender != nil,
	}

	for _, d := range s.Prefs.BlockedDomains() {
		if d == data.Domain {
			data.Blocked = true
		}
	}

	if person := strings.TrimSpace(r.URL.Query().Get("person")); person != "" && rec.Analysis != nil && s.People != nil {
		data.Person = person

		overview, err := s.People.PersonOverview(r.Context(), person, rec.Analysis.Summary)
		if err != nil {
			s.Log.Warn("person overview failed", "person", person, "error", err)
			data.PersonOverview = "Overview unavailable: " + err.Error()
		} else {
			data.PersonOverview = overview
		}
	}

	s.render(w, r, "article", rec.Title(), &data)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)

		return
	}

	s.Log.Error("request failed", "path", r.URL.Path, "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.FormValue("url"))
	text := strings.TrimSpace(r.FormValue("text"))
	prompt := strings.TrimSpace(r.FormValue("prompt"))

	var (
		rec     models.ArticleRecord
		created = true
		err     error
	)

	switch {
	case rawURL != "":
		rec, created, err = s.Pipeline.IngestURL(r.Context(), rawURL, models.SourceURL, prompt)
	case text != "":
		rec, err = s.Pipeline.IngestText(r.Context(), text, prompt)
	default:
		err = errors.New("enter a URL or paste the article text")
	}

	if err != nil {
		s.redirect(w, r, "/", "", err)

		return
	}

	msg := "Analysis complete, article added"
	if !created {
		msg = "Analysis complete, article updated"
	}

	s.redirect(w, r, articlePath(rec.Identity), msg, nil)
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.Store.UpdateNote(id, r.FormValue("note")); err != nil {
		s.redirect(w, r, articlePath(id), "", err)

		return
	}

	s.redirect(w, r, articlePath(id), "Note saved", nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status := models.Status(r.FormValue("status"))
	priority := models.Priority(r.FormValue("priority"))

	if _, err := s.Store.UpdateStatus(id, status, priority); err != nil {
		s.redirect(w, r, articlePath(id), "", err)

		return
	}

	s.redirect(w, r, articlePath(id), "Status updated", nil)
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	prompt := strings.TrimSpace(r.FormValue("prompt"))

	if text := strings.TrimSpace(r.FormValue("text")); text != "" {
		if _, err := s.Pipeline.ReanalyzeText(r.Context(), id, text, prompt); err != nil {
			s.redirect(w, r, articlePath(id), "", err)

			return
		}

		s.redirect(w, r, articlePath(id), "Reanalyzed from pasted text", nil)

		return
	}

	report, err := s.Pipeline.Reanalyze(r.Context(), []string{id}, prompt)
	if err == nil && len(report.Failed()) > 0 {
		err = report.Failed()[0].Err
	}

	if err != nil {
		s.redirect(w, r, articlePath(id), "", err)

		return
	}

	s.redirect(w, r, articlePath(id), "Reanalysis complete", nil)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := s.Store.Delete(id)
	if err != nil {
		s.redirect(w, r, articlePath(id), "", err)

		return
	}

	if n > 0 {
		s.journal(r.Context(), activity.LevelInfo, "delete", id, "deleted 1 record")
	}

	s.redirect(w, r, "/", "Article deleted", nil)
}

func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	to := strings.TrimSpace(r.FormValue("to"))

	rec, err := s.Store.Get(id)
	if err != nil {
		s.notFound(w, r, err)

		return
	}

	if s.Sender == nil {
		s.redirect(w, r, articlePath(id), "", fmt.Errorf("email %w", errNotConfigured))

		return
	}

	if err := s.Sender.Send(r.Context(), to, rec); err != nil {
		s.journal(r.Context(), activity.LevelError, "email", rec.Title(), err.Error())
		s.redirect(w, r, articlePath(id), "", err)

		return
	}

	s.journal(r.Context(), activity.LevelInfo, "email", rec.Title(), "sent to "+to)
	s.redirect(w, r, articlePath(id), "Summary sent to "+to, nil)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.Store.Get(id)
	if err != nil {
		s.notFound(w, r, err)

		return
	}

	domain := rec.Domain()
	if domain == "" {
		s.redirect(w, r, articlePath(id), "", errors.New("pasted text has no domain to block"))

		return
	}

	added, err := s.Prefs.BlockDomain(domain)
	if err != nil {
		s.redirect(w, r, articlePath(id), "", err)

		return
	}

	msg := "Domain already blocked: " + domain
	if added {
		msg = "Blocked domain " + domain
		s.journal(r.Context(), activity.LevelInfo, "block", domain, "domain blocked for mail ingestion")
	}

	s.redirect(w, r, articlePath(id), msg, nil)
}

func (s *Server) handleBrief(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.notFound(w, r, err)

		return
	}

	dir, err := os.MkdirTemp("", "tracklight-brief-")
	if err != nil {
		s.notFound(w, r, err)

		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, export.BriefName(rec))
	if err := export.WriteBrief(path, rec); err != nil {
		s.notFound(w, r, err)

		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.notFound(w, r, err)

		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.BriefName(rec)))
	http.ServeContent(w, r, export.BriefName(rec), s.now(), f)
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.redirect(w, r, "/", "", err)

		return
	}

	back := "/?" + r.PostForm.Get("query")
	ids := r.PostForm["ids"]

	if len(ids) == 0 {
		s.redirect(w, r, back, "", errors.New("no articles selected"))

		return
	}

	switch r.PostForm.Get("action") {
	case "delete":
		n, err := s.Store.Delete(ids...)
		if err != nil {
			s.redirect(w, r, back, "", err)

			return
		}

		s.journal(r.Context(), activity.LevelInfo, "delete", strings.Join(ids, ","), fmt.Sprintf("deleted %d records", n))
		s.redirect(w, r, back, fmt.Sprintf("Deleted %d articles", n), nil)
	case "reanalyze":
		report, err := s.Pipeline.Reanalyze(r.Context(), ids, strings.TrimSpace(r.PostForm.Get("prompt")))
		if err != nil {
			s.redirect(w, r, back, "", err)

			return
		}

		s.redirect(w, r, back, "Reanalysis: "+firstLine(report), nil)
	default:
		s.redirect(w, r, back, "", errors.New("unknown bulk action"))
	}
}

func (s *Server) handleGrouping(w http.ResponseWriter, r *http.Request) {
	if s.Grouping == nil {
		s.redirect(w, r, "/groups", "", fmt.Errorf("grouping %w", errNotConfigured))

		return
	}

	res, err := s.Grouping.Run(r.Context())
	if err != nil {
		s.journal(r.Context(), activity.LevelError, "grouping", "", err.Error())
		s.redirect(w, r, "/groups", "", err)

		return
	}

	msg := fmt.Sprintf("%d groups, %d articles labelled", len(res.Groups), res.Applied)
	s.journal(r.Context(), activity.LevelInfo, "grouping", "", msg)
	s.redirect(w, r, "/groups", msg, nil)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "groups", "Groups", struct {
		Groups  []grouping.GroupView
		Enabled bool
	}{grouping.ByLabel(s.Store.ListAll()), s.Grouping != nil})
}

func (s *Server) handleMailCheck(w http.ResponseWriter, r *http.Request) {
	msg, err := s.checkMail(r.Context())
	s.redirect(w, r, "/", msg, err)
}

// checkMail harvests links from the mailbox and ingests those not yet stored.
func (s *Server) checkMail(ctx context.Context) (string, error) {
	if s.Poller == nil {
		return "", mailbox.ErrNotConfigured
	}

	res, err := s.Poller.Poll(ctx, mailbox.NewLinkExtractor(s.Prefs.BlockedDomains()))
	if err != nil {
		s.journal(ctx, activity.LevelError, "mail", "", err.Error())

		return "", err
	}

	if len(res.Links) == 0 {
		msg := fmt.Sprintf("No article links in %d messages", res.Scanned)
		s.journal(ctx, activity.LevelInfo, "mail", res.Mailbox, msg)

		return msg, nil
	}

	report, err := s.Pipeline.IngestURLs(ctx, res.Links, models.SourceMail, false)
	if err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Mail: %d links, %s", len(res.Links), firstLine(report))
	s.journal(ctx, activity.LevelInfo, "mail", res.Mailbox, msg)

	return msg, nil
}

func (s *Server) handleSheetImport(w http.ResponseWriter, r *http.Request) {
	if s.Sheets == nil {
		s.redirect(w, r, "/", "", fmt.Errorf("sheet import %w", errNotConfigured))

		return
	}

	identifier := strings.TrimSpace(r.FormValue("sheet"))
	if identifier == "" {
		identifier = s.SheetIdentifier
	}

	urls, err := s.Sheets.URLs(r.Context(), identifier)
	if err != nil {
		s.journal(r.Context(), activity.LevelError, "sheet", identifier, err.Error())
		s.redirect(w, r, "/", "", err)

		return
	}

	report, err := s.Pipeline.IngestURLs(r.Context(), urls, models.SourceSheet, false)
	if err != nil {
		s.redirect(w, r, "/", "", err)

		return
	}

	msg := fmt.Sprintf("Sheet: %d rows, %s", len(urls), firstLine(report))
	s.journal(r.Context(), activity.LevelInfo, "sheet", identifier, msg)
	s.redirect(w, r, "/", msg, nil)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, s.Store.ListAll()); err != nil {
		s.notFound(w, r, err)

		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.WorkbookName(s.now())))
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		s.render(w, r, "logs", "Activity", []activity.Entry(nil))

		return
	}

	entries, err := s.Journal.Recent(r.Context(), logsLimit)
	if err != nil {
		s.notFound(w, r, err)

		return
	}

	s.render(w, r, "logs", "Activity", entries)
}

func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.Journal.Clear(r.Context())
	if err != nil {
		s.redirect(w, r, "/logs", "", err)

		return
	}

	s.redirect(w, r, "/logs", fmt.Sprintf("Cleared %d entries", n), nil)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "settings", "Settings", struct {
		Prefs   prefs.Preferences
		MinFont int
		MaxFont int
	}{s.Prefs.Get(), prefs.MinFontSize, prefs.MaxFontSize})
}

func (s *Server) handleSettingsSave(w http.ResponseWriter, r *http.Request) {
	if d := strings.TrimSpace(r.FormValue("unblock")); d != "" {
		if _, err := s.Prefs.UnblockDomain(d); err != nil {
			s.redirect(w, r, "/settings", "", err)

			return
		}

		s.redirect(w, r, "/settings", "Unblocked "+d, nil)

		return
	}

	if d := strings.TrimSpace(r.FormValue("block")); d != "" {
		if _, err := s.Prefs.BlockDomain(d); err != nil {
			s.redirect(w, r, "/settings", "", err)

			return
		}
	}

	if fs := r.FormValue("font_size"); fs != "" {
		size, err := strconv.Atoi(fs)
		if err != nil {
			s.redirect(w, r, "/settings", "", prefs.ErrInvalidFontSize)

			return
		}

		if err := s.Prefs.SetFontSize(size); err != nil {
			s.redirect(w, r, "/settings", "", err)

			return
		}
	}

	s.redirect(w, r, "/settings", "Settings saved", nil)
}

func firstLine(r *ingest.Report) string {
	line, _, _ := strings.Cut(r.String(), "\n")

	return line
}
