package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tracklight/internal/models"
	"tracklight/internal/store"
)

type env struct {
	dir       string
	config    string
	storePath string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dir := t.TempDir()
	e := &env{
		dir:       dir,
		config:    filepath.Join(dir, "config.yaml"),
		storePath: filepath.Join(dir, "articles_data.json"),
	}

	cfg := fmt.Sprintf(`store:
  path: %s
  prefs_path: %s
  activity_path: %s
logging:
  level: error
`, e.storePath, filepath.Join(dir, "preferences.yaml"), filepath.Join(dir, "activity.db"))

	if err := os.WriteFile(e.config, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	return e
}

func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCommand()
	cmd.SetArgs(append([]string{"--config", e.config, "--store", e.storePath}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))

	err := cmd.Execute()

	return out.String(), err
}

func (e *env) seed(t *testing.T, recs ...models.ArticleRecord) {
	t.Helper()

	st, err := store.Open(e.storePath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	for _, r := range recs {
		if _, _, err := st.Upsert(r); err != nil {
			t.Fatal(err)
		}
	}
}

func record(id, title string) models.ArticleRecord {
	return models.ArticleRecord{
		Identity:  id,
		Source:    "https://example.com/" + id,
		CreatedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Analysis: &models.Analysis{
			Title:      title,
			Indicators: []models.FraudIndicator{{Severity: models.SeverityHigh, Description: "bribes"}},
			People:     []models.Person{},
			Strategies: []models.PreventionStrategy{},
			Questions:  []string{},
			Summary:    models.Summary{Short: "Summary of " + title, Bullets: []string{}},
		},
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := newEnv(t).run(t, "", "version")
	if err != nil || !strings.Contains(out, "tracklight dev") {
		t.Errorf("version = %q, %v", out, err)
	}
}

func TestRecordCommands(t *testing.T) {
	e := newEnv(t)
	e.seed(t, record("aaa", "Bid rigging ring"), record("bbb", "Expense padding"))

	out, err := e.run(t, "", "list", "--status", "all", "--sort", "title", "--asc")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	if !strings.Contains(out, "2 of 2 records") || strings.Index(out, "Bid rigging") > strings.Index(out, "Expense padding") {
		t.Errorf("list output:\n%s", out)
	}

	if _, err := e.run(t, "", "note", "aaa", "ask the auditor"); err != nil {
		t.Fatalf("note failed: %v", err)
	}

	if _, err := e.run(t, "", "status", "aaa", "--status", "Archived", "--priority", "Low"); err != nil {
		t.Fatalf("status failed: %v", err)
	}

	out, err = e.run(t, "", "show", "aaa")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}

	for _, want := range []string{"Bid rigging ring", "status:   Archived", "priority: Low", "ask the auditor", "bribes"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	out, _ = e.run(t, "", "list")
	if strings.Contains(out, "Bid rigging") {
		t.Errorf("archived record listed by default:\n%s", out)
	}

	out, err = e.run(t, "", "delete", "aaa", "ghost")
	if err != nil || !strings.Contains(out, "Deleted 1 of 2") {
		t.Errorf("delete = %q, %v", out, err)
	}
}

func TestCommandErrors(t *testing.T) {
	e := newEnv(t)

	if _, err := e.run(t, "", "show", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("show missing error = %v", err)
	}

	if _, err := e.run(t, "", "status", "missing", "--status", "Bogus"); !errors.Is(err, store.ErrInvalidStatus) {
		t.Errorf("invalid status error = %v", err)
	}

	if _, err := e.run(t, "", "status", "missing"); err == nil {
		t.Error("status without flags should fail")
	}

	if _, err := e.run(t, "", "reanalyze"); err == nil {
		t.Error("reanalyze without ids should fail")
	}
}

func TestCorruptStoreReset(t *testing.T) {
	e := newEnv(t)

	if err := os.WriteFile(e.storePath, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := e.run(t, "", "list"); !errors.Is(err, store.ErrCorruptStore) {
		t.Fatalf("list on corrupt store error = %v", err)
	}

	out, err := e.run(t, "", "--reset-corrupt", "list")
	if err != nil || !strings.Contains(out, "No records.") {
		t.Fatalf("list after reset = %q, %v", out, err)
	}

	backups, _ := filepath.Glob(e.storePath + ".corrupt*")
	if len(backups) != 1 {
		t.Errorf("backups = %v", backups)
	}
}

func TestExportAndBrief(t *testing.T) {
	e := newEnv(t)
	e.seed(t, record("aaa", "Bid rigging ring"))

	xlsx := filepath.Join(e.dir, "out.xlsx")
	if out, err := e.run(t, "", "export", "-o", xlsx); err != nil || !strings.Contains(out, "Exported 1 records") {
		t.Fatalf("export = %q, %v", out, err)
	}

	docx := filepath.Join(e.dir, "brief.docx")
	if _, err := e.run(t, "", "brief", "aaa", "-o", docx); err != nil {
		t.Fatalf("brief failed: %v", err)
	}

	for _, p := range []string{xlsx, docx} {
		if info, err := os.Stat(p); err != nil || info.Size() == 0 {
			t.Errorf("%s not written: %v", p, err)
		}
	}
}

func TestBlockCommand(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "", "block", "www.Example.com")
	if err != nil || !strings.Contains(out, "Blocked www.Example.com") || !strings.Contains(out, "\nexample.com\n") {
		t.Errorf("block = %q, %v", out, err)
	}

	out, _ = e.run(t, "", "block", "example.com")
	if !strings.Contains(out, "Unchanged") {
		t.Errorf("second block = %q", out)
	}

	out, _ = e.run(t, "", "block", "--unblock", "example.com")
	if !strings.Contains(out, "Unblocked example.com") {
		t.Errorf("unblock = %q", out)
	}
}

func TestLogsCommand(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "", "logs")
	if err != nil || !strings.Contains(out, "No activity recorded.") {
		t.Errorf("logs = %q, %v", out, err)
	}

	out, err = e.run(t, "", "logs", "--clear")
	if err != nil || !strings.Contains(out, "Cleared 0 entries") {
		t.Errorf("logs --clear = %q, %v", out, err)
	}
}

func TestHashPassword(t *testing.T) {
	out, err := newEnv(t).run(t, "hunter2\n", "hash-password")
	if err != nil {
		t.Fatal(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("hunter2")); err != nil {
		t.Errorf("hash does not match: %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(e.dir, "new", "config.yaml")

	if _, err := e.run(t, "", "config", "init", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}

	if _, err := e.run(t, "", "config", "init", path); err == nil {
		t.Error("config init overwrote an existing file")
	}

	out, err := e.run(t, "", "config", "show")
	if err != nil || !strings.Contains(out, e.storePath) {
		t.Errorf("config show = %q, %v", out, err)
	}
}

func TestIngestURLFlags(t *testing.T) {
	cmd := newIngestURLCommand(&globalOptions{})

	for _, name := range []string{"prompt", "note", "force", "keep-analysis"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("ingest url has no --%s flag", name)
		}
	}
}
