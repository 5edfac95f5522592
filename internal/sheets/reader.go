// Package sheets reads article URLs from the first column of a Google spreadsheet.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"tracklight/internal/config"
	"tracklight/internal/logger"
	"tracklight/pkg/utils"
)

// Sheet errors.
var (
	ErrNotConfigured = errors.New("sheet identifier and credentials are required")
	ErrNotFound      = errors.New("spreadsheet not found; check the name, ID or URL and that it is shared with the service account")
	ErrSheet         = errors.New("sheet import failed")
)

const (
	sheetsBaseURL = "https://sheets.googleapis.com/v4"
	driveBaseURL  = "https://www.googleapis.com/drive/v3"

	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
	maxErrorBody        = 1024
)

// Scopes requested for the service account.
var Scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets.readonly",
	"https://www.googleapis.com/auth/drive.readonly",
}

var urlIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// APIError is a non-2xx answer from a Google API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google api returned %d: %s", e.StatusCode, e.Body)
}

// Is matches ErrSheet.
func (e *APIError) Is(target error) bool {
	return target == ErrSheet
}

// Reader fetches column A of a spreadsheet.
type Reader struct {
	client    *http.Client
	sheetsURL string
	driveURL  string
	helper    *utils.HTTPHelper
	log       *logger.Logger
}

// NewReader authenticates with the service account key in cfg.CredentialsFile.
func NewReader(ctx context.Context, cfg config.SheetConfig, log *logger.Logger) (*Reader, error) {
	if cfg.CredentialsFile == "" {
		return nil, ErrNotConfigured
	}

	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return NewReaderWithClient(oauth2.NewClient(ctx, creds.TokenSource), sheetsBaseURL, driveBaseURL, log), nil
}

// NewReaderWithClient creates a Reader using an already authorized client and the
// given API roots.
func NewReaderWithClient(client *http.Client, sheetsURL, driveURL string, log *logger.Logger) *Reader {
	if log == nil {
		log = logger.Nop()
	}

	return &Reader{
		client:    client,
		sheetsURL: strings.TrimRight(sheetsURL, "/"),
		driveURL:  strings.TrimRight(driveURL, "/"),
		helper:    utils.NewHTTPHelper(""),
		log:       log.With("component", "sheets"),
	}
}

// URLs returns the trimmed values of column A that are absolute http(s) URLs, in sheet order.
// identifier may be the spreadsheet URL, its ID or its name.
func (r *Reader) URLs(ctx context.Context, identifier string) ([]string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotConfigured
	}

	if m := urlIDPattern.FindStringSubmatch(identifier); m != nil {
		return r.columnA(ctx, m[1])
	}

	urls, err := r.columnA(ctx, identifier)
	if err == nil {
		return urls, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || (apiErr.StatusCode != http.StatusNotFound && apiErr.StatusCode != http.StatusBadRequest) {
		return nil, err
	}

	id, err := r.FindByName(ctx, identifier)
	if err != nil {
		return nil, err
	}

	return r.columnA(ctx, id)
}

// FindByName returns the ID of the first spreadsheet visible to the service account
// with exactly the given name.
func (r *Reader) FindByName(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		strings.ReplaceAll(name, "'", `\'`), spreadsheetMimeType)

	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", "files(id,name)")
	params.Set("pageSize", "10")

	var resp struct {
		Files []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"files"`
	}

	if err := r.getJSON(ctx, r.driveURL+"/files?"+params.Encode(), &resp); err != nil {
		return "", err
	}

	if len(resp.Files) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	r.log.Debug("spreadsheet resolved by name", "name", name, "id", resp.Files[0].ID)

	return resp.Files[0].ID, nil
}

func (r *Reader) columnA(ctx context.Context, id string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/A:A?majorDimension=COLUMNS", r.sheetsURL, url.PathEscape(id))

	var resp struct {
		Values [][]string `json:"values"`
	}

	if err := r.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	var urls []string

	if len(resp.Values) > 0 {
		for _, v := range resp.Values[0] {
			v = strings.TrimSpace(v)
			if r.helper.IsValidURL(v) {
				urls = append(urls, v)
			}
		}
	}

	r.log.Info("sheet read", "id", id, "urls", len(urls))

	return urls, nil
}

func (r *Reader) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSheet, err)
	}

	req.Header = r.helper.BuildHeaders(map[string]string{"Accept": "application/json"})

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSheet, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrSheet, err)
	}

	return nil
}
