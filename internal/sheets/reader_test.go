package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"tracklight/internal/config"
)

const sheetID = "1AbCdEfGhIjKlMnOpQrStUvWxYz0123456789"

func newGoogleAPI(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()

	var paths []string

	mux := http.NewServeMux()
	mux.HandleFunc("/sheets/spreadsheets/{id}/values/{range}", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		if r.PathValue("id") != sheetID {
			http.Error(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`, http.StatusNotFound)

			return
		}

		if r.URL.Query().Get("majorDimension") != "COLUMNS" {
			http.Error(w, "bad dimension", http.StatusBadRequest)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"range":  "Sheet1!A1:A5",
			"values": [][]string{{"URL", " https://news.example.com/a ", "", "not a link", "http://news.example.com/b"}},
		})
	})
	mux.HandleFunc("/drive/files", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		var files []map[string]string
		if strings.Contains(r.URL.Query().Get("q"), "name = 'Fraud Links'") {
			files = append(files, map[string]string{"id": sheetID, "name": "Fraud Links"})
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"files": files})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, &paths
}

func TestReader_URLs(t *testing.T) {
	want := []string{"https://news.example.com/a", "http://news.example.com/b"}

	tests := []struct {
		name       string
		identifier string
		driveCalls int
	}{
		{"by id", sheetID, 0},
		{"by url", "https://docs.google.com/spreadsheets/d/" + sheetID + "/edit#gid=0", 0},
		{"by name", "Fraud Links", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, paths := newGoogleAPI(t)
			r := NewReaderWithClient(srv.Client(), srv.URL+"/sheets", srv.URL+"/drive", nil)

			got, err := r.URLs(context.Background(), tt.identifier)
			if err != nil {
				t.Fatalf("URLs failed: %v", err)
			}

			if !reflect.DeepEqual(got, want) {
				t.Errorf("URLs() = %v, want %v", got, want)
			}

			drive := 0
			for _, p := range *paths {
				if p == "/drive/files" {
					drive++
				}
			}

			if drive != tt.driveCalls {
				t.Errorf("drive lookups = %d, want %d", drive, tt.driveCalls)
			}
		})
	}
}

func TestReader_NotFound(t *testing.T) {
	srv, _ := newGoogleAPI(t)
	r := NewReaderWithClient(srv.Client(), srv.URL+"/sheets", srv.URL+"/drive", nil)

	_, err := r.URLs(context.Background(), "Unknown Sheet")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestReader_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewReaderWithClient(srv.Client(), srv.URL, srv.URL, nil)

	_, err := r.URLs(context.Background(), sheetID)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("error = %v, want APIError 403", err)
	}

	if !errors.Is(err, ErrSheet) {
		t.Error("APIError should match ErrSheet")
	}
}

func TestNewReader(t *testing.T) {
	if _, err := NewReader(context.Background(), config.SheetConfig{}, nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}

	bad := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewReader(context.Background(), config.SheetConfig{CredentialsFile: bad}, nil); err == nil {
		t.Error("expected error for malformed credentials")
	}
}
