package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/config"
	"github.com/lims/lims/internal/domain/report"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/middleware"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("production", &buf)
	logger.Info().Str("k", "v").Msg("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
	if line["k"] != "v" || line["message"] != "hello" {
		t.Errorf("unexpected log line %v", line)
	}

	buf.Reset()
	newLogger("development", &buf).Info().Msg("hello")
	if json.Valid(buf.Bytes()) {
		t.Errorf("expected console output in development, got %q", buf.String())
	}
}

func TestMigrationsFS(t *testing.T) {
	embedded := migrationsFS(&config.Config{})
	if _, err := fs.Stat(embedded, "001_reports.sql"); err != nil {
		t.Errorf("expected embedded migrations: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_custom.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	onDisk := migrationsFS(&config.Config{MigrationsDir: dir})
	if _, err := fs.Stat(onDisk, "001_custom.sql"); err != nil {
		t.Errorf("expected MIGRATIONS_DIR to be used: %v", err)
	}
}

func TestLabFlag(t *testing.T) {
	cfg := &config.Config{DefaultLab: "central"}

	cmd := migrateCmd().Commands()[0]
	lab, err := labFlag(cmd, cfg)
	if err != nil || lab != "central" {
		t.Errorf("expected default lab, got %q (%v)", lab, err)
	}

	cmd.Flags().Set("lab", "north_1")
	if lab, _ := labFlag(cmd, cfg); lab != "north_1" {
		t.Errorf("expected flag value, got %q", lab)
	}

	cmd.Flags().Set("lab", "north-1")
	if _, err := labFlag(cmd, cfg); err == nil {
		t.Error("expected invalid lab to be rejected")
	}
}

const evalDoc = `{
  "fields": [
    {"fieldName": "hb", "fieldType": "number", "isRequired": true, "referenceLow": 12, "referenceHigh": 17.5},
    {"fieldName": "wbc", "fieldType": "number", "isRequired": true},
    {"fieldName": "comment", "fieldType": "text"}
  ],
  "values": {"hb": 11.2, "comment": "  "}
}`

func TestStatusEval_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(path, []byte(evalDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "status", "eval", path)
	if err != nil {
		t.Fatalf("status eval: %v", err)
	}
	var ev report.Evaluation
	if err := json.Unmarshal([]byte(out), &ev); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if ev.Status != report.StatusInProgress {
		t.Errorf("expected in-progress, got %s", ev.Status)
	}
	if ev.Summary.FilledCount != 1 || ev.Summary.TotalRequired != 2 {
		t.Errorf("unexpected summary %+v", ev.Summary)
	}
	if len(ev.Flags) != 1 || ev.Flags[0].Flag != report.FlagLow {
		t.Errorf("expected hb flagged low, got %v", ev.Flags)
	}
}

func TestStatusEval_Stdin(t *testing.T) {
	out, err := execute(t, `{"fields":[{"fieldName":"a","isRequired":true}],"values":{"a":"x"}}`, "status", "eval", "-")
	if err != nil {
		t.Fatalf("status eval: %v", err)
	}
	if !strings.Contains(out, `"status": "completed"`) {
		t.Errorf("expected completed, got %s", out)
	}

	if _, err := execute(t, `{"values":`, "status", "eval"); err == nil {
		t.Error("expected decode error")
	}
}

func TestCatalogValidate(t *testing.T) {
	out, err := execute(t, "", "catalog", "validate")
	if err != nil {
		t.Fatalf("validate demo: %v", err)
	}
	if !strings.Contains(out, "Catalog OK: 4 report type(s)") {
		t.Errorf("unexpected output %q", out)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := "reportTypes:\n  - code: X\n    name: X\n    fields:\n      - name: a\n        type: slider\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "", "catalog", "validate", "--file", path); err == nil || !strings.Contains(err.Error(), "slider") {
		t.Errorf("expected unknown type error, got %v", err)
	}
}

func TestLabCreate_RequiresValidName(t *testing.T) {
	if _, err := execute(t, "", "lab", "create"); err == nil {
		t.Error("expected --name to be required")
	}
	if _, err := execute(t, "", "lab", "create", "--name", "a b"); err == nil {
		t.Error("expected invalid name to be rejected")
	}
}

func TestAuthMiddleware_Development(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	var roles []string
	h := authMiddleware(&config.Config{Env: "development", DefaultLab: "default"})(func(c echo.Context) error {
		roles = auth.RolesFromContext(c.Request().Context())
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !auth.HasRole(roles, auth.RoleAdmin) {
		t.Errorf("expected development user to be admin, got %v", roles)
	}
	if c.Get("jwt_lab_id") != "default" {
		t.Errorf("expected default lab, got %v", c.Get("jwt_lab_id"))
	}
}

func TestAuthMiddleware_JWT(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	h := authMiddleware(&config.Config{Env: "production", AuthJWTSecret: strings.Repeat("s", 32)})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	httpErr, ok := h(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %v", httpErr)
	}
}

func TestNewServer_Wiring(t *testing.T) {
	cfg := &config.Config{
		Env:            "production",
		AuthMode:       config.AuthModeJWT,
		AuthJWTSecret:  strings.Repeat("k", 32),
		CORSOrigins:    []string{"http://localhost:3000"},
		DefaultLab:     "default",
		RateLimitRPS:   50,
		RateLimitBurst: 100,
		BodyLimit:      "1M",
	}
	e := newServer(cfg, zerolog.Nop(), nil)

	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{"api needs a token", http.MethodGet, "/api/v1/report-types", http.StatusUnauthorized},
		{"status index needs a token", http.MethodGet, "/api/v1/report-status?assignment_id=" + uuid.NewString(), http.StatusUnauthorized},
		{"version is public", http.MethodGet, "/version", http.StatusOK},
		{"plain GET on websocket", http.MethodGet, "/ws", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if rec.Header().Get(middleware.RequestIDHeader) == "" {
				t.Error("expected request id header")
			}
			if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Error("expected security headers")
			}
		})
	}
}

func TestNewServer_CORSPreflight(t *testing.T) {
	cfg := &config.Config{Env: "development", CORSOrigins: []string{"http://localhost:3000"}, BodyLimit: "1M"}
	e := newServer(cfg, zerolog.Nop(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/report-types", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("expected CORS origin echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

type codeLookup struct {
	report.ReportTypeRepository
	id uuid.UUID
}

func (l codeLookup) GetByCode(_ context.Context, code string) (*report.ReportType, error) {
	if code == "CBC" {
		return &report.ReportType{ID: l.id, Code: code}, nil
	}
	return nil, report.ErrNotFound
}

func TestResolveReportType(t *testing.T) {
	ctx := context.Background()
	lookup := codeLookup{id: uuid.New()}

	direct := uuid.New()
	if got, err := resolveReportType(ctx, lookup, direct.String()); err != nil || got != direct {
		t.Errorf("expected id passthrough, got %s (%v)", got, err)
	}
	if got, err := resolveReportType(ctx, lookup, "CBC"); err != nil || got != lookup.id {
		t.Errorf("expected lookup by code, got %s (%v)", got, err)
	}
	if _, err := resolveReportType(ctx, lookup, "NOPE"); err == nil {
		t.Error("expected error for unknown code")
	}
}
