package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"binpastes/cfg"
	"binpastes/svc/cache"
	"binpastes/svc/db"
	"binpastes/svc/lim"
	"binpastes/svc/policy"
	"binpastes/svc/svc"
	"binpastes/svc/util"
)

const ownerAddr = "198.51.100.10:5000"

func newTestServer(t *testing.T, mutate ...func(*cfg.Cfg)) *Server {
	t.Helper()
	c := &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		ContextTimeout: 5 * time.Second,
		CacheTTL:       30 * time.Second,
		ListLimit:      100,
		SearchLimit:    50,
		AllowedOrigins: []string{"https://paste.example"},
		RateLimit:      cfg.RateLimitCfg{RPM: 100000, Burst: 1000, ConservativeLimit: 100000},
	}
	for _, m := range mutate {
		m(c)
	}
	store, err := db.NewSQLiteWithOptions(filepath.Join(t.TempDir(), "api.db"), db.SQLiteOptions{
		MaxOpenConns: 8,
		MaxIdleConns: 2,
		QueryTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	lru, err := cache.NewLRU(64)
	if err != nil {
		t.Fatal(err)
	}
	limiter, err := lim.New(c.RateLimit, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(limiter.Stop)
	fp, err := util.NewFingerprinter([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	pol := policy.New(nil)
	return NewServer(c, Deps{
		Paste:         svc.NewPaste(store, lru, nil, pol, c),
		Policy:        pol,
		Limiter:       limiter,
		Fingerprinter: fp,
		Store:         store,
	})
}

func do(t *testing.T, s *Server, method, path, body, remote string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func createPaste(t *testing.T, s *Server, body string) PasteView {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/paste", body, ownerAddr)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var v PasteView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return v
}

func TestCreatePaste(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/paste", `{"title":"hello","content":"some content"}`, ownerAddr)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "" {
		t.Errorf("create must not set Cache-Control, got %q", cc)
	}
	var v PasteView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^[a-z0-9]{40}$`).MatchString(v.ID) {
		t.Errorf("bad id %q", v.ID)
	}
	if !v.IsPublic || !v.IsErasable || v.IsOneTime || v.IsPermanent || v.SizeInBytes != len("some content") {
		t.Errorf("unexpected view %+v", v)
	}
	if v.DateOfExpiry == nil || v.DateOfExpiry.Sub(v.DateCreated) != 24*time.Hour {
		t.Errorf("default expiry should be one day, got %v", v.DateOfExpiry)
	}

	if rec := do(t, s, http.MethodPost, "/api/v1/paste/", `{"content":"trailing slash"}`, ""); rec.Code != http.StatusCreated {
		t.Errorf("trailing slash create = %d", rec.Code)
	}
}

func TestCreateRejected(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/paste", `{"content":"abc","expiry":"FOREVER"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Error struct {
			Code   string            `json:"code"`
			Fields map[string]string `json:"fields"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != "VALIDATION_FAILED" || resp.Error.Fields["content"] == "" || resp.Error.Fields["expiry"] == "" {
		t.Errorf("unexpected error body %s", rec.Body.String())
	}

	if rec := do(t, s, http.MethodPost, "/api/v1/paste", `{"content":`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed json = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/paste", strings.NewReader("plain text"))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("wrong content type = %d", rr.Code)
	}
}

func TestGetPasteCacheHeaders(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
		want *regexp.Regexp
	}{
		{"public day", `{"content":"public paste"}`, regexp.MustCompile(`^max-age=3600$`)},
		{"public permanent", `{"content":"public paste","expiry":"NEVER"}`, regexp.MustCompile(`^max-age=3600$`)},
		{"public hour", `{"content":"public paste","expiry":"ONE_HOUR"}`, regexp.MustCompile(`^max-age=35\d\d, must-revalidate$`)},
		{"unlisted", `{"content":"unlisted paste","exposure":"UNLISTED"}`, regexp.MustCompile(`^no-store, no-cache$`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := createPaste(t, s, tt.body)
			rec := do(t, s, http.MethodGet, "/api/v1/paste/"+v.ID, "", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if cc := rec.Header().Get("Cache-Control"); !tt.want.MatchString(cc) {
				t.Errorf("Cache-Control = %q", cc)
			}
		})
	}
}

func TestGetOncePaste(t *testing.T) {
	s := newTestServer(t)
	v := createPaste(t, s, `{"content":"self destruct","exposure":"ONCE"}`)
	if !v.IsOneTime || v.IsPublic {
		t.Errorf("unexpected flags %+v", v)
	}
	first := do(t, s, http.MethodGet, "/api/v1/paste/"+v.ID, "", "")
	if first.Code != http.StatusOK || first.Header().Get("Cache-Control") != policy.NoStore {
		t.Fatalf("first view: %d %q", first.Code, first.Header().Get("Cache-Control"))
	}
	second := do(t, s, http.MethodGet, "/api/v1/paste/"+v.ID, "", "")
	if second.Code != http.StatusNotFound {
		t.Fatalf("second view = %d", second.Code)
	}
	if second.Body.Len() != 0 || second.Header().Get("Cache-Control") != "" {
		t.Errorf("not found must be empty without Cache-Control: %q %q", second.Body.String(), second.Header().Get("Cache-Control"))
	}
}

func TestGetUnknownPaste(t *testing.T) {
	s := newTestServer(t)
	for _, id := range []string{"missing", strings.Repeat("z", 40)} {
		rec := do(t, s, http.MethodGet, "/api/v1/paste/"+id, "", "")
		if rec.Code != http.StatusNotFound || rec.Body.Len() != 0 {
			t.Errorf("GET %s = %d %q", id, rec.Code, rec.Body.String())
		}
	}
}

func TestDeletePaste(t *testing.T) {
	s := newTestServer(t)
	v := createPaste(t, s, `{"content":"owned paste"}`)

	view := do(t, s, http.MethodGet, "/api/v1/paste/"+v.ID, "", "203.0.113.99:1")
	var seen PasteView
	json.Unmarshal(view.Body.Bytes(), &seen)
	if seen.IsErasable {
		t.Error("stranger must not see the paste as erasable")
	}

	rec := do(t, s, http.MethodDelete, "/api/v1/paste/"+v.ID, "", "203.0.113.99:1")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Cache-Control") != "" {
		t.Fatalf("foreign delete = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/paste/"+v.ID, "", ""); rec.Code != http.StatusOK {
		t.Fatal("foreign delete removed the paste")
	}
	if rec := do(t, s, http.MethodDelete, "/api/v1/paste/"+v.ID, "", ownerAddr); rec.Code != http.StatusNoContent {
		t.Fatalf("owner delete = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/paste/"+v.ID, "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("deleted paste still served: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/api/v1/paste/"+v.ID, "", ownerAddr); rec.Code != http.StatusNoContent {
		t.Errorf("repeat delete = %d", rec.Code)
	}
}

func TestListPastes(t *testing.T) {
	s := newTestServer(t)
	pub := createPaste(t, s, `{"content":"listed paste"}`)
	createPaste(t, s, `{"content":"hidden paste","exposure":"UNLISTED"}`)
	createPaste(t, s, `{"content":"burning paste","exposure":"ONCE"}`)

	for _, path := range []string{"/api/v1/paste", "/api/v1/paste/"} {
		rec := do(t, s, http.MethodGet, path, "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", path, rec.Code)
		}
		if rec.Header().Get("Cache-Control") != "" {
			t.Errorf("list must not set Cache-Control")
		}
		if strings.Contains(rec.Body.String(), `"content"`) {
			t.Error("summaries must not carry content")
		}
		var resp ListResp
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Pastes) != 1 || resp.Pastes[0].ID != pub.ID {
			t.Errorf("GET %s listed %+v", path, resp.Pastes)
		}
	}
}

func TestSearchPastes(t *testing.T) {
	s := newTestServer(t)
	createPaste(t, s, `{"title":"Deploy","content":"kubectl rollout restart deployment"}`)
	createPaste(t, s, `{"content":"kubectl secrets are private","exposure":"UNLISTED"}`)

	rec := do(t, s, http.MethodGet, "/api/v1/paste/search?term=kubectl", "", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Cache-Control") != "max-age=60" {
		t.Fatalf("search = %d %q", rec.Code, rec.Header().Get("Cache-Control"))
	}
	var resp SearchResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Pastes) != 1 || !strings.Contains(resp.Pastes[0].Highlight, "kubectl") {
		t.Errorf("unexpected hits %+v", resp.Pastes)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/paste/search?term=ku", "", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"pastes":[]}` {
		t.Errorf("short term = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)
	if rec := do(t, s, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/ready", "", "")
	var ready ReadyResponse
	json.Unmarshal(rec.Body.Bytes(), &ready)
	if rec.Code != http.StatusOK || !ready.Ready || ready.Database != "up" || ready.Cache != "unavailable" {
		t.Errorf("ready = %d %+v", rec.Code, ready)
	}
}

func TestMetricsBasicAuth(t *testing.T) {
	s := newTestServer(t, func(c *cfg.Cfg) {
		c.MetricsUser = "prom"
		c.MetricsPass = cfg.NewSecret("scrape-secret")
	})
	if rec := do(t, s, http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous metrics = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "scrape-secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "binpastes_") {
		t.Errorf("authorised metrics = %d", rec.Code)
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/paste", nil)
	req.Header.Set("X-Request-ID", "6f1c1a53-7c5e-4a4e-9d1b-1f2e3d4c5b6a")
	req.Header.Set("Origin", "https://paste.example")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "6f1c1a53-7c5e-4a4e-9d1b-1f2e3d4c5b6a" {
		t.Errorf("request id not echoed: %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://paste.example" {
		t.Error("allowed origin should get CORS headers")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/paste", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "not-a-uuid" {
		t.Error("malformed request id must be replaced")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unknown origin must not get CORS headers")
	}
}

func TestResponseHeadersForJSONAPI(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/paste", "", "")
	h := rec.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if csp := h.Get("Content-Security-Policy"); !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Errorf("csp = %q", csp)
	}
	for _, name := range []string{"X-Frame-Options", "Referrer-Policy"} {
		if h.Get(name) != "" {
			t.Errorf("%s should not be sent", name)
		}
	}
	if h.Get("Vary") != "Origin" {
		t.Errorf("responses without Origin still vary on it, got %q", h.Get("Vary"))
	}
}

func TestCORSPreflightAndWildcard(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/paste", nil)
	req.Header.Set("Origin", "https://paste.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete) {
		t.Error("preflight must allow DELETE")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID") {
		t.Error("request id should be readable cross-origin")
	}

	open := newTestServer(t, func(c *cfg.Cfg) { c.AllowedOrigins = []string{"*"} })
	req = httptest.NewRequest(http.MethodGet, "/api/v1/paste", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("wildcard allow-origin = %q", got)
	}
	if rec.Header().Get("Vary") != "" {
		t.Error("wildcard responses do not depend on Origin")
	}
}

func TestRateLimited(t *testing.T) {
	s := newTestServer(t, func(c *cfg.Cfg) {
		c.RateLimit = cfg.RateLimitCfg{RPM: 1000, Burst: 2, ConservativeLimit: 1}
	})
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = do(t, s, http.MethodGet, "/api/v1/paste", "", "")
	}
	if last.Code != http.StatusTooManyRequests || last.Header().Get("Retry-After") == "" {
		t.Errorf("third request = %d", last.Code)
	}
}
