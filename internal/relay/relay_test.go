package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"studio/internal/infra"
)

// upstream is a stub engine that records the last request it saw and replies
// with a canned status, content type, and body.
type upstream struct {
	mu     sync.Mutex
	calls  int
	path   string
	header http.Header
	body   []byte

	status      int
	contentType string
	reply       []byte
}

func newUpstream(status int, contentType string, reply []byte) (*upstream, *httptest.Server) {
	u := &upstream{status: status, contentType: contentType, reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.calls++
		u.path = r.URL.Path
		u.header = r.Header.Clone()
		u.body = body
		u.mu.Unlock()
		w.Header().Set("Content-Type", u.contentType)
		w.WriteHeader(u.status)
		_, _ = w.Write(u.reply)
	}))
	return u, srv
}

func (u *upstream) snapshot() (int, string, http.Header, []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls, u.path, u.header, u.body
}

func newRelay(t *testing.T, upstreamURL string, mutate func(*infra.Config)) http.Handler {
	t.Helper()
	cfg := &infra.Config{
		NavyUpstreamURL: upstreamURL,
		IrisUpstreamURL: upstreamURL,
		OnyxUpstreamURL: upstreamURL,
		HTTPTimeout:     5 * time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}
	logger := infra.NewLogger("test")
	srv, err := NewServer(Options{Config: cfg, Logger: &logger})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv.Handler()
}

func postJSON(handler http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestNewServerRequiresUpstreams(t *testing.T) {
	cfg := &infra.Config{NavyUpstreamURL: "http://navy", OnyxUpstreamURL: "http://onyx"}
	if _, err := NewServer(Options{Config: cfg}); err == nil {
		t.Fatal("NewServer() error = nil, want missing-upstream failure")
	}
}

func TestProxyMovesCredentialIntoAuthHeader(t *testing.T) {
	u, srv := newUpstream(http.StatusOK, "application/json", []byte(`{"images":[{"url":"https://cdn/img.png"}]}`))
	defer srv.Close()
	handler := newRelay(t, srv.URL, nil)

	rr := postJSON(handler, "/v1/navy/image", `{"apiKey":"sk-1","model":"flux","prompt":"a fox"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	calls, path, header, body := u.snapshot()
	if calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls)
	}
	if path != "/image" {
		t.Fatalf("upstream path = %q, want /image", path)
	}
	if got := header.Get("Authorization"); got != "Bearer sk-1" {
		t.Fatalf("Authorization = %q, want %q", got, "Bearer sk-1")
	}
	if strings.Contains(string(body), "apiKey") {
		t.Fatalf("credential leaked into upstream body: %s", body)
	}
	var forwarded map[string]string
	if err := json.Unmarshal(body, &forwarded); err != nil {
		t.Fatalf("upstream body is not JSON: %v", err)
	}
	if forwarded["model"] != "flux" || forwarded["prompt"] != "a fox" {
		t.Fatalf("forwarded body = %v, want model and prompt intact", forwarded)
	}
	if rr.Body.String() != `{"images":[{"url":"https://cdn/img.png"}]}` {
		t.Fatalf("relay body = %q, want upstream reply verbatim", rr.Body.String())
	}
}

func TestProxyAuthHeaderPerEngine(t *testing.T) {
	cases := []struct {
		provider string
		header   string
		want     string
	}{
		{"navy", "Authorization", "Bearer sk-x"},
		{"iris", "x-goog-api-key", "sk-x"},
		{"onyx", "X-API-Key", "sk-x"},
	}
	for _, tc := range cases {
		u, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
		handler := newRelay(t, srv.URL, nil)

		rr := postJSON(handler, "/v1/"+tc.provider+"/tts", `{"apiKey":"sk-x","prompt":"hi","voice":"aria"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", tc.provider, rr.Code)
		}
		_, _, header, _ := u.snapshot()
		if got := header.Get(tc.header); got != tc.want {
			t.Fatalf("%s: %s = %q, want %q", tc.provider, tc.header, got, tc.want)
		}
		for _, other := range []string{"Authorization", "x-goog-api-key", "X-API-Key"} {
			if other != tc.header && header.Get(other) != "" {
				t.Fatalf("%s: unexpected %s header %q", tc.provider, other, header.Get(other))
			}
		}
		srv.Close()
	}
}

func TestProxyMapsOperationPaths(t *testing.T) {
	cases := []struct {
		route string
		want  string
	}{
		{"/v1/navy/video", "/video"},
		{"/v1/navy/video/poll", "/video/poll"},
		{"/v1/navy/video/download", "/video/download"},
		{"/v1/navy/models", "/models"},
	}
	for _, tc := range cases {
		u, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
		handler := newRelay(t, srv.URL, nil)
		if rr := postJSON(handler, tc.route, `{"apiKey":"sk-1"}`); rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", tc.route, rr.Code)
		}
		if _, path, _, _ := u.snapshot(); path != tc.want {
			t.Fatalf("%s: upstream path = %q, want %q", tc.route, path, tc.want)
		}
		srv.Close()
	}
}

func TestProxyPreservesUpstreamStatusAndBody(t *testing.T) {
	_, srv := newUpstream(http.StatusUnprocessableEntity, "application/json", []byte(`{"error":"prompt rejected"}`))
	defer srv.Close()
	handler := newRelay(t, srv.URL, nil)

	rr := postJSON(handler, "/v1/iris/image", `{"apiKey":"sk-1","prompt":"x"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", got)
	}
	if rr.Body.String() != `{"error":"prompt rejected"}` {
		t.Fatalf("body = %q, want upstream error verbatim", rr.Body.String())
	}
}

func TestProxyStreamsBinaryDownloads(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}
	_, srv := newUpstream(http.StatusOK, "video/mp4", payload)
	defer srv.Close()
	handler := newRelay(t, srv.URL, nil)

	rr := postJSON(handler, "/v1/iris/video/download", `{"apiKey":"sk-1","uri":"files/abc"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Fatalf("Content-Type = %q, want video/mp4", got)
	}
	if rr.Body.String() != string(payload) {
		t.Fatalf("body = %v, want raw bytes unchanged", rr.Body.Bytes())
	}
}

func TestProxyRejectsMissingCredential(t *testing.T) {
	u, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
	defer srv.Close()
	handler := newRelay(t, srv.URL, nil)

	rr := postJSON(handler, "/v1/navy/image", `{"prompt":"x"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["error"] != "apiKey is required" {
		t.Fatalf("error = %q, want %q", resp["error"], "apiKey is required")
	}
	if calls, _, _, _ := u.snapshot(); calls != 0 {
		t.Fatalf("upstream calls = %d, want 0", calls)
	}
}

func TestProxyRejectsUnknownEngine(t *testing.T) {
	u, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
	defer srv.Close()
	handler := newRelay(t, srv.URL, nil)

	rr := postJSON(handler, "/v1/zeus/image", `{"apiKey":"sk-1"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if calls, _, _, _ := u.snapshot(); calls != 0 {
		t.Fatalf("upstream calls = %d, want 0", calls)
	}
}

func TestProxyRejectsMalformedBody(t *testing.T) {
	_, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
	defer srv.Close()
	handler := newRelay(t, srv.URL, nil)

	if rr := postJSON(handler, "/v1/navy/image", `{nope`); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestProxyReportsUnreachableUpstream(t *testing.T) {
	_, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
	srv.Close() // connection refused from here on
	handler := newRelay(t, srv.URL, nil)

	rr := postJSON(handler, "/v1/onyx/tts", `{"apiKey":"sk-1","prompt":"hi"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
}

func TestProxyForwardsRequestID(t *testing.T) {
	u, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
	defer srv.Close()
	handler := newRelay(t, srv.URL, nil)

	if rr := postJSON(handler, "/v1/navy/models", `{"apiKey":"sk-1","mode":"image"}`); rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if _, _, header, _ := u.snapshot(); header.Get("X-Request-ID") == "" {
		t.Fatal("upstream saw no X-Request-ID header")
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
	defer srv.Close()
	handler := newRelay(t, srv.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", resp["status"])
	}
}

func TestRateLimitCapsRequests(t *testing.T) {
	_, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
	defer srv.Close()
	handler := newRelay(t, srv.URL, func(cfg *infra.Config) {
		cfg.RateLimit = 2
		cfg.RateLimitWindow = time.Minute
	})

	for i := 0; i < 2; i++ {
		if rr := postJSON(handler, "/v1/navy/models", `{"apiKey":"sk-1"}`); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rr.Code)
		}
	}
	if rr := postJSON(handler, "/v1/navy/models", `{"apiKey":"sk-1"}`); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rr.Code)
	}
}

func TestCORSPreflightForAllowedOrigin(t *testing.T) {
	_, srv := newUpstream(http.StatusOK, "application/json", []byte(`{}`))
	defer srv.Close()
	handler := newRelay(t, srv.URL, func(cfg *infra.Config) {
		cfg.CORSOrigins = []string{"http://localhost:5173"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/navy/image", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want the origin echoed", got)
	}
}
