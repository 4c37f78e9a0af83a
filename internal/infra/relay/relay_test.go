package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestRelay_ForwardsVerbatim(t *testing.T) {
	var (
		gotMethod, gotPath, gotQuery, gotAuth, gotBody string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.Header().Set("X-Upstream", "yes")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"slow down"}`))
	}))
	defer upstream.Close()

	h, err := New("/proxy/replicate", upstream.URL, newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/proxy/replicate/v1/models/acme/x/predictions?wait=1", strings.NewReader(`{"input":{}}`))
	req.Header.Set("Authorization", "Bearer r8_secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if gotMethod != http.MethodPost || gotPath != "/v1/models/acme/x/predictions" || gotQuery != "wait=1" {
		t.Fatalf("unexpected upstream request %s %s ?%s", gotMethod, gotPath, gotQuery)
	}
	if gotAuth != "Bearer r8_secret" || gotBody != `{"input":{}}` {
		t.Fatalf("headers or body not forwarded: auth=%q body=%q", gotAuth, gotBody)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected upstream status 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Upstream") != "yes" || resp.Header.Get("Retry-After") != "7" {
		t.Fatalf("upstream headers not returned: %v", resp.Header)
	}
	if string(body) != `{"detail":"slow down"}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRelay_UnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	h, err := New("/proxy/replicate", addr, newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/replicate/v1/predictions/abc", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestNew_RejectsRelativeUpstream(t *testing.T) {
	if _, err := New("/p", "api.replicate.com", newTestLogger()); err == nil {
		t.Fatalf("expected error for an upstream without scheme")
	}
}

func TestJoinPath(t *testing.T) {
	cases := map[[2]string]string{
		{"", "/v1/x"}:    "/v1/x",
		{"/base/", "v1"}: "/base/v1",
		{"/base", ""}:    "/base/",
		{"", ""}:         "/",
	}
	for in, want := range cases {
		if got := joinPath(in[0], in[1]); got != want {
			t.Errorf("joinPath(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}
