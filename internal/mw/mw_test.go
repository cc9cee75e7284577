package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name       string
		env        string
		origins    []string
		origin     string
		method     string
		wantAllow  string
		wantStatus int
	}{
		{"dev allows any", "dev", nil, "http://evil.test", http.MethodGet, "http://evil.test", http.StatusOK},
		{"prod listed", "prod", []string{"https://app.test"}, "https://app.test", http.MethodGet, "https://app.test", http.StatusOK},
		{"prod unlisted", "prod", []string{"https://app.test"}, "https://other.test", http.MethodGet, "", http.StatusOK},
		{"wildcard", "prod", []string{"*"}, "https://other.test", http.MethodGet, "https://other.test", http.StatusOK},
		{"preflight", "prod", []string{"https://app.test"}, "https://app.test", http.MethodOptions, "https://app.test", http.StatusNoContent},
		{"no origin", "prod", nil, "", http.MethodGet, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.env, tt.origins))
			r.Handle(tt.method, "/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/x", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, 2, time.Minute)
	defer rl.Stop()

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		last = httptest.NewRecorder()
		r.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
	if got := last.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("second client status = %d, want 200", w.Code)
	}
	rl.Stop()
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	defer rl.Stop()

	t0 := time.Now()
	rl.bucketFor("a|/x", t0)
	rl.bucketFor("b|/x", t0.Add(50*time.Second))

	if n := rl.sweep(t0.Add(30 * time.Second)); n != 2 {
		t.Errorf("sweep before idle kept %d buckets, want 2", n)
	}
	if n := rl.sweep(t0.Add(90 * time.Second)); n != 1 {
		t.Errorf("sweep after idle kept %d buckets, want 1", n)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"10.0.0.1:80", "10.0.0.1"},
		{"[::1]:80", "::1"},
		{"bare", "bare"},
	}
	for _, tt := range tests {
		if got := clientIP(tt.in); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
