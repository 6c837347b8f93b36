package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogplatform/internal/config"
)

func pingMount(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

func testConfig(service string) config.Config {
	origins := []string{"*"}
	if service == config.BlogService {
		origins = []string{"http://localhost:3000", "https://blog-microservice.vercel.app"}
	}
	return config.Config{Port: "0", CORSOrigins: origins}
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func TestServer_MountsUnderAPIPrefix(t *testing.T) {
	s := NewServer("blog", testConfig(config.BlogService), nil, pingMount)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	rec = do(s, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BlogCORSAllowsListedOrigins(t *testing.T) {
	s := NewServer("blog", testConfig(config.BlogService), nil, pingMount)

	for _, origin := range []string{"http://localhost:3000", "https://blog-microservice.vercel.app"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
		req.Header.Set("Origin", origin)
		rec := do(s, req)

		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	}
}

func TestServer_BlogCORSRejectsOtherOrigins(t *testing.T) {
	s := NewServer("blog", testConfig(config.BlogService), nil, pingMount)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := do(s, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_BlogCORSPreflight(t *testing.T) {
	s := NewServer("blog", testConfig(config.BlogService), nil, pingMount)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := do(s, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
}

func TestServer_UserCORSAllowsAnyOrigin(t *testing.T) {
	s := NewServer("user", testConfig(config.UserService), nil, pingMount)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := do(s, req)

	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestServer_Addr(t *testing.T) {
	assert.Equal(t, ":5000", (&Server{port: "5000"}).Addr())
	assert.Equal(t, ":8080", (&Server{port: ":8080"}).Addr())
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := testConfig(config.BlogService)
	cfg.Port = strconv.Itoa(port)
	s := NewServer("blog", cfg, nil, pingMount)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + cfg.Port + "/api/v1/ping")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RunReportsListenError(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	cfg := testConfig(config.BlogService)
	cfg.Port = strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
	s := NewServer("blog", cfg, nil)

	err = s.Run(context.Background())
	assert.Error(t, err)
}
