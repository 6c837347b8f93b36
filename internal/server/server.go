package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/riandyrn/otelchi"
	log "github.com/sirupsen/logrus"

	"blogplatform/internal/config"
	"blogplatform/internal/logging"
)

const (
	APIPrefix       = "/api/v1"
	shutdownTimeout = 10 * time.Second
)

// Mount は /api/v1 配下にルートを登録する
type Mount func(r chi.Router)

type Server struct {
	Router *chi.Mux
	port   string
	logger *log.Entry
}

func NewServer(service string, cfg config.Config, logger *log.Entry, mounts ...Mount) *Server {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(otelchi.Middleware(service, otelchi.WithChiRoutes(r)))
	r.Use(cors.Handler(CORSOptions(cfg.CORSOrigins)))

	r.Route(APIPrefix, func(api chi.Router) {
		for _, m := range mounts {
			m(api)
		}
	})

	return &Server{Router: r, port: cfg.Port, logger: logger}
}

// CORSOptions は両サービス共通のメソッド/ヘッダ許可リストに origins を組み合わせる。
// credentials は常に許可する。
func CORSOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}
}

func (s *Server) Addr() string {
	if strings.HasPrefix(s.port, ":") {
		return s.port
	}
	return ":" + s.port
}

// Run は ctx がキャンセルされるまで待ち受け、キャンセル後はグレースフルに停止する
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.logger.Infof("Server is running on http://localhost%s", s.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
