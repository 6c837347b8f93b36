package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"blogplatform/internal/model"
)

type BlogLister interface {
	ListBlogs(ctx context.Context, req model.BlogListRequest) ([]model.Blog, error)
}

type BlogHandler struct {
	BlogSvc BlogLister
	logger  *log.Entry
}

func NewBlogHandler(blogSvc BlogLister, logger *log.Entry) *BlogHandler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &BlogHandler{BlogSvc: blogSvc, logger: logger}
}

func (h *BlogHandler) Routes(r chi.Router) {
	r.Get("/blog/all", h.ListBlogs)
}

// ブログ一覧を取得 (キャッシュ経由)
func (h *BlogHandler) ListBlogs(w http.ResponseWriter, r *http.Request) {
	req := model.BlogListRequest{
		SearchQuery: r.URL.Query().Get("searchQuery"),
		Category:    r.URL.Query().Get("category"),
	}

	blogs, err := h.BlogSvc.ListBlogs(r.Context(), req)
	if err != nil {
		h.logger.WithError(err).
			WithField("trace_id", trace.SpanContextFromContext(r.Context()).TraceID().String()).
			Error("failed to list blogs")
		writeError(w, http.StatusInternalServerError, "Failed to fetch blogs")
		return
	}
	writeJSON(w, http.StatusOK, blogs)
}
