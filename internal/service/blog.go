package service

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	cache "blogplatform/internal"
	"blogplatform/internal/model"
	"blogplatform/internal/service/utils"
)

type BlogLister interface {
	ListBlogs(ctx context.Context, req model.BlogListRequest) ([]model.Blog, error)
}

type BlogService struct {
	repo   BlogLister
	cache  *cache.Client
	ttl    time.Duration
	logger *log.Entry
}

func NewBlogService(repo BlogLister, c *cache.Client, ttl time.Duration, logger *log.Entry) *BlogService {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &BlogService{repo: repo, cache: c, ttl: ttl, logger: logger.WithField("component", "blog_service")}
}

// ブログ一覧をキャッシュ経由で取得する。
// キャッシュの障害は DB へのフォールバックで吸収し、呼び出し元には返さない。
func (s *BlogService) ListBlogs(ctx context.Context, req model.BlogListRequest) ([]model.Blog, error) {
	ctx, span := otel.Tracer("service.blog").Start(ctx, "BlogService.ListBlogs")
	defer span.End()

	key := req.CacheKey()
	span.SetAttributes(attribute.String("cache.key", key))

	var blogs []model.Blog
	found, err := s.cache.GetJSON(ctx, key, &blogs)
	switch {
	case err == nil && found:
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return blogs, nil
	case errors.Is(err, cache.ErrNotReady):
		s.logger.Debug("cache not ready, reading from database")
	case err != nil:
		s.logger.WithError(err).WithField("key", key).Warn("cache read failed")
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// DB を読む前に世代番号を取っておき、読み込み中に無効化が走っていたら書き戻さない
	gen, genErr := s.cache.Generation(ctx)

	err = utils.WithTimeout(ctx, func(ctx context.Context) error {
		blogs, err = s.repo.ListBlogs(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if genErr != nil {
		return blogs, nil
	}
	stored, err := s.cache.SetJSONIfGeneration(ctx, key, blogs, s.ttl, gen)
	switch {
	case err != nil:
		s.logger.WithError(err).WithField("key", key).Warn("cache write failed")
	case !stored:
		s.logger.WithField("key", key).Debug("cache invalidated during read, skipping write-back")
	}
	return blogs, nil
}

// RebuildDefault は絞り込みなしの一覧をDBから読み直してキャッシュに載せる
func (s *BlogService) RebuildDefault(ctx context.Context) error {
	return utils.WithTimeout(ctx, func(ctx context.Context) error {
		blogs, err := s.repo.ListBlogs(ctx, model.BlogListRequest{})
		if err != nil {
			return err
		}
		if err := s.cache.SetJSON(ctx, model.DefaultBlogListKey, blogs, s.ttl); err != nil {
			return err
		}
		s.logger.WithFields(log.Fields{"key": model.DefaultBlogListKey, "count": len(blogs)}).Info("cache rebuilt")
		return nil
	})
}
