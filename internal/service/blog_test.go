package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "blogplatform/internal"
	"blogplatform/internal/config"
	"blogplatform/internal/model"
)

type fakeLister struct {
	mu     sync.Mutex
	blogs  []model.Blog
	err    error
	calls  []model.BlogListRequest
	onList func()
}

func (f *fakeLister) ListBlogs(ctx context.Context, req model.BlogListRequest) ([]model.Blog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.onList != nil {
		f.onList()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.blogs, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newCache(t *testing.T, connect bool) (*cache.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), config.CacheConfig{}, nil)
	t.Cleanup(func() { _ = c.Close() })
	if connect {
		require.NoError(t, c.Connect(context.Background()))
	}
	return c, mr
}

func TestBlogService_ListBlogs_ReadThrough(t *testing.T) {
	c, mr := newCache(t, true)
	repo := &fakeLister{blogs: []model.Blog{{ID: 1, Title: "hello"}}}
	svc := NewBlogService(repo, c, time.Hour, nil)
	ctx := context.Background()

	blogs, err := svc.ListBlogs(ctx, model.BlogListRequest{})
	require.NoError(t, err)
	require.Len(t, blogs, 1)
	assert.Equal(t, 1, repo.callCount())
	assert.True(t, mr.Exists(model.DefaultBlogListKey))
	assert.Equal(t, time.Hour, mr.TTL(model.DefaultBlogListKey))

	blogs, err = svc.ListBlogs(ctx, model.BlogListRequest{})
	require.NoError(t, err)
	assert.Equal(t, "hello", blogs[0].Title)
	assert.Equal(t, 1, repo.callCount(), "second read must be served from cache")
}

func TestBlogService_ListBlogs_KeyPerFilter(t *testing.T) {
	c, mr := newCache(t, true)
	repo := &fakeLister{blogs: []model.Blog{}}
	svc := NewBlogService(repo, c, time.Hour, nil)

	_, err := svc.ListBlogs(context.Background(), model.BlogListRequest{SearchQuery: "go", Category: "tech"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("blogs:go:tech"))
	assert.Equal(t, []model.BlogListRequest{{SearchQuery: "go", Category: "tech"}}, repo.calls)
}

func TestBlogService_ListBlogs_CacheNotReadyFallsBack(t *testing.T) {
	c, mr := newCache(t, false)
	repo := &fakeLister{blogs: []model.Blog{{ID: 7}}}
	svc := NewBlogService(repo, c, time.Hour, nil)

	blogs, err := svc.ListBlogs(context.Background(), model.BlogListRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), blogs[0].ID)
	assert.False(t, mr.Exists(model.DefaultBlogListKey))
}

func TestBlogService_ListBlogs_CacheOutageFallsBack(t *testing.T) {
	c, mr := newCache(t, true)
	mr.Close()
	repo := &fakeLister{blogs: []model.Blog{{ID: 9}}}
	svc := NewBlogService(repo, c, time.Hour, nil)

	blogs, err := svc.ListBlogs(context.Background(), model.BlogListRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(9), blogs[0].ID)
}

func TestBlogService_ListBlogs_SkipsWriteBackAfterInvalidation(t *testing.T) {
	c, mr := newCache(t, true)
	ctx := context.Background()
	repo := &fakeLister{blogs: []model.Blog{{ID: 1, Title: "old"}}}
	// DB を読んでいる間に無効化が届く
	repo.onList = func() {
		_, err := c.DeleteMatching(ctx, "blogs:*")
		require.NoError(t, err)
	}
	svc := NewBlogService(repo, c, time.Hour, nil)

	blogs, err := svc.ListBlogs(ctx, model.BlogListRequest{})
	require.NoError(t, err)
	assert.Equal(t, "old", blogs[0].Title)
	assert.False(t, mr.Exists(model.DefaultBlogListKey))

	repo.onList = nil
	_, err = svc.ListBlogs(ctx, model.BlogListRequest{})
	require.NoError(t, err)
	assert.True(t, mr.Exists(model.DefaultBlogListKey))
}

func TestBlogService_ListBlogs_RepositoryError(t *testing.T) {
	c, _ := newCache(t, true)
	boom := errors.New("db down")
	svc := NewBlogService(&fakeLister{err: boom}, c, time.Hour, nil)

	_, err := svc.ListBlogs(context.Background(), model.BlogListRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestBlogService_RebuildDefault(t *testing.T) {
	c, mr := newCache(t, true)
	repo := &fakeLister{blogs: []model.Blog{{ID: 3}, {ID: 2}}}
	svc := NewBlogService(repo, c, 30*time.Minute, nil)

	require.NoError(t, svc.RebuildDefault(context.Background()))
	assert.Equal(t, 30*time.Minute, mr.TTL(model.DefaultBlogListKey))
	assert.Equal(t, []model.BlogListRequest{{}}, repo.calls)
}
