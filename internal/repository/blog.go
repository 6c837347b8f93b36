package repository

import (
	"context"
	"strings"

	"blogplatform/internal/model"
)

type BlogRepository struct {
	db DBTX
}

func NewBlogRepository(db DBTX) *BlogRepository {
	return &BlogRepository{db: db}
}

// 新しい順にブログ一覧を取得する。検索語はタイトルと概要の部分一致。
func (r *BlogRepository) ListBlogs(ctx context.Context, req model.BlogListRequest) ([]model.Blog, error) {
	query := `
		SELECT id, title, description, blogcontent, image, category, author, created_at
		FROM blogs
	`
	var conds []string
	args := []interface{}{}

	if req.SearchQuery != "" {
		conds = append(conds, "(title LIKE ? OR description LIKE ?)")
		pattern := "%" + req.SearchQuery + "%"
		args = append(args, pattern, pattern)
	}
	if req.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, req.Category)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	blogs := []model.Blog{}
	if err := r.db.SelectContext(ctx, &blogs, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return blogs, nil
}
