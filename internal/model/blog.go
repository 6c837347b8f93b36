package model

import (
	"fmt"
	"time"
)

type Blog struct {
	ID          int64     `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	BlogContent string    `db:"blogcontent" json:"blogcontent"`
	Image       string    `db:"image" json:"image"`
	Category    string    `db:"category" json:"category"`
	Author      string    `db:"author" json:"author"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// BlogListRequest は一覧取得の絞り込み条件
type BlogListRequest struct {
	SearchQuery string
	Category    string
}

// CacheKey は一覧のキャッシュキー "blogs:<searchQuery>:<category>" を返す
func (r BlogListRequest) CacheKey() string {
	return fmt.Sprintf("blogs:%s:%s", r.SearchQuery, r.Category)
}

// DefaultBlogListKey は絞り込みなしの一覧のキー
const DefaultBlogListKey = "blogs::"
