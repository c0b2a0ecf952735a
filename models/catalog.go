package models

import "time"

// Category is owned by the categories service. The products service
// only ever reads it over RPC and never caches it.
type Category struct {
	ID          string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(100);not null"`
	Slug        string    `json:"slug" gorm:"type:varchar(100);uniqueIndex;not null"`
	Description *string   `json:"description,omitempty" gorm:"type:text"`
	ParentID    *string   `json:"parentId,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Product references its category by id only; the category itself is
// attached at read time.
type Product struct {
	ID             string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name           string     `json:"name" gorm:"type:varchar(255);not null;index"`
	Description    string     `json:"description" gorm:"type:text"`
	Price          float64    `json:"price" gorm:"type:decimal(12,2);not null"`
	Inventory      int        `json:"inventory" gorm:"not null;default:0"`
	IsFlashSale    bool       `json:"isFlashSale" gorm:"not null;default:false"`
	FlashSalePrice *float64   `json:"flashSalePrice,omitempty" gorm:"type:decimal(12,2)"`
	FlashSaleStart *time.Time `json:"flashSaleStart,omitempty"`
	FlashSaleEnd   *time.Time `json:"flashSaleEnd,omitempty"`
	CategoryID     *string    `json:"categoryId,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// ProductView is a product decorated with its category, nil when the
// category could not be resolved.
type ProductView struct {
	Product
	Category *Category `json:"category"`
}

// ProductPatch holds the mutable product fields; nil means unchanged
type ProductPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// ListFilter pages a name-filtered listing
type ListFilter struct {
	Name     string
	Slug     string
	ParentID string
	Page     int
	Limit    int
}

// Page is one page of a listing
type Page[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// NewPage computes TotalPages as ceil(total/limit)
func NewPage[T any](data []T, total int64, page, limit int) Page[T] {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	if data == nil {
		data = []T{}
	}
	return Page[T]{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}

// Pagination bounds
const (
	DefaultPage  = 1
	DefaultLimit = 100
	MaxLimit     = 100
)

// Normalize clamps page and limit into their valid ranges
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
}

// Offset returns the number of rows to skip
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// CategoryPatch holds the mutable category fields; nil means unchanged
type CategoryPatch struct {
	Name *string `json:"name"`
	Slug *string `json:"slug"`
}
