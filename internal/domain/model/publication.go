package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Format struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Extension string `json:"extension"`
}

type Publication struct {
	ID          int64           `json:"id"`
	BookID      int64           `json:"book_id"`
	BookTitle   string          `json:"book_title"`
	PublishDate *time.Time      `json:"publish_date,omitempty"`
	Format      Format          `json:"format"`
	Price       decimal.Decimal `json:"price"`
	Free        bool            `json:"free"`
	Purchasable bool            `json:"purchasable"`
	ObjectKey   string          `json:"object_key"`
	SizeBytes   int64           `json:"size_bytes"`
}
