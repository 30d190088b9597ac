package model

import "time"

type Download struct {
	ID           int64     `json:"id"`
	PurchaseID   int64     `json:"purchase_id"`
	RemoteAddr   string    `json:"remote_addr"`
	DownloadedAt time.Time `json:"downloaded_at"`
}
