package model

import "time"

// Publication records one map file that was uploaded to the GIS portal.
// ItemID and ItemURL are owned by the portal; StoragePath points at the
// staged map file in object storage.
type Publication struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id"`
	ItemURL     string    `json:"item_url"`
	Title       string    `json:"title"`
	ItemType    string    `json:"item_type"`
	StoragePath string    `json:"storage_path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Shared      bool      `json:"shared"`
	CreatedAt   time.Time `json:"created_at"`
}

// PublicationDetail is a publication plus a time-limited link to its map file.
type PublicationDetail struct {
	Publication
	DownloadURL string `json:"download_url,omitempty"`
}
