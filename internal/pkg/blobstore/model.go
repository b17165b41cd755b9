package blobstore

import "time"

type BlobInfo struct {
	Handle    string    `json:"handle"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
