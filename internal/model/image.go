package model

import "time"

// Image is an immutable uploaded image. The ID is the lowercase hex SHA-256
// of the payload, so identical bytes always map to the same image.
type Image struct {
	ID        string      `json:"id"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Format    ImageFormat `json:"format"`
	Size      int64       `json:"size"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ImageListResponse is the response for listing stored images
type ImageListResponse struct {
	Images []Image `json:"images"`
	Count  int     `json:"count"`
}
