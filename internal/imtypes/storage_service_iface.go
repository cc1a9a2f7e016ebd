// internal/imtypes/storage_service_iface.go
package imtypes

import (
	"context"
	"io"
)

// StorageService uploads media through the backend's HTTP side channel.
// The returned FileInfo.URL becomes the content of the media message.
type StorageService interface {
	// UploadFile streams reader to the upload endpoint for kind.
	// fileName and mimeType are forwarded as multipart metadata.
	UploadFile(ctx context.Context, kind MessageType, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error)
}
