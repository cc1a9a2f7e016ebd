package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"im-sync/internal/imtypes"
)

// ErrUnsupportedMedia is returned for message kinds that have no upload endpoint.
var ErrUnsupportedMedia = errors.New("unsupported media kind")

// uploadEndpoint maps a message kind to its /upload/{kind} path segment.
func uploadEndpoint(kind imtypes.MessageType) (string, error) {
	switch kind {
	case imtypes.ImageMessageType, imtypes.VideoMessageType, imtypes.FileMessageType, imtypes.AudioMessageType:
		return string(kind), nil
	case imtypes.VoiceMessageType:
		return string(imtypes.AudioMessageType), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, kind)
}

// KindForMIME picks the message kind a file is sent as. Anything that is not
// an image, video or audio goes as a plain file.
func KindForMIME(mimeType string) imtypes.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return imtypes.ImageMessageType
	case strings.HasPrefix(mimeType, "video/"):
		return imtypes.VideoMessageType
	case strings.HasPrefix(mimeType, "audio/"):
		return imtypes.AudioMessageType
	}
	return imtypes.FileMessageType
}

// DetectMIME guesses a file's type from its extension, then from its first bytes.
func DetectMIME(fileName string, head []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(fileName)); t != "" {
		return t
	}
	return http.DetectContentType(head)
}

// UploadPath uploads the file at path with the kind its type suggests.
func UploadPath(ctx context.Context, storage imtypes.StorageService, path string) (*imtypes.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	mimeType := DetectMIME(path, head[:n])
	return storage.UploadFile(ctx, KindForMIME(mimeType), f, info.Size(), filepath.Base(path), mimeType)
}
