package imtypes

// FileInfo is the result of an upload: the URL the backend serves it at plus
// metadata of the local file.
type FileInfo struct {
	URL      string      `json:"url"`  // content of the media message
	Kind     MessageType `json:"kind"` // message type of the upload endpoint
	Size     int64       `json:"size"` // bytes
	MimeType string      `json:"mimeType"`
	FileName string      `json:"fileName"`
}
