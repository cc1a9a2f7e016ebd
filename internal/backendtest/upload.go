package backendtest

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxUploadSize = 32 << 20 // 32 MB

// localStorage saves uploads under basePath and serves them below baseURL.
type localStorage struct {
	basePath string // local directory
	baseURL  string // URL prefix, e.g. "/static/uploads"
}

func newLocalStorage(basePath, baseURL string) *localStorage {
	return &localStorage{basePath: basePath, baseURL: baseURL}
}

// save writes reader to a uniquely named file, keeping the extension, and
// returns its URL path.
func (s *localStorage) save(reader io.Reader, fileName, mimeType string) (string, error) {
	ext := filepath.Ext(fileName)
	if ext == "" {
		// No extension: derive one from the MIME type.
		if extensions, _ := mime.ExtensionsByType(mimeType); len(extensions) > 0 {
			ext = extensions[0]
		}
	}
	name := uuid.NewString() + ext
	dstPath := filepath.Join(s.basePath, name)

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dstPath, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, reader); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("write %s: %w", dstPath, err)
	}
	return strings.TrimSuffix(s.baseURL, "/") + "/" + url.PathEscape(name), nil
}

// receive parses the multipart body and stores the part named field.
func (s *Server) receive(w http.ResponseWriter, r *http.Request, field string) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSONError(w, fmt.Sprintf("parse form: %v", err), http.StatusBadRequest)
		return "", false
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		writeJSONError(w, fmt.Sprintf("missing %q field", field), http.StatusBadRequest)
		return "", false
	}
	defer file.Close()

	u, err := s.storage.save(file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		writeJSONError(w, "store file failed", http.StatusInternalServerError)
		return "", false
	}
	return u, true
}

// uploadFile handles /upload/{kind}; the file part is named after the kind.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	u, ok := s.receive(w, r, kind)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"url": u})
}

// uploadAvatar handles /api/avatar for the bearer token's user.
func (s *Server) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		writeJSONError(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	claims, err := s.validateToken(token)
	if err != nil {
		writeJSONError(w, "invalid token", http.StatusUnauthorized)
		return
	}
	u, ok := s.receive(w, r, "avatar")
	if !ok {
		return
	}
	s.mu.Lock()
	if user, exists := s.users[claims.Username]; exists {
		user.Avatar = u
	}
	s.mu.Unlock()
	writeJSONResponse(w, http.StatusOK, map[string]string{"avatar_url": u})
}
