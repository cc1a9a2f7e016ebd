// Package backend talks to the chat backend's HTTP side channel: login,
// registration, media and avatar uploads, and locating the backend itself.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"im-sync/internal/imtypes"
	"im-sync/internal/obs"
)

// APIError is a non-2xx answer from the backend. Message is the body's
// "error" field when present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("backend: %d %s", e.StatusCode, e.Message)
}

// LoginResult is the answer to a successful login.
type LoginResult struct {
	Token     string     `json:"token"`
	UserID    imtypes.ID `json:"user_id"`
	AvatarURL string     `json:"avatar_url"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient returns a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  obs.OrDiscard(logger),
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// AbsoluteURL resolves the backend-relative paths ("/static/...") that avatar
// and upload answers may carry.
func (c *Client) AbsoluteURL(u string) string {
	if strings.HasPrefix(u, "/") {
		return c.baseURL + u
	}
	return u
}

// Login exchanges credentials for a session token. login is a username or an email.
func (c *Client) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	var res LoginResult
	body := map[string]string{"login": login, "password": password}
	if err := c.postJSON(ctx, "/api/login", body, &res); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if res.Token == "" {
		return nil, errors.New("login: backend returned no token")
	}
	res.AvatarURL = c.AbsoluteURL(res.AvatarURL)
	c.logger.Info("logged in", "user", res.UserID)
	return &res, nil
}

// Register creates an account. The caller logs in afterwards.
func (c *Client) Register(ctx context.Context, username, password, email string) error {
	body := map[string]string{"username": username, "password": password, "email": email}
	if err := c.postJSON(ctx, "/api/register", body, nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// UploadFile implements imtypes.StorageService. Voice recordings go to the
// audio endpoint.
func (c *Client) UploadFile(ctx context.Context, kind imtypes.MessageType, reader io.Reader, fileSize int64, fileName string, mimeType string) (*imtypes.FileInfo, error) {
	endpoint, err := uploadEndpoint(kind)
	if err != nil {
		return nil, err
	}
	var res struct {
		URL string `json:"url"`
	}
	if err := c.postMultipart(ctx, "/upload/"+endpoint, endpoint, reader, fileName, mimeType, "", &res); err != nil {
		return nil, fmt.Errorf("upload %s: %w", kind, err)
	}
	if res.URL == "" {
		return nil, fmt.Errorf("upload %s: backend returned no url", kind)
	}
	c.logger.Debug("file uploaded", "kind", kind, "size", fileSize, "url", res.URL)
	return &imtypes.FileInfo{
		URL:      c.AbsoluteURL(res.URL),
		Kind:     kind,
		Size:     fileSize,
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}

// UploadAvatar stores a new avatar for the token's user and returns its URL.
// Peers learn about it from a change_avatar frame sent afterwards.
func (c *Client) UploadAvatar(ctx context.Context, token string, reader io.Reader, fileName, mimeType string) (string, error) {
	var res struct {
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.postMultipart(ctx, "/api/avatar", "avatar", reader, fileName, mimeType, token, &res); err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	if res.AvatarURL == "" {
		return "", errors.New("upload avatar: backend returned no url")
	}
	return c.AbsoluteURL(res.AvatarURL), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// postMultipart sends reader as the single file part named field.
func (c *Client) postMultipart(ctx context.Context, path, field string, reader io.Reader, fileName, mimeType, token string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, fileName))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, reader); err != nil {
		return fmt.Errorf("read %s: %w", fileName, err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			apiErr.Message = body.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
