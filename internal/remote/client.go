// Package remote is the HTTP client for the proposal API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"proposalsync/internal/session"
	"proposalsync/internal/threads"
)

// APIError is a non-2xx response. Error returns the server message so it can
// be shown to the user as is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Profile struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Template struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Snapshot    json.RawMessage `json:"snapshot"`
}

type Document struct {
	ID        string          `json:"id"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Revision  int64           `json:"revision"`
	UpdatedBy string          `json:"updatedBy"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Client struct {
	baseURL string
	http    *http.Client
	session *session.Session
}

// NewClient returns a client for the API at baseURL. A nil httpClient uses a
// client with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client, sess *session.Session) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if sess == nil {
		sess = session.New()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		session: sess,
	}
}

func (c *Client) Session() *session.Session {
	return c.session
}

// Login starts a session for name.
func (c *Client) Login(ctx context.Context, name string) (session.Credentials, error) {
	var creds session.Credentials
	if err := c.do(ctx, http.MethodPost, "/api/session/login", false, map[string]string{"name": name}, &creds); err != nil {
		return session.Credentials{}, fmt.Errorf("login: %w", err)
	}
	c.session.Issue(creds)
	return creds, nil
}

// Logout asks the server to revoke the token, then ends the session locally,
// which runs the session's clear hooks. The local session is cleared even
// when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.session.Clear()
	if _, ok := c.session.Current(); !ok {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/api/session/logout", true, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, "/api/profile", true, nil, &profile); err != nil {
		return Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	return profile, nil
}

func (c *Client) UpdateProfile(ctx context.Context, profile Profile) (Profile, error) {
	var updated Profile
	if err := c.do(ctx, http.MethodPut, "/api/profile", true, profile, &updated); err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return updated, nil
}

func (c *Client) Templates(ctx context.Context) ([]Template, error) {
	var response struct {
		Items []Template `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/templates", true, nil, &response); err != nil {
		return nil, fmt.Errorf("fetch templates: %w", err)
	}
	return response.Items, nil
}

func (c *Client) Document(ctx context.Context, documentKey string) (Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodGet, documentPath(documentKey), true, nil, &doc); err != nil {
		return Document{}, fmt.Errorf("fetch document: %w", err)
	}
	return doc, nil
}

// SaveDocument writes snapshot as the document's content. Its signature
// matches autosave.SaveFunc. Errors are returned unwrapped because the
// coordinator shows them to the user.
func (c *Client) SaveDocument(ctx context.Context, documentKey string, snapshot json.RawMessage) error {
	return c.do(ctx, http.MethodPut, documentPath(documentKey), true, snapshot, nil)
}

func (c *Client) History(ctx context.Context, documentKey string) ([]Revision, error) {
	var response struct {
		Items []Revision `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, documentPath(documentKey)+"/history", true, nil, &response); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return response.Items, nil
}

// Comments returns the document's comments as a flat list.
func (c *Client) Comments(ctx context.Context, documentKey string) ([]threads.Comment, error) {
	var response struct {
		Items []threads.Comment `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, documentPath(documentKey)+"/comments", true, nil, &response); err != nil {
		return nil, fmt.Errorf("fetch comments: %w", err)
	}
	return response.Items, nil
}

func (c *Client) AddComment(ctx context.Context, documentKey, parentID, content string) (threads.Comment, error) {
	body := map[string]string{"content": content}
	if parentID != "" {
		body["parentId"] = parentID
	}
	var comment threads.Comment
	if err := c.do(ctx, http.MethodPost, documentPath(documentKey)+"/comments", true, body, &comment); err != nil {
		return threads.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	return comment, nil
}

func documentPath(documentKey string) string {
	return "/api/documents/" + url.PathEscape(documentKey)
}

func (c *Client) do(ctx context.Context, method, path string, authenticated bool, body, target any) error {
	var reader io.Reader
	if body != nil {
		var payload []byte
		if raw, ok := body.(json.RawMessage); ok {
			payload = raw
		} else {
			encoded, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
			payload = encoded
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		token, err := c.session.Token()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp)
		if apiErr.Status == http.StatusUnauthorized && authenticated {
			c.session.Clear()
		}
		return apiErr
	}
	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
