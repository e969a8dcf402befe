package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"proposalsync/internal/store"
)

func serve(server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func login(t *testing.T, server *HTTPServer) string {
	t.Helper()
	rr := serve(server, http.MethodPost, "/api/session/login", "", `{"name":"Avery"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Token    string `json:"token"`
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if body.Token == "" || body.UserName != "Avery" {
		t.Fatalf("unexpected login response %s", rr.Body.String())
	}
	return body.Token
}

func decodeErrorBody(t *testing.T, rr *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Code, body.Error
}

func TestLoginRejectsBlankName(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := serve(server, http.MethodPost, "/api/session/login", "", `{"name":" "}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if code, message := decodeErrorBody(t, rr); code != "VALIDATION_ERROR" || message != "name is required" {
		t.Fatalf("unexpected error %s %q", code, message)
	}

	rr = serve(server, http.MethodPost, "/api/session/login", "", `{"name":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server := newTestServer(&fakeStore{})

	for _, path := range []string{"/api/profile", "/api/templates", "/api/documents/doc-1", "/api/session"} {
		rr := serve(server, http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rr.Code)
		}
		rr = serve(server, http.MethodGet, path, "forged.token", "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s with forged token: expected 401, got %d", path, rr.Code)
		}
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	revoked := map[string]bool{}
	fs := &fakeStore{}
	fs.revokeAccessTokenFn = func(_ context.Context, jti string, _ time.Time) error {
		revoked[jti] = true
		return nil
	}
	fs.isAccessTokenRevokedFn = func(_ context.Context, jti string) (bool, error) {
		return revoked[jti], nil
	}
	server := newTestServer(fs)
	token := login(t, server)

	if rr := serve(server, http.MethodGet, "/api/session", token, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected session to be valid, got %d", rr.Code)
	}
	if rr := serve(server, http.MethodPost, "/api/session/logout", token, ""); rr.Code != http.StatusOK {
		t.Fatalf("logout status %d", rr.Code)
	}
	if rr := serve(server, http.MethodGet, "/api/session", token, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rr.Code)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	var saved store.Document
	fs := &fakeStore{
		saveDocumentFn: func(_ context.Context, documentID string, snapshot json.RawMessage, updatedBy string) (store.Document, error) {
			saved = store.Document{ID: documentID, Snapshot: snapshot, Revision: 2, UpdatedBy: updatedBy}
			return saved, nil
		},
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return saved, nil
		},
	}
	server := newTestServer(fs)
	token := login(t, server)

	rr := serve(server, http.MethodPut, "/api/documents/doc-1", token, `{"title":"Q3 proposal"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("save status %d: %s", rr.Code, rr.Body.String())
	}
	if saved.UpdatedBy != "Avery" {
		t.Fatalf("expected save attributed to the session user, got %q", saved.UpdatedBy)
	}

	rr = serve(server, http.MethodGet, "/api/documents/doc-1", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status %d", rr.Code)
	}
	var doc struct {
		ID       string          `json:"id"`
		Snapshot json.RawMessage `json:"snapshot"`
		Revision int64           `json:"revision"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.ID != "doc-1" || doc.Revision != 2 || string(doc.Snapshot) != `{"title":"Q3 proposal"}` {
		t.Fatalf("unexpected document %s", rr.Body.String())
	}
}

func TestDocumentErrors(t *testing.T) {
	server := newTestServer(&fakeStore{})
	token := login(t, server)

	rr := serve(server, http.MethodGet, "/api/documents/missing", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = serve(server, http.MethodPut, "/api/documents/doc-1", token, `{"title":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid snapshot, got %d", rr.Code)
	}

	rr = serve(server, http.MethodPut, "/api/documents/doc-1", token, `"`+strings.Repeat("x", maxSnapshotBytes)+`"`)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if code, _ := decodeErrorBody(t, rr); code != "SNAPSHOT_TOO_LARGE" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestCommentRoutes(t *testing.T) {
	stored := []store.Comment{{ID: "c1", Body: "Scope is unclear", AuthorName: "Blake"}}
	fs := &fakeStore{
		getDocumentFn: existingDocument,
		listCommentsFn: func(context.Context, string) ([]store.Comment, error) {
			return append([]store.Comment(nil), stored...), nil
		},
		insertCommentFn: func(_ context.Context, comment store.Comment) (store.Comment, error) {
			stored = append(stored, comment)
			return comment, nil
		},
		setCommentResolvedFn: func(_ context.Context, _, commentID string, resolved bool) (bool, error) {
			for i := range stored {
				if stored[i].ID == commentID {
					stored[i].Resolved = resolved
					return true, nil
				}
			}
			return false, nil
		},
	}
	server := newTestServer(fs)
	token := login(t, server)

	rr := serve(server, http.MethodPost, "/api/documents/doc-1/comments", token, `{"parentId":"c1","content":"Fixed in section 2"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add comment status %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(server, http.MethodPost, "/api/documents/doc-1/comments/c1/resolve", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("resolve status %d", rr.Code)
	}

	rr = serve(server, http.MethodGet, "/api/documents/doc-1/comments", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status %d", rr.Code)
	}
	var listed struct {
		Items []struct {
			ID       string `json:"id"`
			ParentID string `json:"parentId"`
			Resolved bool   `json:"resolved"`
		} `json:"items"`
		ThreadCount int `json:"threadCount"`
		OpenThreads int `json:"openThreads"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode comments: %v", err)
	}
	if len(listed.Items) != 2 || listed.Items[1].ParentID != "c1" {
		t.Fatalf("unexpected comments %s", rr.Body.String())
	}
	if !listed.Items[0].Resolved || listed.ThreadCount != 1 || listed.OpenThreads != 0 {
		t.Fatalf("expected the resolved thread to be reflected, got %s", rr.Body.String())
	}

	rr = serve(server, http.MethodPost, "/api/documents/doc-1/comments/c9/reopen", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown comment, got %d", rr.Code)
	}

	rr = serve(server, http.MethodPost, "/api/documents/doc-1/comments", token, `{"parentId":"c9","content":"hello"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown parent, got %d", rr.Code)
	}
	if code, _ := decodeErrorBody(t, rr); code != "PARENT_NOT_FOUND" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(&fakeStore{})
	token := login(t, server)

	if rr := serve(server, http.MethodGet, "/api/documents/doc-1/unknown", token, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := serve(server, http.MethodDelete, "/api/profile", token, ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
