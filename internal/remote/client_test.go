package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"proposalsync/internal/cache"
	"proposalsync/internal/durable"
	"proposalsync/internal/session"
	"proposalsync/internal/threads"
)

type fakeAPI struct {
	t            *testing.T
	profileCalls atomic.Int32
	commentCalls atomic.Int32
	logoutCalls  atomic.Int32
	savedBody    atomic.Value
	saveStatus   int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeTestJSON(w, http.StatusOK, session.Credentials{
			Token:     "tok-" + body.Name,
			UserID:    "usr_" + strings.ToLower(body.Name),
			UserName:  body.Name,
			ExpiresAt: time.Now().Add(time.Hour),
		})
	})
	mux.HandleFunc("POST /api/session/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logoutCalls.Add(1)
		writeTestJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	mux.HandleFunc("GET /api/profile", func(w http.ResponseWriter, r *http.Request) {
		name, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer tok-")
		if !ok || name == "Blake" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED", "error": "Unauthorized"})
			return
		}
		f.profileCalls.Add(1)
		writeTestJSON(w, http.StatusOK, Profile{UserID: "usr_" + strings.ToLower(name), DisplayName: name, Company: "Northwind"})
	})
	mux.HandleFunc("PUT /api/profile", func(w http.ResponseWriter, r *http.Request) {
		var body Profile
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeTestJSON(w, http.StatusOK, body)
	})
	mux.HandleFunc("GET /api/templates", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"items": []Template{{ID: "tpl_nda", Name: "NDA"}}})
	})
	mux.HandleFunc("PUT /api/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if f.saveStatus != 0 {
			writeTestJSON(w, f.saveStatus, map[string]string{"code": "DOCUMENT_LOCKED", "error": "Document is locked by another editor"})
			return
		}
		raw, _ := io.ReadAll(r.Body)
		f.savedBody.Store(string(raw))
		writeTestJSON(w, http.StatusOK, Document{ID: r.PathValue("id"), Revision: 2})
	})
	mux.HandleFunc("GET /api/documents/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		f.commentCalls.Add(1)
		writeTestJSON(w, http.StatusOK, map[string]any{"items": []threads.Comment{
			{ID: "cmt_1", Content: "Scope?"},
			{ID: "cmt_2", ParentID: "cmt_1", Content: "See section 2"},
		}})
	})
	mux.HandleFunc("POST /api/documents/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ParentID string `json:"parentId"`
			Content  string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeTestJSON(w, http.StatusCreated, threads.Comment{ID: "cmt_3", ParentID: body.ParentID, Content: body.Content})
	})
	return mux
}

func writeTestJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{t: t}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client(), session.New()), api
}

func TestAuthenticatedCallRequiresSession(t *testing.T) {
	client, _ := newTestClient(t)
	if _, err := client.Profile(context.Background()); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestLoginSetsBearerToken(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	if _, err := client.Login(ctx, "Avery"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	profile, err := client.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if profile.Company != "Northwind" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestUnauthorizedClearsSession(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	if _, err := client.Login(ctx, "Blake"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	cleared := false
	client.Session().OnClear(func() { cleared = true })

	_, err := client.Profile(ctx)
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if !cleared {
		t.Fatal("expected a 401 to clear the session")
	}
}

func TestLogoutRevokesAndClears(t *testing.T) {
	ctx := context.Background()
	client, api := newTestClient(t)
	cleared := 0
	client.Session().OnClear(func() { cleared++ })

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() without session error = %v", err)
	}
	if api.logoutCalls.Load() != 0 {
		t.Fatal("expected no server call without a session")
	}

	if _, err := client.Login(ctx, "Avery"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	// Logout without a session, the login replacing no session, and the logout.
	if api.logoutCalls.Load() != 1 || cleared != 3 {
		t.Fatalf("expected one revoke and three clears, got %d and %d", api.logoutCalls.Load(), cleared)
	}
	if _, ok := client.Session().Current(); ok {
		t.Fatal("expected the session to be cleared")
	}
}

func TestSaveDocumentSendsRawSnapshot(t *testing.T) {
	ctx := context.Background()
	client, api := newTestClient(t)
	_, _ = client.Login(ctx, "Avery")

	snapshot := json.RawMessage(`{"title":"Q3 proposal"}`)
	if err := client.SaveDocument(ctx, "doc 1", snapshot); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	if got, _ := api.savedBody.Load().(string); got != string(snapshot) {
		t.Fatalf("server received %q", got)
	}
}

func TestSaveDocumentErrorCarriesServerMessage(t *testing.T) {
	ctx := context.Background()
	client, api := newTestClient(t)
	api.saveStatus = http.StatusConflict
	_, _ = client.Login(ctx, "Avery")

	err := client.SaveDocument(ctx, "doc-1", json.RawMessage(`{}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "DOCUMENT_LOCKED" || err.Error() != "Document is locked by another editor" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestCachedProfileFetchesOnce(t *testing.T) {
	ctx := context.Background()
	client, api := newTestClient(t)
	_, _ = client.Login(ctx, "Avery")
	cached := NewCached(client, cache.New(cache.Config{Store: durable.NewMemoryStore(0)}), TTLs{Profile: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := cached.Profile(ctx); err != nil {
			t.Fatalf("Profile() error = %v", err)
		}
	}
	if got := api.profileCalls.Load(); got != 1 {
		t.Fatalf("expected a single remote fetch, got %d", got)
	}

	if _, err := cached.UpdateProfile(ctx, Profile{DisplayName: "Avery B"}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if _, err := cached.Profile(ctx); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if got := api.profileCalls.Load(); got != 2 {
		t.Fatalf("expected update to invalidate the cached profile, got %d fetches", got)
	}
}

func TestCachedThreadsOrganizesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	client, api := newTestClient(t)
	_, _ = client.Login(ctx, "Avery")
	cached := NewCached(client, cache.New(cache.Config{}), TTLs{Comments: time.Minute})

	roots, err := cached.Threads(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Threads() error = %v", err)
	}
	if len(roots) != 1 || len(roots[0].Replies) != 1 {
		t.Fatalf("unexpected forest %+v", roots)
	}
	if _, err := cached.Threads(ctx, "doc-1"); err != nil {
		t.Fatalf("Threads() error = %v", err)
	}
	if got := api.commentCalls.Load(); got != 1 {
		t.Fatalf("expected cached comments, got %d fetches", got)
	}

	if _, err := cached.AddComment(ctx, "doc-1", "cmt_1", "Agreed"); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if _, err := cached.Threads(ctx, "doc-1"); err != nil {
		t.Fatalf("Threads() error = %v", err)
	}
	if got := api.commentCalls.Load(); got != 2 {
		t.Fatalf("expected AddComment to invalidate comments, got %d fetches", got)
	}
}

func TestCachedTemplates(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	_, _ = client.Login(ctx, "Avery")
	cached := NewCached(client, cache.New(cache.Config{}), TTLs{})

	templates, err := cached.Templates(ctx)
	if err != nil || len(templates) != 1 || templates[0].ID != "tpl_nda" {
		t.Fatalf("Templates() = %+v, %v", templates, err)
	}
}

func TestCachedProfileFollowsTheSignedInUser(t *testing.T) {
	cases := []struct {
		name        string
		clearHook   bool
		wantFetches int32
	}{
		{name: "clear hook wired", clearHook: true, wantFetches: 2},
		{name: "user scoped keys alone", clearHook: false, wantFetches: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			client, api := newTestClient(t)
			c := cache.New(cache.Config{Store: durable.NewMemoryStore(0)})
			if tc.clearHook {
				client.Session().OnClear(func() { c.Clear(ctx) })
			}
			cached := NewCached(client, c, TTLs{Profile: time.Hour})

			for _, name := range []string{"Avery", "Casey"} {
				if _, err := client.Login(ctx, name); err != nil {
					t.Fatalf("Login(%s) error = %v", name, err)
				}
				profile, err := cached.Profile(ctx)
				if err != nil {
					t.Fatalf("Profile() as %s error = %v", name, err)
				}
				if profile.DisplayName != name {
					t.Fatalf("signed in as %s but got %s's profile", name, profile.DisplayName)
				}
			}
			if got := api.profileCalls.Load(); got != tc.wantFetches {
				t.Fatalf("expected %d fetches, got %d", tc.wantFetches, got)
			}
		})
	}
}

func TestLoginAsSameUserKeepsCache(t *testing.T) {
	ctx := context.Background()
	client, api := newTestClient(t)
	c := cache.New(cache.Config{})
	client.Session().OnClear(func() { c.Clear(ctx) })
	cached := NewCached(client, c, TTLs{Profile: time.Hour})

	creds, err := client.Login(ctx, "Avery")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := cached.Profile(ctx); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	creds.ExpiresAt = creds.ExpiresAt.Add(time.Hour)
	client.Session().Issue(creds)
	if _, err := cached.Profile(ctx); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if got := api.profileCalls.Load(); got != 1 {
		t.Fatalf("extending the same session must keep cached reads, got %d fetches", got)
	}
}
