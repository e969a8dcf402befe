package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"proposalsync/internal/auth"
	"proposalsync/internal/cache"
	"proposalsync/internal/config"
	"proposalsync/internal/gitrepo"
	"proposalsync/internal/store"
	"proposalsync/internal/threads"
	"proposalsync/internal/util"
)

const (
	maxSnapshotBytes = 2 << 20
	maxCommentLength = 4000
	historyLimit     = 50
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

type ProfileInput struct {
	DisplayName string `json:"displayName"`
	Title       string `json:"title"`
	Company     string `json:"company"`
}

type CommentInput struct {
	ParentID string `json:"parentId"`
	Content  string `json:"content"`
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	GetProfile(context.Context, string) (store.Profile, error)
	UpsertProfile(context.Context, store.Profile) (store.Profile, error)
	ListTemplates(context.Context) ([]store.Template, error)
	GetDocument(context.Context, string) (store.Document, error)
	SaveDocument(context.Context, string, json.RawMessage, string) (store.Document, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	SetCommentResolved(context.Context, string, string, bool) (bool, error)
	Ping(ctx context.Context) error
}

type gitService interface {
	CommitSnapshot(string, json.RawMessage, string, string) (gitrepo.Commit, bool, error)
	History(string, int) ([]gitrepo.Commit, error)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	git    gitService
	cache  *cache.Cache
	logger *slog.Logger
}

// New wires the service. A nil cache gets a memory-only one.
func New(cfg config.Config, dataStore *store.PostgresStore, gitService *gitrepo.Service, c *cache.Cache, logger *slog.Logger) *Service {
	return newService(cfg, dataStore, gitService, c, logger)
}

func newService(cfg config.Config, dataStore dataStore, gitService gitService, c *cache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.New(cache.Config{Namespace: cfg.CacheNamespace, Logger: logger})
	}
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		git:    gitService,
		cache:  c,
		logger: logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, validationError("name is required", nil)
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	claims := auth.NewClaims(user.ID, user.DisplayName, util.NewID("jti"), time.Now(), s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), claims)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
}

func profileKey(userID string) string {
	return "profile:" + userID
}

func commentsKey(documentID string) string {
	return "comments:" + documentID
}

const templatesKey = "templates"

func (s *Service) Profile(ctx context.Context, session Session) (map[string]any, error) {
	profile, err := cache.GetOrFetch(ctx, s.cache, profileKey(session.UserID), func(ctx context.Context) (store.Profile, error) {
		return s.store.GetProfile(ctx, session.UserID)
	}, cache.WithTTL(s.cfg.ProfileTTL))
	if err != nil {
		return nil, err
	}
	return profilePayload(profile), nil
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input ProfileInput) (map[string]any, error) {
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		return nil, validationError("displayName is required", nil)
	}
	updated, err := s.store.UpsertProfile(ctx, store.Profile{
		UserID:      session.UserID,
		DisplayName: displayName,
		Title:       strings.TrimSpace(input.Title),
		Company:     strings.TrimSpace(input.Company),
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, profileKey(session.UserID))
	return profilePayload(updated), nil
}

func profilePayload(profile store.Profile) map[string]any {
	return map[string]any{
		"userId":      profile.UserID,
		"displayName": profile.DisplayName,
		"title":       profile.Title,
		"company":     profile.Company,
		"updatedAt":   profile.UpdatedAt,
	}
}

func (s *Service) Templates(ctx context.Context) (map[string]any, error) {
	templates, err := cache.GetOrFetch(ctx, s.cache, templatesKey, s.store.ListTemplates, cache.WithTTL(s.cfg.TemplatesTTL))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(templates))
	for _, tpl := range templates {
		items = append(items, map[string]any{
			"id":          tpl.ID,
			"name":        tpl.Name,
			"description": tpl.Description,
			"snapshot":    tpl.Snapshot,
		})
	}
	return map[string]any{"items": items}, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return documentPayload(doc), nil
}

// SaveDocument stores the snapshot and records it in the document history
// when its content changed. History failures are logged; the database row is
// the source of truth.
func (s *Service) SaveDocument(ctx context.Context, session Session, documentID string, snapshot json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(snapshot)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "snapshot must be valid JSON", nil)
	}
	if len(trimmed) > maxSnapshotBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "SNAPSHOT_TOO_LARGE", "Snapshot is too large", map[string]any{"maxBytes": maxSnapshotBytes})
	}

	doc, err := s.store.SaveDocument(ctx, documentID, json.RawMessage(trimmed), session.UserName)
	if err != nil {
		return nil, err
	}

	payload := documentPayload(doc)
	commit, committed, err := s.git.CommitSnapshot(documentID, doc.Snapshot, session.UserName, fmt.Sprintf("Revision %d", doc.Revision))
	if err != nil {
		s.logger.Warn("snapshot history commit failed", "document_id", documentID, "err", err)
		return payload, nil
	}
	payload["commit"] = commit.Hash
	payload["committed"] = committed
	return payload, nil
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":        doc.ID,
		"snapshot":  doc.Snapshot,
		"revision":  doc.Revision,
		"updatedBy": doc.UpdatedBy,
		"updatedAt": doc.UpdatedAt,
	}
}

func (s *Service) History(ctx context.Context, documentID string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	commits, err := s.git.History(documentID, historyLimit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": commits}, nil
}

// Comments returns the flat comment list and the number of open threads.
func (s *Service) Comments(ctx context.Context, documentID string) (map[string]any, error) {
	comments, err := s.comments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	roots := threads.Organize(comments)
	return map[string]any{
		"items":       comments,
		"threadCount": len(roots),
		"openThreads": threads.OpenCount(roots),
	}, nil
}

func (s *Service) comments(ctx context.Context, documentID string) ([]threads.Comment, error) {
	return cache.GetOrFetch(ctx, s.cache, commentsKey(documentID), func(ctx context.Context) ([]threads.Comment, error) {
		if _, err := s.store.GetDocument(ctx, documentID); err != nil {
			return nil, err
		}
		rows, err := s.store.ListComments(ctx, documentID)
		if err != nil {
			return nil, err
		}
		items := make([]threads.Comment, 0, len(rows))
		for _, row := range rows {
			items = append(items, toThreadComment(row))
		}
		return items, nil
	}, cache.WithTTL(s.cfg.CommentsTTL))
}

func (s *Service) AddComment(ctx context.Context, session Session, documentID string, input CommentInput) (threads.Comment, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return threads.Comment{}, validationError("content is required", nil)
	}
	if len(content) > maxCommentLength {
		return threads.Comment{}, validationError("content is too long", map[string]any{"maxLength": maxCommentLength})
	}

	parentID := strings.TrimSpace(input.ParentID)
	if parentID != "" {
		existing, err := s.comments(ctx, documentID)
		if err != nil {
			return threads.Comment{}, err
		}
		if !containsComment(existing, parentID) {
			return threads.Comment{}, domainError(http.StatusUnprocessableEntity, "PARENT_NOT_FOUND", "Parent comment not found", map[string]any{"parentId": parentID})
		}
	} else if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return threads.Comment{}, err
	}

	created, err := s.store.InsertComment(ctx, store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		ParentID:   parentID,
		AuthorName: session.UserName,
		Body:       content,
	})
	if err != nil {
		return threads.Comment{}, err
	}
	s.cache.Invalidate(ctx, commentsKey(documentID))
	return toThreadComment(created), nil
}

func (s *Service) SetCommentResolved(ctx context.Context, documentID, commentID string, resolved bool) (map[string]any, error) {
	ok, err := s.store.SetCommentResolved(ctx, documentID, commentID, resolved)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("Comment not found")
	}
	s.cache.Invalidate(ctx, commentsKey(documentID))
	return map[string]any{"id": commentID, "resolved": resolved}, nil
}

// PurgeCache drops expired cache entries until ctx is done.
func (s *Service) PurgeCache(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.cache.Purge(ctx); removed > 0 {
				s.logger.Info("cache purge", "removed", removed)
			}
		}
	}
}

func toThreadComment(row store.Comment) threads.Comment {
	return threads.Comment{
		ID:         row.ID,
		ParentID:   row.ParentID,
		AuthorName: row.AuthorName,
		Content:    row.Body,
		CreatedAt:  row.CreatedAt,
		Resolved:   row.Resolved,
	}
}

func containsComment(comments []threads.Comment, id string) bool {
	for _, comment := range comments {
		if comment.ID == id {
			return true
		}
	}
	return false
}
