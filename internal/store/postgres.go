package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE display_name = $1`, name).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	// A concurrent login for the same name wins the insert; read its row back.
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name)
		VALUES ($1)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, created_at
	`, name).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// GetProfile returns the stored profile, or one derived from the user row
// when the user has never saved a profile.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, COALESCE(p.display_name, u.display_name), COALESCE(p.title, ''), COALESCE(p.company, ''), COALESCE(p.updated_at, u.created_at)
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id=$1
	`, userID).Scan(&profile.UserID, &profile.DisplayName, &profile.Title, &profile.Company, &profile.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, profile Profile) (Profile, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (user_id, display_name, title, company)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET display_name=EXCLUDED.display_name, title=EXCLUDED.title, company=EXCLUDED.company, updated_at=NOW()
		RETURNING updated_at
	`, profile.UserID, profile.DisplayName, profile.Title, profile.Company).Scan(&profile.UpdatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, snapshot_json::text, sort_order
		FROM templates
		ORDER BY sort_order ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		var item Template
		var snapshot string
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &snapshot, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		item.Snapshot = json.RawMessage(snapshot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	var snapshot string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, snapshot_json::text, revision, updated_by_name, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &snapshot, &item.Revision, &item.UpdatedBy, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	item.Snapshot = json.RawMessage(snapshot)
	return item, nil
}

// SaveDocument creates or replaces the document snapshot. The revision only
// advances when the stored JSON actually changes.
func (s *PostgresStore) SaveDocument(ctx context.Context, documentID string, snapshot json.RawMessage, updatedBy string) (Document, error) {
	item := Document{ID: documentID}
	var stored string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, snapshot_json, updated_by_name)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (id) DO UPDATE
		SET snapshot_json=EXCLUDED.snapshot_json, updated_by_name=EXCLUDED.updated_by_name
		RETURNING snapshot_json::text, revision, updated_by_name, updated_at
	`, documentID, string(snapshot), updatedBy).Scan(&stored, &item.Revision, &item.UpdatedBy, &item.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("save document: %w", err)
	}
	item.Snapshot = json.RawMessage(stored)
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, COALESCE(parent_id, ''), author_name, body, resolved, created_at
		FROM comments
		WHERE document_id=$1
		ORDER BY created_at ASC, id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.ParentID,
			&item.AuthorName,
			&item.Body,
			&item.Resolved,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, document_id, parent_id, author_name, body)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING created_at
	`, comment.ID, comment.DocumentID, comment.ParentID, comment.AuthorName, comment.Body).Scan(&comment.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

func (s *PostgresStore) SetCommentResolved(ctx context.Context, documentID, commentID string, resolved bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET resolved=$3
		WHERE document_id=$1 AND id=$2
	`, documentID, commentID, resolved)
	if err != nil {
		return false, fmt.Errorf("resolve comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve comment rows: %w", err)
	}
	return affected > 0, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
