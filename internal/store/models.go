package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

type Profile struct {
	UserID      string
	DisplayName string
	Title       string
	Company     string
	UpdatedAt   time.Time
}

type Template struct {
	ID          string
	Name        string
	Description string
	Snapshot    json.RawMessage
	SortOrder   int
}

type Document struct {
	ID        string
	Snapshot  json.RawMessage
	Revision  int64
	UpdatedBy string
	UpdatedAt time.Time
}

type Comment struct {
	ID         string
	DocumentID string
	ParentID   string
	AuthorName string
	Body       string
	Resolved   bool
	CreatedAt  time.Time
}
