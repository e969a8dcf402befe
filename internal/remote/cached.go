package remote

import (
	"context"
	"time"

	"proposalsync/internal/cache"
	"proposalsync/internal/threads"
)

const templatesKey = "templates"

// profileKey is scoped to the signed-in user.
func (c *Cached) profileKey() string {
	creds, _ := c.client.session.Current()
	return "profile:" + creds.UserID
}

func commentsKey(documentKey string) string {
	return "comments:" + documentKey
}

type TTLs struct {
	Profile   time.Duration
	Templates time.Duration
	Comments  time.Duration
}

// Cached serves the read endpoints through a tiered cache and invalidates the
// matching entries on writes.
type Cached struct {
	client *Client
	cache  *cache.Cache
	ttls   TTLs
}

func NewCached(client *Client, c *cache.Cache, ttls TTLs) *Cached {
	return &Cached{client: client, cache: c, ttls: ttls}
}

func (c *Cached) Client() *Client {
	return c.client
}

func (c *Cached) Profile(ctx context.Context) (Profile, error) {
	return cache.GetOrFetch(ctx, c.cache, c.profileKey(), c.client.Profile, cache.WithTTL(c.ttls.Profile))
}

func (c *Cached) Templates(ctx context.Context) ([]Template, error) {
	return cache.GetOrFetch(ctx, c.cache, templatesKey, c.client.Templates, cache.WithTTL(c.ttls.Templates))
}

// Threads returns the document's comment forest. The flat list is cached; the
// forest is rebuilt on every call.
func (c *Cached) Threads(ctx context.Context, documentKey string) ([]*threads.Comment, error) {
	comments, err := cache.GetOrFetch(ctx, c.cache, commentsKey(documentKey), func(ctx context.Context) ([]threads.Comment, error) {
		return c.client.Comments(ctx, documentKey)
	}, cache.WithTTL(c.ttls.Comments))
	if err != nil {
		return nil, err
	}
	return threads.Organize(comments), nil
}

func (c *Cached) UpdateProfile(ctx context.Context, profile Profile) (Profile, error) {
	updated, err := c.client.UpdateProfile(ctx, profile)
	if err != nil {
		return Profile{}, err
	}
	c.cache.Invalidate(ctx, c.profileKey())
	return updated, nil
}

func (c *Cached) AddComment(ctx context.Context, documentKey, parentID, content string) (threads.Comment, error) {
	comment, err := c.client.AddComment(ctx, documentKey, parentID, content)
	if err != nil {
		return threads.Comment{}, err
	}
	c.cache.Invalidate(ctx, commentsKey(documentKey))
	return comment, nil
}
