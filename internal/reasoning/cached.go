package reasoning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/copilot/internal/cache"
)

// Cached serves repeated prompts from a cache. Only successful replies are stored.
type Cached struct {
	inner  LM
	store  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps inner with the given cache and entry TTL.
func NewCached(inner LM, store cache.Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, store: store, ttl: ttl, logger: logger}
}

// Name returns the wrapped backend's name.
func (c *Cached) Name() string {
	return c.inner.Name()
}

// Generate returns the cached reply for an identical prompt, or calls through.
// Cache errors are logged and never fail the call.
func (c *Cached) Generate(ctx context.Context, p Prompt) (string, error) {
	key := CacheKey(c.inner.Name(), p)

	data, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		c.logger.DebugContext(ctx, "reasoning cache hit", "task", p.Task)
		return string(data), nil
	case !errors.Is(err, cache.ErrMiss):
		c.logger.WarnContext(ctx, "reasoning cache read failed", "task", p.Task, "error", err)
	}

	reply, err := c.inner.Generate(ctx, p)
	if err != nil {
		return "", err
	}
	if err := c.store.Set(ctx, key, []byte(reply), c.ttl); err != nil {
		c.logger.WarnContext(ctx, "reasoning cache write failed", "task", p.Task, "error", err)
	}
	return reply, nil
}

// Forget drops the stored reply for p. Callers use it when a served reply
// turns out to be unparseable.
func (c *Cached) Forget(ctx context.Context, p Prompt) {
	if err := c.store.Delete(ctx, CacheKey(c.inner.Name(), p)); err != nil {
		c.logger.WarnContext(ctx, "reasoning cache delete failed", "task", p.Task, "error", err)
	}
}

// CacheKey is "<task>:<sha256(backend, system, user)>".
func CacheKey(backend string, p Prompt) string {
	h := sha256.New()
	h.Write([]byte(backend))
	h.Write([]byte{0})
	h.Write([]byte(p.System))
	h.Write([]byte{0})
	h.Write([]byte(p.User))
	return p.Task + ":" + hex.EncodeToString(h.Sum(nil))
}

var (
	_ LM        = (*Cached)(nil)
	_ Forgetter = (*Cached)(nil)
)
