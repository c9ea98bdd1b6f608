package fallback

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/feldkamp/equimatch/internal/engine/catalog"
	"github.com/feldkamp/equimatch/internal/model"
)

// Cache stores validated service resolutions keyed by record summary text,
// so identical records never hit the service twice across runs.
type Cache interface {
	Get(text string) (key string, ok bool)
	Put(text, key string) error
}

// MemoryCache is an in-process Cache for tests and single-shot runs.
type MemoryCache struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string]string)}
}

func (c *MemoryCache) Get(text string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.m[text]
	return key, ok
}

func (c *MemoryCache) Put(text, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[text] = key
	return nil
}

// DefaultMaxAttempts bounds how often a record is re-asked after the
// service answers with a key that is not in the catalog.
const DefaultMaxAttempts = 3

// Resolver classifies leftover records through the external service. Every
// answer is validated against the catalog's heading keys; answers naming an
// unknown or non-heading key are retried up to the attempt limit.
type Resolver struct {
	client  *Client
	catalog *catalog.Catalog
	limiter *rate.Limiter
	cache   Cache
	log     *zap.Logger

	maxAttempts int
	outline     string // catalog outline sent with every request, built once
}

// NewResolver creates a Resolver. minInterval spaces out service calls; a
// zero or negative interval disables pacing. A nil cache defaults to an
// in-memory one, a nil logger to a no-op logger.
func NewResolver(client *Client, cat *catalog.Catalog, minInterval time.Duration, maxAttempts int, cache Cache, log *zap.Logger) *Resolver {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return &Resolver{
		client:      client,
		catalog:     cat,
		limiter:     limiter,
		cache:       cache,
		log:         log,
		maxAttempts: maxAttempts,
		outline:     cat.Outline(),
	}
}

type classifyRequest struct {
	Record  string `json:"record"`
	Catalog string `json:"catalog"`
}

type classifyResponse struct {
	Key string `json:"key"`
}

// Resolve maps one record to a catalog heading via the service. The cache
// is consulted first. The returned assignment is Unresolved when the
// service fails or keeps answering with invalid keys; the error is non-nil
// only for context cancellation.
func (r *Resolver) Resolve(ctx context.Context, rec model.Record) (model.HeadingAssignment, error) {
	summary := rec.SummaryText()

	if key, ok := r.cache.Get(summary); ok {
		if pos, ok := r.catalog.ResolveKey(key); ok {
			return r.assignment(rec.Index, pos), nil
		}
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return model.HeadingAssignment{}, err
		}

		var resp classifyResponse
		err := r.client.PostJSON(ctx, "/classify", classifyRequest{Record: summary, Catalog: r.outline}, &resp)
		if err != nil {
			if ctx.Err() != nil {
				return model.HeadingAssignment{}, ctx.Err()
			}
			r.log.Warn("classification service call failed",
				zap.Int("record", rec.Index), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		pos, ok := r.catalog.ResolveKey(resp.Key)
		if !ok {
			r.log.Warn("service answered with an unknown catalog key",
				zap.Int("record", rec.Index), zap.String("key", resp.Key), zap.Int("attempt", attempt))
			continue
		}

		if err := r.cache.Put(summary, resp.Key); err != nil {
			r.log.Warn("resolution cache write failed", zap.Error(err))
		}
		return r.assignment(rec.Index, pos), nil
	}

	r.log.Warn("record exhausted service attempts", zap.Int("record", rec.Index))
	return model.HeadingAssignment{
		RecordIndex:  rec.Index,
		HeadingIndex: -1,
		Provenance:   model.Unresolved,
	}, nil
}

// ResolveAll runs Resolve over every pending record in order. The limiter
// paces the calls; per-record failures leave that record unresolved without
// aborting the batch.
func (r *Resolver) ResolveAll(ctx context.Context, records []model.Record) ([]model.HeadingAssignment, error) {
	out := make([]model.HeadingAssignment, 0, len(records))
	resolved := 0
	for _, rec := range records {
		a, err := r.Resolve(ctx, rec)
		if err != nil {
			return nil, err
		}
		if a.Resolved() {
			resolved++
		}
		out = append(out, a)
	}
	r.log.Info("service classification complete",
		zap.Int("records", len(records)), zap.Int("resolved", resolved))
	return out, nil
}

type articleRequest struct {
	Record   string   `json:"record"`
	Articles []string `json:"articles"`
}

type articleResponse struct {
	Code string `json:"code"`
}

// ResolveArticle asks the service to pick the best article inside the
// heading's article run. An empty code means no usable answer; article
// resolution is best-effort and never retried beyond the transport layer.
func (r *Resolver) ResolveArticle(ctx context.Context, rec model.Record, headingPos int) (string, error) {
	articles := r.catalog.Articles(headingPos)
	if len(articles) == 0 {
		return "", nil
	}

	options := make([]string, len(articles))
	valid := make(map[string]bool, len(articles))
	for i, a := range articles {
		options[i] = a.ArticleCode + ": " + a.Description
		valid[a.ArticleCode] = true
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var resp articleResponse
	err := r.client.PostJSON(ctx, "/article", articleRequest{Record: rec.SummaryText(), Articles: options}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.log.Warn("article resolution failed", zap.Int("record", rec.Index), zap.Error(err))
		return "", nil
	}

	code := strings.TrimSpace(resp.Code)
	if !valid[code] {
		if code != "" {
			r.log.Warn("service answered with an article outside the heading run",
				zap.Int("record", rec.Index), zap.String("code", code))
		}
		return "", nil
	}
	return code, nil
}

func (r *Resolver) assignment(recordIndex, headingPos int) model.HeadingAssignment {
	return model.HeadingAssignment{
		RecordIndex:  recordIndex,
		HeadingIndex: headingPos,
		Provenance:   model.ByService,
	}
}
