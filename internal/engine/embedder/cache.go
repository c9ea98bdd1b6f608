package embedder

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// Cached wraps an Embedder with a memory cache and an optional disk cache.
// Because embedding is a pure function of the text, a cache hit is always
// equivalent to recomputation. Keys include the model identifier so caches
// from different models never mix.
type Cached struct {
	inner   Embedder
	modelID string
	dir     string // "" disables the disk layer

	mu  sync.RWMutex
	mem map[string][]float32
}

// NewCached wraps inner with caching. dir may be empty for memory-only.
func NewCached(inner Embedder, modelID, dir string) (*Cached, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("embed cache: %w", err)
		}
	}
	return &Cached{
		inner:   inner,
		modelID: modelID,
		dir:     dir,
		mem:     make(map[string][]float32),
	}, nil
}

func (c *Cached) Dim() int { return c.inner.Dim() }

func (c *Cached) Close() error { return c.inner.Close() }

// Embed returns the cached vector for text, computing and storing it on miss.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch serves cached entries and computes only the misses, in a single
// inner batch call, preserving input order.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		key := c.key(text)
		if vec, ok := c.lookup(key); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			i := missIdx[j]
			out[i] = vec
			c.store(c.key(texts[i]), vec)
		}
	}
	return out, nil
}

// key derives the cache key from the model identifier and the exact text.
func (c *Cached) key(text string) string {
	h := sha1.Sum([]byte(c.modelID + "\x00" + text))
	return hex.EncodeToString(h[:])
}

func (c *Cached) lookup(key string) ([]float32, bool) {
	c.mu.RLock()
	vec, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		return cloneVec(vec), true
	}
	if c.dir == "" {
		return nil, false
	}
	vec, err := readVec(c.path(key))
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	c.mem[key] = vec
	c.mu.Unlock()
	return cloneVec(vec), true
}

func (c *Cached) store(key string, vec []float32) {
	c.mu.Lock()
	c.mem[key] = cloneVec(vec)
	c.mu.Unlock()
	if c.dir != "" {
		// Disk write failures are non-fatal; the memory layer still holds it.
		_ = writeVec(c.path(key), vec)
	}
}

func (c *Cached) path(key string) string {
	return filepath.Join(c.dir, key+".vec")
}

// Disk format: little-endian uint32 length, then length float32 values.

func writeVec(path string, vec []float32) error {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(f))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readVec(path string) ([]float32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("embed cache: truncated file %s", path)
	}
	n := binary.LittleEndian.Uint32(buf)
	if len(buf) != int(4+4*n) {
		return nil, fmt.Errorf("embed cache: corrupt file %s", path)
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4+i*4:]))
	}
	return vec, nil
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
