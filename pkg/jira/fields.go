package jira

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FieldIndex is an immutable lookup over the tracker's field metadata.
type FieldIndex struct {
	fields []Field
	byID   map[string]Field
	byName map[string][]string
}

// NewFieldIndex indexes fields by id and by case-insensitive name.
func NewFieldIndex(fields []Field) *FieldIndex {
	idx := &FieldIndex{
		fields: fields,
		byID:   make(map[string]Field, len(fields)),
		byName: make(map[string][]string, len(fields)),
	}
	for _, f := range fields {
		idx.byID[f.ID] = f
		name := strings.ToLower(strings.TrimSpace(f.Name))
		if name != "" {
			idx.byName[name] = append(idx.byName[name], f.ID)
		}
	}
	return idx
}

// Fields returns all fields in tracker order.
func (x *FieldIndex) Fields() []Field {
	return x.fields
}

// Len returns the number of indexed fields.
func (x *FieldIndex) Len() int {
	return len(x.fields)
}

// ResolveName maps a display name to a field id. Names that match no field,
// or more than one, do not resolve.
func (x *FieldIndex) ResolveName(name string) (string, bool) {
	if x == nil {
		return "", false
	}
	ids := x.byName[strings.ToLower(strings.TrimSpace(name))]
	if len(ids) != 1 {
		return "", false
	}
	return ids[0], true
}

// DisplayName returns the field's name, or id when unknown.
func (x *FieldIndex) DisplayName(id string) string {
	if x != nil {
		if f, ok := x.byID[id]; ok && f.Name != "" {
			return f.Name
		}
	}
	return id
}

// FieldCache holds the field index for the process lifetime, reloading it
// whole after ttl. Concurrent reloads are collapsed into one request. A failed
// load is remembered for failTTL so callers that treat metadata as optional do
// not each pay the client's full retry schedule while the endpoint is down.
type FieldCache struct {
	load    func(ctx context.Context) ([]Field, error)
	ttl     time.Duration
	failTTL time.Duration

	mu       sync.RWMutex
	index    *FieldIndex
	loadedAt time.Time
	lastErr  error
	failedAt time.Time

	group   singleflight.Group
	nowFunc func() time.Time
}

// NewFieldCache creates a cache around load.
func NewFieldCache(load func(ctx context.Context) ([]Field, error), ttl time.Duration) *FieldCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FieldCache{load: load, ttl: ttl, failTTL: defaultFieldFailTTL, nowFunc: time.Now}
}

const defaultFieldFailTTL = time.Minute

// Index returns the cached index, loading it when missing or expired. When a
// reload fails and an older index exists, the older index is returned. The
// load itself is detached from ctx; a caller whose ctx ends stops waiting
// without failing the other waiters.
func (fc *FieldCache) Index(ctx context.Context) (*FieldIndex, error) {
	fc.mu.RLock()
	idx, at := fc.index, fc.loadedAt
	lastErr, failedAt := fc.lastErr, fc.failedAt
	fc.mu.RUnlock()

	now := fc.nowFunc()
	if idx != nil && now.Sub(at) < fc.ttl {
		return idx, nil
	}
	if lastErr != nil && now.Sub(failedAt) < fc.failTTL {
		if idx != nil {
			return idx, nil
		}
		return nil, eris.Wrap(lastErr, "jira: field metadata recently unavailable")
	}

	ch := fc.group.DoChan("fields", func() (any, error) {
		fields, err := fc.load(context.WithoutCancel(ctx))
		fc.mu.Lock()
		defer fc.mu.Unlock()
		if err != nil {
			fc.lastErr = err
			fc.failedAt = fc.nowFunc()
			return nil, err
		}
		fresh := NewFieldIndex(fields)
		fc.index = fresh
		fc.loadedAt = fc.nowFunc()
		fc.lastErr = nil
		fc.failedAt = time.Time{}
		zap.L().Debug("jira: field metadata loaded", zap.Int("fields", fresh.Len()))
		return fresh, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		if idx != nil {
			zap.L().Warn("jira: field metadata reload failed, serving stale index", zap.Error(res.Err))
			return idx, nil
		}
		return nil, res.Err
	}
	return res.Val.(*FieldIndex), nil
}
