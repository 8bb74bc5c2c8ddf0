package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/scim"
	"github.com/openidx/scim-engine/internal/scim/filter"
)

type memoryKey struct {
	domain string
	rt     scim.ResourceType
}

type record struct {
	data         []byte
	passwordHash string
	revision     int64
	uniqueKey    string
	seq          uint64
}

// MemoryStore is an in-process Repository, used for tests and single node
// deployments without PostgreSQL
type MemoryStore struct {
	mu      sync.RWMutex
	records map[memoryKey]map[string]*record
	seq     uint64
	filters *filter.Engine
}

// NewMemoryStore creates an empty in-memory repository
func NewMemoryStore(filters *filter.Engine) *MemoryStore {
	return &MemoryStore{
		records: make(map[memoryKey]map[string]*record),
		filters: filters,
	}
}

// Create inserts r, rejecting a unique key already used in the domain
func (s *MemoryStore) Create(ctx context.Context, domain string, r scim.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{domain: domain, rt: r.ResourceType()}
	bucket := s.records[key]
	if bucket == nil {
		bucket = make(map[string]*record)
		s.records[key] = bucket
	}
	if _, exists := bucket[r.GetID()]; exists {
		return errors.Internal("Resource id collision", fmt.Errorf("id %s already stored", r.GetID()))
	}
	if s.keyTaken(bucket, r.UniqueKey(), "") {
		return duplicate(r)
	}

	ensureMeta(r).Revision = 1
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Internal("Failed to encode resource", err)
	}

	s.seq++
	bucket[r.GetID()] = &record{
		data:         data,
		passwordHash: passwordHash(r),
		revision:     1,
		uniqueKey:    r.UniqueKey(),
		seq:          s.seq,
	}
	return nil
}

// Get loads one resource
func (s *MemoryStore) Get(ctx context.Context, domain string, rt scim.ResourceType, id string) (scim.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[memoryKey{domain: domain, rt: rt}][id]
	if !ok {
		return nil, notFound(rt, id)
	}
	return decodeRecord(rt, rec)
}

// Update replaces a resource if its revision is unchanged since it was read
func (s *MemoryStore) Update(ctx context.Context, domain string, r scim.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.records[memoryKey{domain: domain, rt: r.ResourceType()}]
	rec, ok := bucket[r.GetID()]
	if !ok {
		return notFound(r.ResourceType(), r.GetID())
	}
	if rec.revision != ensureMeta(r).Revision {
		return ErrRevisionConflict
	}
	if s.keyTaken(bucket, r.UniqueKey(), r.GetID()) {
		return duplicate(r)
	}

	r.GetMeta().Revision = rec.revision + 1
	data, err := json.Marshal(r)
	if err != nil {
		r.GetMeta().Revision = rec.revision
		return errors.Internal("Failed to encode resource", err)
	}

	rec.data = data
	rec.revision++
	rec.uniqueKey = r.UniqueKey()
	rec.passwordHash = passwordHash(r)
	return nil
}

// Delete removes a resource for good
func (s *MemoryStore) Delete(ctx context.Context, domain string, rt scim.ResourceType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.records[memoryKey{domain: domain, rt: rt}]
	if _, ok := bucket[id]; !ok {
		return notFound(rt, id)
	}
	delete(bucket, id)
	return nil
}

// List evaluates the filter over every resource of the type in insertion order
func (s *MemoryStore) List(ctx context.Context, domain string, rt scim.ResourceType, q ListQuery) ([]scim.Resource, int, error) {
	s.mu.RLock()
	bucket := s.records[memoryKey{domain: domain, rt: rt}]
	recs := make([]*record, 0, len(bucket))
	for _, rec := range bucket {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	matched := make([]*record, 0, len(recs))
	for _, rec := range recs {
		if q.Filter != nil {
			var attrs map[string]any
			if err := json.Unmarshal(rec.data, &attrs); err != nil {
				return nil, 0, errors.Internal("Failed to decode resource", err)
			}
			if !s.filters.Matches(q.Filter, attrs) {
				continue
			}
		}
		matched = append(matched, rec)
	}

	start, end := page(len(matched), q.StartIndex, q.Count)
	out := make([]scim.Resource, 0, end-start)
	for _, rec := range matched[start:end] {
		res, err := decodeRecord(rt, rec)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, res)
	}
	return out, len(matched), nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) keyTaken(bucket map[string]*record, uniqueKey, exceptID string) bool {
	for id, rec := range bucket {
		if id != exceptID && rec.uniqueKey == uniqueKey {
			return true
		}
	}
	return false
}

func decodeRecord(rt scim.ResourceType, rec *record) (scim.Resource, error) {
	res, err := scim.NewResource(rt)
	if err != nil {
		return nil, errors.Internal("Unknown resource type", err)
	}
	if err := json.Unmarshal(rec.data, res); err != nil {
		return nil, errors.Internal("Failed to decode resource", err)
	}
	if res.GetMeta() == nil {
		res.SetMeta(&scim.Meta{})
	}
	res.GetMeta().Revision = rec.revision
	setPasswordHash(res, rec.passwordHash)
	return res, nil
}
