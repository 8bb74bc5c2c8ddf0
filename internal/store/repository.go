// Package store provides the domain scoped SCIM resource repositories
package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/scim"
	"github.com/openidx/scim-engine/internal/scim/filter"
)

// ErrRevisionConflict is returned by Update when the stored revision no
// longer matches the one the caller read
var ErrRevisionConflict = stderrors.New("store: revision conflict")

// ListQuery selects one page of resources
type ListQuery struct {
	Filter *filter.Expression
	// StartIndex is 1-based
	StartIndex int
	// Count of zero or less selects an empty page
	Count int
}

// Repository persists SCIM resources partitioned by domain. Create checks
// uniqueness and inserts atomically; Update is a compare-and-set on the
// revision carried in the resource's meta.
type Repository interface {
	Create(ctx context.Context, domain string, r scim.Resource) error
	Get(ctx context.Context, domain string, rt scim.ResourceType, id string) (scim.Resource, error)
	Update(ctx context.Context, domain string, r scim.Resource) error
	Delete(ctx context.Context, domain string, rt scim.ResourceType, id string) error
	// List returns the requested page and the total number of matches
	List(ctx context.Context, domain string, rt scim.ResourceType, q ListQuery) ([]scim.Resource, int, error)
	Ping(ctx context.Context) error
	Close() error
}

func notFound(rt scim.ResourceType, id string) error {
	return errors.NotFound(fmt.Sprintf("%s [%s] not found", rt, id))
}

func duplicate(r scim.Resource) error {
	switch r.ResourceType() {
	case scim.ResourceUser:
		return errors.Uniqueness(fmt.Sprintf("User with username [%s] already exists", r.UniqueKey()))
	default:
		return errors.Uniqueness(fmt.Sprintf("Group with name [%s] already exists", r.UniqueKey()))
	}
}

func ensureMeta(r scim.Resource) *scim.Meta {
	if r.GetMeta() == nil {
		r.SetMeta(&scim.Meta{ResourceType: string(r.ResourceType())})
	}
	return r.GetMeta()
}

func passwordHash(r scim.Resource) string {
	if ph, ok := r.(scim.PasswordHolder); ok {
		return ph.PasswordHash()
	}
	return ""
}

func setPasswordHash(r scim.Resource, hash string) {
	if ph, ok := r.(scim.PasswordHolder); ok {
		ph.SetPasswordHash(hash)
	}
}

// page converts a 1-based start index and count into slice bounds
func page(total, startIndex, count int) (int, int) {
	start := startIndex - 1
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	if count < 0 {
		count = 0
	}
	end := start + count
	if end > total {
		end = total
	}
	return start, end
}
