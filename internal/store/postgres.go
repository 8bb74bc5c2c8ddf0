package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/scim"
	"github.com/openidx/scim-engine/internal/scim/filter"
)

const uniqueKeyConstraint = "scim_resources_unique_key"

// PostgresStore keeps every resource as one jsonb row in scim_resources.
// List filters are pushed down as SQL over the document.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a repository on an open pool. The schema is
// managed by RunMigrations.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger.With(zap.String("component", "postgres-store"))}
}

// Create inserts r; the unique constraint rejects a duplicate userName or
// displayName within the domain
func (s *PostgresStore) Create(ctx context.Context, domain string, r scim.Resource) error {
	meta := ensureMeta(r)
	meta.Revision = 1
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Internal("Failed to encode resource", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scim_resources (domain, resource_type, id, unique_key, data, password_hash, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
	`, domain, string(r.ResourceType()), r.GetID(), r.UniqueKey(), data, passwordHash(r), meta.Created, meta.LastModified)
	if err != nil {
		if isUniqueViolation(err, uniqueKeyConstraint) {
			return duplicate(r)
		}
		return errors.Internal("Failed to create resource", err)
	}
	return nil
}

// Get loads one resource
func (s *PostgresStore) Get(ctx context.Context, domain string, rt scim.ResourceType, id string) (scim.Resource, error) {
	var (
		data     []byte
		hash     string
		revision int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT data, password_hash, revision FROM scim_resources
		WHERE domain = $1 AND resource_type = $2 AND id = $3
	`, domain, string(rt), id).Scan(&data, &hash, &revision)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(rt, id)
		}
		return nil, errors.Internal("Failed to load resource", err)
	}
	return decodeRecord(rt, &record{data: data, passwordHash: hash, revision: revision})
}

// Update writes r if the stored revision still equals r's
func (s *PostgresStore) Update(ctx context.Context, domain string, r scim.Resource) error {
	meta := ensureMeta(r)
	expected := meta.Revision
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Internal("Failed to encode resource", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE scim_resources
		SET unique_key = $4, data = $5, password_hash = $6, revision = revision + 1, updated_at = $7
		WHERE domain = $1 AND resource_type = $2 AND id = $3 AND revision = $8
	`, domain, string(r.ResourceType()), r.GetID(), r.UniqueKey(), data, passwordHash(r), meta.LastModified, expected)
	if err != nil {
		if isUniqueViolation(err, uniqueKeyConstraint) {
			return duplicate(r)
		}
		return errors.Internal("Failed to update resource", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM scim_resources WHERE domain = $1 AND resource_type = $2 AND id = $3)
		`, domain, string(r.ResourceType()), r.GetID()).Scan(&exists)
		if err != nil {
			return errors.Internal("Failed to update resource", err)
		}
		if !exists {
			return notFound(r.ResourceType(), r.GetID())
		}
		s.logger.Debug("Revision conflict",
			zap.String("domain", domain),
			zap.String("id", r.GetID()),
			zap.Int64("expected_revision", expected))
		return ErrRevisionConflict
	}

	meta.Revision = expected + 1
	return nil
}

// Delete removes a resource for good
func (s *PostgresStore) Delete(ctx context.Context, domain string, rt scim.ResourceType, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM scim_resources WHERE domain = $1 AND resource_type = $2 AND id = $3
	`, domain, string(rt), id)
	if err != nil {
		return errors.Internal("Failed to delete resource", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(rt, id)
	}
	return nil
}

// List runs the filter as a jsonb query and returns one page in creation order
func (s *PostgresStore) List(ctx context.Context, domain string, rt scim.ResourceType, q ListQuery) ([]scim.Resource, int, error) {
	where := "domain = $1 AND resource_type = $2"
	args := []interface{}{domain, string(rt)}

	if q.Filter != nil {
		sf, err := filter.ToSQL(q.Filter, "data", len(args)+1, filter.SchemaResolver(rt.Definition()))
		if err != nil {
			return nil, 0, errors.InvalidSyntax(fmt.Sprintf("Invalid filter [%s]: %v", q.Filter, err))
		}
		where += " AND " + sf.WhereClause
		args = append(args, sf.Args...)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM scim_resources WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Internal("Failed to count resources", err)
	}

	offset := q.StartIndex - 1
	if offset < 0 {
		offset = 0
	}
	if q.Count <= 0 || offset >= total {
		return []scim.Resource{}, total, nil
	}

	query := fmt.Sprintf("SELECT data, password_hash, revision FROM scim_resources WHERE %s ORDER BY created_at, id LIMIT $%d OFFSET $%d",
		where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, q.Count, offset)...)
	if err != nil {
		return nil, 0, errors.Internal("Failed to list resources", err)
	}
	defer rows.Close()

	out := make([]scim.Resource, 0, q.Count)
	for rows.Next() {
		var rec record
		if err := rows.Scan(&rec.data, &rec.passwordHash, &rec.revision); err != nil {
			return nil, 0, errors.Internal("Failed to scan resource", err)
		}
		res, err := decodeRecord(rt, &rec)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Internal("Failed to list resources", err)
	}
	return out, total, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
