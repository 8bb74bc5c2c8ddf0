// Package provisioning implements the SCIM 2.0 provisioning engine: the
// resource operations, the bulk orchestrator and their HTTP facade
package provisioning

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/auth"
	"github.com/openidx/scim-engine/internal/common/config"
	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/common/events"
	"github.com/openidx/scim-engine/internal/common/logger"
	"github.com/openidx/scim-engine/internal/metrics"
	"github.com/openidx/scim-engine/internal/scim"
	"github.com/openidx/scim-engine/internal/scim/filter"
	"github.com/openidx/scim-engine/internal/scim/patch"
	"github.com/openidx/scim-engine/internal/store"
)

const (
	serviceName = "scim-service"

	// maxWriteAttempts bounds the read-modify-write loop on revision conflicts
	maxWriteAttempts = 3
)

// Scope identifies who is acting on which domain. BaseURL prefixes every
// meta.location.
type Scope struct {
	Domain  string
	BaseURL string
	Actor   string
}

// ListParams are the query parameters of a list request, after clamping
type ListParams struct {
	Filter     string
	StartIndex int
	// Count is nil when the client did not send one
	Count *int
}

// ListResult is one page of a query
type ListResult struct {
	Total      int
	StartIndex int
	Resources  []scim.Resource
}

// Service implements the SCIM resource operations on top of a Repository
type Service struct {
	repo         store.Repository
	bus          events.Bus
	validator    *scim.Validator
	filters      *filter.Engine
	interpreters map[scim.ResourceType]*patch.Interpreter
	hasher       *auth.PasswordHasher
	config       *config.Config
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a new provisioning service. bus may be nil.
func NewService(repo store.Repository, bus events.Bus, cfg *config.Config, log *zap.Logger) *Service {
	filters := filter.NewEngine()
	return &Service{
		repo:      repo,
		bus:       bus,
		validator: scim.NewValidator(),
		filters:   filters,
		interpreters: map[scim.ResourceType]*patch.Interpreter{
			scim.ResourceUser:  patch.NewInterpreter(filters, scim.UserDefinition),
			scim.ResourceGroup: patch.NewInterpreter(filters, scim.GroupDefinition),
		},
		hasher: auth.NewPasswordHasher(),
		config: cfg,
		logger: log.With(zap.String("service", "provisioning")),
		now:    time.Now,
	}
}

// log returns the service logger carrying the request's trace context
func (s *Service) log(ctx context.Context) *zap.Logger {
	return logger.WithTraceContext(s.logger, ctx)
}

// WithPasswordHasher replaces the argon2id parameters used for passwords
func (s *Service) WithPasswordHasher(h *auth.PasswordHasher) *Service {
	s.hasher = h
	return s
}

// Create validates body and stores it as a new resource of type rt
func (s *Service) Create(ctx context.Context, scope Scope, rt scim.ResourceType, body []byte) (res scim.Resource, err error) {
	defer func() { metrics.RecordResourceOperation(string(rt), "create", err) }()

	res, err = s.decode(rt, body)
	if err != nil {
		return nil, err
	}
	if err := s.hashPassword(res, ""); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	res.SetID(uuid.New().String())
	res.SetMeta(&scim.Meta{
		ResourceType: string(rt),
		Created:      now,
		LastModified: now,
		Location:     scim.Location(scope.BaseURL, scope.Domain, rt, res.GetID()),
	})

	if err := s.repo.Create(ctx, scope.Domain, res); err != nil {
		return nil, err
	}

	s.log(ctx).Info("Created SCIM resource",
		zap.String("domain", scope.Domain),
		zap.String("resource_type", string(rt)),
		zap.String("id", res.GetID()))

	s.publish(ctx, scope, eventType(rt, "created"), res)
	if u, ok := res.(*scim.User); ok && u.IsPreRegistration() {
		s.publish(ctx, scope, events.EventUserPreRegistered, res)
	}
	return res, nil
}

// Get loads one resource
func (s *Service) Get(ctx context.Context, scope Scope, rt scim.ResourceType, id string) (res scim.Resource, err error) {
	defer func() { metrics.RecordResourceOperation(string(rt), "get", err) }()
	return s.repo.Get(ctx, scope.Domain, rt, id)
}

// Replace overwrites every editable attribute of a resource with body. The
// id, meta.created and a stored password hash survive when body omits them.
func (s *Service) Replace(ctx context.Context, scope Scope, rt scim.ResourceType, id string, body []byte) (res scim.Resource, err error) {
	defer func() { metrics.RecordResourceOperation(string(rt), "replace", err) }()

	if _, err := s.decode(rt, body); err != nil {
		return nil, err
	}

	res, err = s.mutate(ctx, scope, rt, id, func(current scim.Resource) (scim.Resource, error) {
		candidate, err := s.decode(rt, body)
		if err != nil {
			return nil, err
		}
		if err := s.hashPassword(candidate, passwordHashOf(current)); err != nil {
			return nil, err
		}
		return candidate, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, scope, eventType(rt, "updated"), res)
	return res, nil
}

// Patch applies a PatchOp body to a resource
func (s *Service) Patch(ctx context.Context, scope Scope, rt scim.ResourceType, id string, body []byte) (res scim.Resource, err error) {
	defer func() { metrics.RecordResourceOperation(string(rt), "patch", err) }()

	req, err := decodePatchRequest(body)
	if err != nil {
		return nil, err
	}
	interpreter := s.interpreters[rt]

	res, err = s.mutate(ctx, scope, rt, id, func(current scim.Resource) (scim.Resource, error) {
		attrs, err := scim.ToAttributes(current)
		if err != nil {
			return nil, errors.Internal("Failed to render resource", err)
		}
		patched, err := interpreter.Apply(attrs, req.Operations)
		recordPatchOps(req.Operations, err)
		if err != nil {
			return nil, err
		}

		candidate, err := scim.FromAttributes(rt, patched)
		if err != nil {
			return nil, errors.InvalidValue(fmt.Sprintf("The patched resource is not a valid %s", rt))
		}
		if err := s.validator.Validate(candidate); err != nil {
			return nil, err
		}
		candidate.NormalizeSchemas()
		if err := s.hashPassword(candidate, passwordHashOf(current)); err != nil {
			return nil, err
		}
		return candidate, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, scope, eventType(rt, "updated"), res)
	return res, nil
}

// Delete removes a resource for good
func (s *Service) Delete(ctx context.Context, scope Scope, rt scim.ResourceType, id string) (err error) {
	defer func() { metrics.RecordResourceOperation(string(rt), "delete", err) }()

	res, err := s.repo.Get(ctx, scope.Domain, rt, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, scope.Domain, rt, id); err != nil {
		return err
	}

	s.log(ctx).Info("Deleted SCIM resource",
		zap.String("domain", scope.Domain),
		zap.String("resource_type", string(rt)),
		zap.String("id", id))
	s.publish(ctx, scope, eventType(rt, "deleted"), res)
	return nil
}

// List runs a filtered, paged query. startIndex is clamped to at least 1;
// count defaults to and is capped at filter.max_results, and a negative
// count asks for no resources.
func (s *Service) List(ctx context.Context, scope Scope, rt scim.ResourceType, params ListParams) (result *ListResult, err error) {
	defer func() { metrics.RecordResourceOperation(string(rt), "list", err) }()

	expr, err := s.filters.Parse(params.Filter)
	if err != nil {
		metrics.RecordFilterParseError()
		return nil, err
	}

	startIndex, count := s.clamp(params)
	resources, total, err := s.repo.List(ctx, scope.Domain, rt, store.ListQuery{
		Filter:     expr,
		StartIndex: startIndex,
		Count:      count,
	})
	if err != nil {
		return nil, err
	}
	return &ListResult{Total: total, StartIndex: startIndex, Resources: resources}, nil
}

// Ping checks the repository
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) clamp(params ListParams) (startIndex, count int) {
	max := s.config.Filter.MaxResults
	startIndex = params.StartIndex
	if startIndex < 1 {
		startIndex = 1
	}
	switch {
	case params.Count == nil:
		count = max
	case *params.Count < 0:
		count = 0
	case *params.Count > max:
		count = max
	default:
		count = *params.Count
	}
	return startIndex, count
}

// mutate runs a read-modify-write against the repository, retrying when a
// concurrent writer bumped the revision in between
func (s *Service) mutate(ctx context.Context, scope Scope, rt scim.ResourceType, id string, change func(current scim.Resource) (scim.Resource, error)) (scim.Resource, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.repo.Get(ctx, scope.Domain, rt, id)
		if err != nil {
			return nil, err
		}

		next, err := change(current)
		if err != nil {
			return nil, err
		}

		meta := *current.GetMeta()
		meta.ResourceType = string(rt)
		meta.LastModified = s.now().UTC()
		meta.Location = scim.Location(scope.BaseURL, scope.Domain, rt, id)
		next.SetID(id)
		next.SetMeta(&meta)

		err = s.repo.Update(ctx, scope.Domain, next)
		if err == nil {
			return next, nil
		}
		if !stderrors.Is(err, store.ErrRevisionConflict) || attempt >= maxWriteAttempts {
			if stderrors.Is(err, store.ErrRevisionConflict) {
				return nil, errors.Internal("The resource was modified concurrently", err)
			}
			return nil, err
		}
		s.log(ctx).Debug("Revision conflict, retrying",
			zap.String("id", id),
			zap.Int("attempt", attempt))
	}
}

// decode parses and validates a resource body, then canonicalises its
// schemas. A body id or meta is ignored.
func (s *Service) decode(rt scim.ResourceType, body []byte) (scim.Resource, error) {
	res, err := scim.Decode(rt, body)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(res); err != nil {
		return nil, err
	}
	res.NormalizeSchemas()
	res.SetID("")
	res.SetMeta(nil)
	return res, nil
}

// hashPassword replaces a cleartext password with its argon2id hash. When
// the resource carries no password, existingHash is kept.
func (s *Service) hashPassword(res scim.Resource, existingHash string) error {
	u, ok := res.(*scim.User)
	if !ok {
		return nil
	}
	if u.Password == "" {
		u.SetPasswordHash(existingHash)
		return nil
	}
	hash, err := s.hasher.Hash(u.Password)
	if err != nil {
		return errors.Internal("Failed to hash password", err)
	}
	u.SetPasswordHash(hash)
	u.Password = ""
	return nil
}

func (s *Service) publish(ctx context.Context, scope Scope, eventType string, res scim.Resource) {
	if s.bus == nil {
		return
	}
	payload := map[string]interface{}{
		"id":            res.GetID(),
		"resource_type": string(res.ResourceType()),
		"name":          res.UniqueKey(),
	}
	if u, ok := res.(*scim.User); ok {
		payload["email"] = u.PrimaryEmail()
		payload["display_name"] = u.DisplayName
		if u.Name != nil {
			payload["given_name"] = u.Name.GivenName
			payload["family_name"] = u.Name.FamilyName
		}
	}
	if meta := res.GetMeta(); meta != nil {
		payload["location"] = meta.Location
	}
	event := events.NewEvent(eventType, serviceName, scope.Domain, payload).WithUserID(scope.Actor)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		event = event.WithTraceID(sc.TraceID().String())
	}
	s.bus.PublishAsync(ctx, event)
}

func eventType(rt scim.ResourceType, action string) string {
	return fmt.Sprintf("scim.%s.%s", strings.ToLower(string(rt)), action)
}

func decodePatchRequest(body []byte) (*scim.PatchRequest, error) {
	var req scim.PatchRequest
	if !strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		return nil, errors.InvalidSyntax(scim.MessageUnparseableBody)
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.InvalidSyntax(scim.MessageUnparseableBody)
	}
	if err := scim.ValidateMessageSchemas(req.Schemas, scim.SchemaPatchOp, "PatchOp"); err != nil {
		return nil, err
	}
	if len(req.Operations) == 0 {
		return nil, errors.InvalidValue("Field [Operations] is required")
	}
	return &req, nil
}

func recordPatchOps(ops []scim.PatchOperation, err error) {
	for _, op := range ops {
		metrics.RecordPatchOperation(strings.ToLower(op.Op), metrics.Outcome(err))
	}
}

func passwordHashOf(res scim.Resource) string {
	if u, ok := res.(*scim.User); ok {
		return u.PasswordHash()
	}
	return ""
}
