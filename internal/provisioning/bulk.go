package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/common/logger"
	"github.com/openidx/scim-engine/internal/common/tracing"
	"github.com/openidx/scim-engine/internal/metrics"
	"github.com/openidx/scim-engine/internal/scim"
)

const bulkIDPrefix = "bulkId:"

// BulkRequest is the /Bulk request body
type BulkRequest struct {
	Schemas      []string        `json:"schemas"`
	FailOnErrors *int            `json:"failOnErrors,omitempty"`
	Operations   []BulkOperation `json:"Operations"`
}

// BulkOperation is one sub-request of a bulk request
type BulkOperation struct {
	Method  string          `json:"method"`
	Path    string          `json:"path"`
	BulkID  string          `json:"bulkId,omitempty"`
	Version string          `json:"version,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BulkOperationResult is the outcome of one sub-request. Status is the HTTP
// code as a string.
type BulkOperationResult struct {
	Method   string           `json:"method"`
	BulkID   string           `json:"bulkId,omitempty"`
	Location string           `json:"location,omitempty"`
	Status   string           `json:"status"`
	Response *errors.Response `json:"response,omitempty"`
}

// BulkResponse is the /Bulk response body
type BulkResponse struct {
	Schemas    []string              `json:"schemas"`
	Operations []BulkOperationResult `json:"Operations"`
}

// bulkTarget is a parsed bulk path
type bulkTarget struct {
	rt scim.ResourceType
	id string
}

// ProcessBulk checks the request level limits, then runs every operation in
// order until failOnErrors is reached. A precondition failure aborts the
// whole request; a failing operation becomes a result.
func (s *Service) ProcessBulk(ctx context.Context, scope Scope, body io.Reader) (*BulkResponse, error) {
	req, err := s.readBulkRequest(body)
	if err != nil {
		return nil, err
	}

	failOnErrors := 0
	if req.FailOnErrors != nil {
		failOnErrors = *req.FailOnErrors
	}
	metrics.RecordBulkRequest(len(req.Operations))

	start := time.Now()
	resolved := make(map[string]string)
	results := make([]BulkOperationResult, 0, len(req.Operations))
	errorCount := 0

	for i, op := range req.Operations {
		result, err := s.runBulkOperation(ctx, scope, i, op, resolved)
		results = append(results, result)
		metrics.RecordBulkResult(result.Method, err)
		if err == nil {
			continue
		}

		errorCount++
		if failOnErrors > 0 && errorCount >= failOnErrors {
			s.logger.Info("Bulk request stopped on failOnErrors",
				zap.String("domain", scope.Domain),
				zap.Int("fail_on_errors", failOnErrors),
				zap.Int("processed", len(results)),
				zap.Int("total", len(req.Operations)))
			break
		}
	}

	logger.NewPerformanceLogger(s.logger).LogBatch(logger.BatchSummary{
		Operation: "scim_bulk",
		Domain:    scope.Domain,
		Requested: len(req.Operations),
		Processed: len(results),
		Failures:  errorCount,
		Duration:  time.Since(start),
	})

	return &BulkResponse{
		Schemas:    []string{scim.SchemaBulkResponse},
		Operations: results,
	}, nil
}

func (s *Service) readBulkRequest(body io.Reader) (*BulkRequest, error) {
	maxOps := s.config.Bulk.MaxOperations
	maxSize := s.config.Bulk.MaxPayloadSize
	tooLarge := errors.PayloadTooLarge(fmt.Sprintf("The size of the bulk operation exceeds the maxPayloadSize (%d).", maxSize))

	readCap := int64(maxSize) * 4
	data, err := io.ReadAll(io.LimitReader(body, readCap+1))
	if err != nil {
		return nil, errors.InvalidSyntax(scim.MessageUnparseableBody)
	}
	if int64(len(data)) > readCap {
		return nil, tooLarge
	}

	var req BulkRequest
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return nil, errors.InvalidSyntax(scim.MessageUnparseableBody)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.InvalidSyntax(scim.MessageUnparseableBody)
	}
	if err := scim.ValidateMessageSchemas(req.Schemas, scim.SchemaBulkRequest, "BulkRequest"); err != nil {
		return nil, err
	}
	if len(req.Operations) > maxOps {
		return nil, errors.PayloadTooLarge(fmt.Sprintf("The bulk operation exceeds the maximum number of operations (%d).", maxOps))
	}
	if len(data) > maxSize {
		return nil, tooLarge
	}
	return &req, nil
}

// runBulkOperation executes one operation inside its own span. The returned
// error is nil on success; the result is filled either way.
func (s *Service) runBulkOperation(ctx context.Context, scope Scope, index int, op BulkOperation, resolved map[string]string) (BulkOperationResult, error) {
	method := strings.ToUpper(strings.TrimSpace(op.Method))
	result := BulkOperationResult{Method: method, BulkID: op.BulkID}

	ctx, span := tracing.Tracer().Start(ctx, "scim.bulk.operation",
		trace.WithAttributes(
			attribute.Int("scim.bulk.index", index),
			attribute.String("scim.bulk.method", method),
			attribute.String("scim.bulk.path", op.Path),
			attribute.String("scim.domain", scope.Domain),
		))
	defer span.End()

	location, status, err := s.dispatch(ctx, scope, method, op, resolved)
	if err != nil {
		appErr := errors.As(err)
		if appErr.Code == errors.ErrInternal {
			s.log(ctx).Error("Bulk operation failed",
				zap.String("domain", scope.Domain),
				zap.Int("index", index),
				zap.Error(err))
		}
		resp := errors.ToResponse(appErr)
		result.Status = resp.Status
		result.Response = &resp

		span.RecordError(err)
		span.SetStatus(codes.Error, appErr.Message)
		span.SetAttributes(attribute.String("scim.bulk.status", resp.Status))
		return result, err
	}

	result.Status = strconv.Itoa(status)
	result.Location = location
	span.SetAttributes(attribute.String("scim.bulk.status", result.Status))
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, scope Scope, method string, op BulkOperation, resolved map[string]string) (string, int, error) {
	if method == "" {
		return "", 0, errors.InvalidValue("Field [method] is required")
	}
	if strings.TrimSpace(op.Path) == "" {
		return "", 0, errors.InvalidValue("Field [path] is required")
	}

	target, err := parseBulkPath(op.Path, resolved)
	if err != nil {
		return "", 0, err
	}

	var data []byte
	if method != http.MethodDelete {
		data, err = resolveBulkData(op.Data, resolved)
		if err != nil {
			return "", 0, err
		}
	}

	switch method {
	case http.MethodPost:
		if target.id != "" {
			return "", 0, invalidBulkPath(op.Path)
		}
		res, err := s.Create(ctx, scope, target.rt, data)
		if err != nil {
			return "", 0, err
		}
		if op.BulkID != "" {
			resolved[op.BulkID] = res.GetID()
		}
		return res.GetMeta().Location, http.StatusCreated, nil

	case http.MethodPut, http.MethodPatch, http.MethodDelete:
		if target.id == "" {
			return "", 0, invalidBulkPath(op.Path)
		}
		location := scim.Location(scope.BaseURL, scope.Domain, target.rt, target.id)
		switch method {
		case http.MethodPut:
			_, err = s.Replace(ctx, scope, target.rt, target.id, data)
		case http.MethodPatch:
			_, err = s.Patch(ctx, scope, target.rt, target.id, data)
		default:
			if err = s.Delete(ctx, scope, target.rt, target.id); err == nil {
				return location, http.StatusNoContent, nil
			}
		}
		if err != nil {
			return "", 0, err
		}
		return location, http.StatusOK, nil
	}

	return "", 0, errors.InvalidSyntax(fmt.Sprintf("Unsupported bulk method [%s]", method))
}

// parseBulkPath accepts /Users, /Groups and /{Users|Groups}/{id}, where the
// id may be a bulkId reference
func parseBulkPath(raw string, resolved map[string]string) (bulkTarget, error) {
	segments := strings.Split(strings.Trim(strings.TrimSpace(raw), "/"), "/")
	if len(segments) == 0 || len(segments) > 2 || !strings.HasPrefix(strings.TrimSpace(raw), "/") {
		return bulkTarget{}, invalidBulkPath(raw)
	}

	rt, ok := scim.ParseEndpoint(segments[0])
	if !ok {
		return bulkTarget{}, invalidBulkPath(raw)
	}
	target := bulkTarget{rt: rt}
	if len(segments) == 2 {
		id, err := resolveReference(segments[1], resolved)
		if err != nil {
			return bulkTarget{}, err
		}
		if id == "" {
			return bulkTarget{}, invalidBulkPath(raw)
		}
		target.id = id
	}
	return target, nil
}

// resolveBulkData replaces every "bulkId:x" string in data with the id
// created for x earlier in the request
func resolveBulkData(data json.RawMessage, resolved map[string]string) ([]byte, error) {
	if len(data) == 0 || !bytes.Contains(data, []byte(bulkIDPrefix)) {
		return data, nil
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.InvalidSyntax(scim.MessageUnparseableBody)
	}
	doc, err := substituteReferences(doc, resolved)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Internal("Failed to encode bulk data", err)
	}
	return out, nil
}

func substituteReferences(v any, resolved map[string]string) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveReference(val, resolved)
	case map[string]any:
		for k, child := range val {
			next, err := substituteReferences(child, resolved)
			if err != nil {
				return nil, err
			}
			val[k] = next
		}
	case []any:
		for i, child := range val {
			next, err := substituteReferences(child, resolved)
			if err != nil {
				return nil, err
			}
			val[i] = next
		}
	}
	return v, nil
}

func resolveReference(s string, resolved map[string]string) (string, error) {
	if !strings.HasPrefix(s, bulkIDPrefix) {
		return s, nil
	}
	ref := strings.TrimPrefix(s, bulkIDPrefix)
	id, ok := resolved[ref]
	if !ok {
		return "", errors.InvalidValue(fmt.Sprintf("Unresolved bulkId reference [%s]", ref))
	}
	return id, nil
}

func invalidBulkPath(path string) error {
	return errors.InvalidValue(fmt.Sprintf("Invalid bulk path [%s]", path))
}
