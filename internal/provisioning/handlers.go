package provisioning

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/auth"
	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/scim"
)

// ContentType is the media type of every SCIM response
const ContentType = "application/scim+json; charset=utf-8"

// SCIM HTTP Handlers

func (s *Service) scope(c *gin.Context) Scope {
	return Scope{
		Domain:  c.Param("domain"),
		BaseURL: s.config.BaseURL,
		Actor:   c.GetString(auth.ContextKeyUserID),
	}
}

// domainBase is the SCIM root of the request's domain, used as the base of
// discovery document locations
func (s *Service) domainBase(c *gin.Context) string {
	return strings.TrimRight(s.config.BaseURL, "/") + "/" + c.Param("domain") + "/scim"
}

func render(c *gin.Context, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		errors.HandleError(c, errors.Internal("Failed to encode response", err))
		return
	}
	c.Data(status, ContentType, data)
}

// readBody reads at most bulk.max_payload_size bytes of a resource body
func (s *Service) readBody(c *gin.Context) ([]byte, error) {
	max := s.config.Bulk.MaxPayloadSize
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(max)+1))
	if err != nil {
		return nil, errors.InvalidSyntax(scim.MessageUnparseableBody)
	}
	if len(body) > max {
		return nil, errors.PayloadTooLarge(fmt.Sprintf("The size of the request exceeds the maxPayloadSize (%d).", max))
	}
	return body, nil
}

// renderResource projects a resource through the attributes and
// excludedAttributes query parameters
func renderResource(c *gin.Context, res scim.Resource) (interface{}, error) {
	attributes := scim.ParseAttributeList(c.Query("attributes"))
	excluded := scim.ParseAttributeList(c.Query("excludedAttributes"))
	if len(attributes) == 0 && len(excluded) == 0 {
		return res, nil
	}
	attrs, err := scim.ToAttributes(res)
	if err != nil {
		return nil, errors.Internal("Failed to render resource", err)
	}
	return scim.Project(attrs, attributes, excluded), nil
}

func (s *Service) handleCreate(rt scim.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := s.readBody(c)
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		res, err := s.Create(c.Request.Context(), s.scope(c), rt, body)
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		c.Header("Location", res.GetMeta().Location)
		render(c, http.StatusCreated, res)
	}
}

func (s *Service) handleGet(rt scim.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.Get(c.Request.Context(), s.scope(c), rt, c.Param("id"))
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		out, err := renderResource(c, res)
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		render(c, http.StatusOK, out)
	}
}

func (s *Service) handleReplace(rt scim.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := s.readBody(c)
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		res, err := s.Replace(c.Request.Context(), s.scope(c), rt, c.Param("id"), body)
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		render(c, http.StatusOK, res)
	}
}

func (s *Service) handlePatch(rt scim.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := s.readBody(c)
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		res, err := s.Patch(c.Request.Context(), s.scope(c), rt, c.Param("id"), body)
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		render(c, http.StatusOK, res)
	}
}

func (s *Service) handleDelete(rt scim.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Delete(c.Request.Context(), s.scope(c), rt, c.Param("id")); err != nil {
			errors.HandleError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Service) handleList(rt scim.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := ListParams{
			Filter:     c.Query("filter"),
			StartIndex: 1,
		}
		// Unparseable paging parameters fall back to their defaults
		if si := c.Query("startIndex"); si != "" {
			if parsed, err := strconv.Atoi(si); err == nil {
				params.StartIndex = parsed
			}
		}
		if cnt := c.Query("count"); cnt != "" {
			if parsed, err := strconv.Atoi(cnt); err == nil {
				params.Count = &parsed
			}
		}

		result, err := s.List(c.Request.Context(), s.scope(c), rt, params)
		if err != nil {
			errors.HandleError(c, err)
			return
		}

		resources := make([]any, 0, len(result.Resources))
		for _, res := range result.Resources {
			out, err := renderResource(c, res)
			if err != nil {
				errors.HandleError(c, err)
				return
			}
			resources = append(resources, out)
		}
		render(c, http.StatusOK, scim.NewListResponse(result.Total, result.StartIndex, resources))
	}
}

func (s *Service) handleBulk(c *gin.Context) {
	resp, err := s.ProcessBulk(c.Request.Context(), s.scope(c), c.Request.Body)
	if err != nil {
		s.logger.Debug("Bulk request rejected",
			zap.String("domain", c.Param("domain")),
			zap.Error(err))
		errors.HandleError(c, err)
		return
	}
	render(c, http.StatusOK, resp)
}

// Discovery handlers

func (s *Service) handleServiceProviderConfig(c *gin.Context) {
	render(c, http.StatusOK, scim.NewServiceProviderConfig(scim.Limits{
		MaxOperations:  s.config.Bulk.MaxOperations,
		MaxPayloadSize: s.config.Bulk.MaxPayloadSize,
		MaxResults:     s.config.Filter.MaxResults,
	}))
}

func (s *Service) handleListSchemas(c *gin.Context) {
	base := s.domainBase(c)
	var docs []any
	for _, schema := range scim.AllSchemas() {
		docs = append(docs, scim.NewSchemaDoc(schema, base))
	}
	render(c, http.StatusOK, scim.NewListResponse(len(docs), 1, docs))
}

func (s *Service) handleGetSchema(c *gin.Context) {
	schema, ok := scim.FindSchema(c.Param("id"))
	if !ok {
		errors.HandleError(c, errors.NotFound(fmt.Sprintf("Schema [%s] not found", c.Param("id"))))
		return
	}
	render(c, http.StatusOK, scim.NewSchemaDoc(schema, s.domainBase(c)))
}

func (s *Service) handleListResourceTypes(c *gin.Context) {
	base := s.domainBase(c)
	var docs []any
	for _, def := range scim.Definitions() {
		docs = append(docs, scim.NewResourceTypeDoc(def, base))
	}
	render(c, http.StatusOK, scim.NewListResponse(len(docs), 1, docs))
}

func (s *Service) handleGetResourceType(c *gin.Context) {
	def, ok := scim.FindDefinition(c.Param("id"))
	if !ok {
		errors.HandleError(c, errors.NotFound(fmt.Sprintf("ResourceType [%s] not found", c.Param("id"))))
		return
	}
	render(c, http.StatusOK, scim.NewResourceTypeDoc(def, s.domainBase(c)))
}
