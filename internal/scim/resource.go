package scim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ResourceType names a SCIM resource variant
type ResourceType string

const (
	ResourceUser  ResourceType = "User"
	ResourceGroup ResourceType = "Group"
)

// Endpoint returns the collection path segment, e.g. "Users"
func (rt ResourceType) Endpoint() string {
	return string(rt) + "s"
}

// Definition returns the schemas that make up the resource type
func (rt ResourceType) Definition() *Definition {
	switch rt {
	case ResourceUser:
		return UserDefinition
	case ResourceGroup:
		return GroupDefinition
	}
	return nil
}

// ParseEndpoint maps a collection segment back to its resource type
func ParseEndpoint(segment string) (ResourceType, bool) {
	switch segment {
	case "Users":
		return ResourceUser, true
	case "Groups":
		return ResourceGroup, true
	}
	return "", false
}

// Definition groups the core schema of a resource type with the extension
// schemas it accepts
type Definition struct {
	Type       ResourceType
	Name       string
	Core       *Schema
	Extensions []*Schema
}

// UserDefinition is the User resource type
var UserDefinition = &Definition{
	Type:       ResourceUser,
	Name:       "User Account",
	Core:       UserSchema,
	Extensions: []*Schema{EnterpriseUserSchema, CustomUserSchema},
}

// GroupDefinition is the Group resource type
var GroupDefinition = &Definition{
	Type: ResourceGroup,
	Name: "Group",
	Core: GroupSchema,
}

// SchemaURNs lists the URNs a resource of this type may declare
func (d *Definition) SchemaURNs() []string {
	urns := []string{d.Core.ID}
	for _, ext := range d.Extensions {
		urns = append(urns, ext.ID)
	}
	return urns
}

// Extension finds an extension schema by URN, ignoring case
func (d *Definition) Extension(urn string) (*Schema, bool) {
	for _, ext := range d.Extensions {
		if strings.EqualFold(ext.ID, urn) {
			return ext, true
		}
	}
	return nil, false
}

// Schema returns the schema an attribute path belongs to. An empty urn or
// the core URN selects the core schema.
func (d *Definition) Schema(urn string) (*Schema, bool) {
	if urn == "" || strings.EqualFold(urn, d.Core.ID) {
		return d.Core, true
	}
	return d.Extension(urn)
}

// ============================================================
// Common resource fields
// ============================================================

// Meta is the SCIM resource metadata. Revision is the repository's
// optimistic concurrency counter and is never rendered.
type Meta struct {
	ResourceType string    `json:"resourceType"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Location     string    `json:"location,omitempty"`
	Revision     int64     `json:"-"`
}

// Resource is implemented by every SCIM resource variant
type Resource interface {
	ResourceType() ResourceType
	GetID() string
	SetID(id string)
	GetMeta() *Meta
	SetMeta(meta *Meta)
	GetSchemas() []string
	// UniqueKey is the per-domain unique attribute: userName or displayName
	UniqueKey() string
	NormalizeSchemas()
}

// PasswordHolder is implemented by resources carrying a write-only password.
// Repositories persist the hash alongside the resource document.
type PasswordHolder interface {
	PasswordHash() string
	SetPasswordHash(hash string)
}

// NewResource returns an empty resource of the given type
func NewResource(rt ResourceType) (Resource, error) {
	switch rt {
	case ResourceUser:
		return &User{}, nil
	case ResourceGroup:
		return &Group{}, nil
	}
	return nil, fmt.Errorf("unknown resource type: %s", rt)
}

// Location builds the canonical resource URI
func Location(baseURL, domain string, rt ResourceType, id string) string {
	return fmt.Sprintf("%s/%s/scim/%s/%s", strings.TrimRight(baseURL, "/"), domain, rt.Endpoint(), id)
}

// ToAttributes renders a resource into its JSON attribute tree
func ToAttributes(r Resource) (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", r.ResourceType(), err)
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s attributes: %w", r.ResourceType(), err)
	}
	return attrs, nil
}

// FromAttributes decodes an attribute tree into a typed resource
func FromAttributes(rt ResourceType, attrs map[string]any) (Resource, error) {
	res, err := NewResource(rt)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ============================================================
// Extension attribute encoding
// ============================================================

// Extensions holds namespaced extension attributes keyed by schema URN
type Extensions map[string]map[string]any

// marshalWithExtensions renders base and appends each extension as a
// top-level URN keyed object, in URN order
func marshalWithExtensions(base any, ext Extensions) ([]byte, error) {
	data, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	if len(ext) == 0 {
		return data, nil
	}

	urns := make([]string, 0, len(ext))
	for urn := range ext {
		urns = append(urns, urn)
	}
	sort.Strings(urns)

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1])
	empty := bytes.Equal(bytes.TrimSpace(data), []byte("{}"))
	for _, urn := range urns {
		key, err := json.Marshal(urn)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(ext[urn])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal extension %s: %w", urn, err)
		}
		if !empty {
			buf.WriteByte(',')
		}
		empty = false
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// unmarshalExtensions collects every URN keyed object from a JSON document
func unmarshalExtensions(data []byte) (Extensions, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var ext Extensions
	for key, val := range raw {
		if !hasURNPrefix(key) {
			continue
		}
		var attrs map[string]any
		if err := json.Unmarshal(val, &attrs); err != nil {
			return nil, fmt.Errorf("extension %s must be an object: %w", key, err)
		}
		if attrs == nil {
			continue
		}
		if ext == nil {
			ext = make(Extensions)
		}
		ext[key] = attrs
	}
	return ext, nil
}

// canonicalExtensions keys every extension by its schema's URN and renames
// known attributes to their schema spelling. Unknown URNs are kept as sent.
func canonicalExtensions(def *Definition, ext Extensions) Extensions {
	if len(ext) == 0 {
		return ext
	}
	out := make(Extensions, len(ext))
	for urn, attrs := range ext {
		schema, ok := def.Extension(urn)
		if !ok {
			out[urn] = attrs
			continue
		}
		renamed := out[schema.ID]
		if renamed == nil {
			renamed = make(map[string]any, len(attrs))
		}
		for name, val := range attrs {
			if a, known := schema.Attribute(name); known {
				name = a.Name
			}
			renamed[name] = val
		}
		out[schema.ID] = renamed
	}
	return out
}

// ensureSchemas appends the URN of every populated extension to schemas
// and drops the URN of a defined extension that carries no attributes
func ensureSchemas(def *Definition, schemas []string, ext Extensions) []string {
	out := make([]string, 0, len(schemas)+len(ext))
	for _, urn := range schemas {
		if _, isExt := def.Extension(urn); isExt && !populated(ext, urn) {
			continue
		}
		out = append(out, urn)
	}

	urns := make([]string, 0, len(ext))
	for urn, attrs := range ext {
		if len(attrs) > 0 {
			urns = append(urns, urn)
		}
	}
	sort.Strings(urns)
	for _, urn := range urns {
		if !containsFold(out, urn) {
			out = append(out, urn)
		}
	}
	return out
}

func populated(ext Extensions, urn string) bool {
	for key, attrs := range ext {
		if strings.EqualFold(key, urn) && len(attrs) > 0 {
			return true
		}
	}
	return false
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// ============================================================
// Protocol messages
// ============================================================

// ListResponse is the SCIM query response
type ListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []any    `json:"Resources"`
}

// NewListResponse builds a ListResponse, rendering an empty page as []
func NewListResponse(total, startIndex int, resources []any) *ListResponse {
	if resources == nil {
		resources = []any{}
	}
	return &ListResponse{
		Schemas:      []string{SchemaListResponse},
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: len(resources),
		Resources:    resources,
	}
}

// PatchRequest is the SCIM PATCH body
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation is one add, replace or remove step
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}
