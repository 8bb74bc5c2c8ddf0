package scim

import (
	"strings"
)

// ============================================================
// Discovery documents (RFC 7644 section 4)
// ============================================================

// ServiceProviderConfig is the static capability document
type ServiceProviderConfig struct {
	Schemas               []string               `json:"schemas"`
	DocumentationURI      string                 `json:"documentationUri,omitempty"`
	Patch                 Supported              `json:"patch"`
	Bulk                  BulkSupport            `json:"bulk"`
	Filter                FilterSupport          `json:"filter"`
	ChangePassword        Supported              `json:"changePassword"`
	Sort                  Supported              `json:"sort"`
	ETag                  Supported              `json:"etag"`
	AuthenticationSchemes []AuthenticationScheme `json:"authenticationSchemes"`
}

// Supported is a capability with a single flag
type Supported struct {
	Supported bool `json:"supported"`
}

// BulkSupport describes bulk limits
type BulkSupport struct {
	Supported      bool `json:"supported"`
	MaxOperations  int  `json:"maxOperations"`
	MaxPayloadSize int  `json:"maxPayloadSize"`
}

// FilterSupport describes filter limits
type FilterSupport struct {
	Supported  bool `json:"supported"`
	MaxResults int  `json:"maxResults"`
}

// AuthenticationScheme describes an accepted credential type
type AuthenticationScheme struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	SpecURI          string `json:"specUri,omitempty"`
	DocumentationURI string `json:"documentationUri,omitempty"`
	Primary          bool   `json:"primary,omitempty"`
}

// Limits are the configured processing limits advertised by discovery
type Limits struct {
	MaxOperations  int
	MaxPayloadSize int
	MaxResults     int
}

// NewServiceProviderConfig builds the capability document. The top-level bulk
// flag stays false; the limits still describe the /Bulk endpoint.
func NewServiceProviderConfig(limits Limits) *ServiceProviderConfig {
	return &ServiceProviderConfig{
		Schemas: []string{SchemaServiceProviderConfig},
		Patch:   Supported{Supported: true},
		Bulk: BulkSupport{
			Supported:      false,
			MaxOperations:  limits.MaxOperations,
			MaxPayloadSize: limits.MaxPayloadSize,
		},
		Filter: FilterSupport{
			Supported:  true,
			MaxResults: limits.MaxResults,
		},
		ChangePassword: Supported{Supported: false},
		Sort:           Supported{Supported: false},
		ETag:           Supported{Supported: false},
		AuthenticationSchemes: []AuthenticationScheme{
			{
				Type:        "oauthbearertoken",
				Name:        "OAuth Bearer Token",
				Description: "Authentication scheme using the OAuth Bearer Token Standard",
				SpecURI:     "http://www.rfc-editor.org/info/rfc6750",
				Primary:     true,
			},
		},
	}
}

// ResourceTypeDoc is a /ResourceTypes entry
type ResourceTypeDoc struct {
	Schemas          []string          `json:"schemas"`
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Endpoint         string            `json:"endpoint"`
	Description      string            `json:"description"`
	Schema           string            `json:"schema"`
	SchemaExtensions []SchemaExtension `json:"schemaExtensions,omitempty"`
	Meta             *DocMeta          `json:"meta,omitempty"`
}

// SchemaExtension lists an extension a resource type accepts
type SchemaExtension struct {
	Schema   string `json:"schema"`
	Required bool   `json:"required"`
}

// DocMeta is the meta block of discovery documents
type DocMeta struct {
	ResourceType string `json:"resourceType"`
	Location     string `json:"location"`
}

// SchemaDoc is a /Schemas entry
type SchemaDoc struct {
	Schemas     []string    `json:"schemas"`
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Attributes  []Attribute `json:"attributes"`
	Meta        *DocMeta    `json:"meta,omitempty"`
}

// Definitions lists the served resource types
func Definitions() []*Definition {
	return []*Definition{UserDefinition, GroupDefinition}
}

// NewResourceTypeDoc renders a resource type; base is the domain scoped
// SCIM base URL
func NewResourceTypeDoc(def *Definition, base string) ResourceTypeDoc {
	doc := ResourceTypeDoc{
		Schemas:     []string{SchemaResourceType},
		ID:          string(def.Type),
		Name:        string(def.Type),
		Endpoint:    "/" + def.Type.Endpoint(),
		Description: def.Name,
		Schema:      def.Core.ID,
		Meta: &DocMeta{
			ResourceType: "ResourceType",
			Location:     strings.TrimRight(base, "/") + "/ResourceTypes/" + string(def.Type),
		},
	}
	for _, ext := range def.Extensions {
		doc.SchemaExtensions = append(doc.SchemaExtensions, SchemaExtension{Schema: ext.ID})
	}
	return doc
}

// NewSchemaDoc renders a schema definition
func NewSchemaDoc(s *Schema, base string) SchemaDoc {
	return SchemaDoc{
		Schemas:     []string{SchemaSchema},
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Attributes:  s.Attributes,
		Meta: &DocMeta{
			ResourceType: "Schema",
			Location:     strings.TrimRight(base, "/") + "/Schemas/" + s.ID,
		},
	}
}

// FindDefinition looks a resource type up by id, e.g. "User"
func FindDefinition(id string) (*Definition, bool) {
	for _, def := range Definitions() {
		if strings.EqualFold(string(def.Type), id) {
			return def, true
		}
	}
	return nil, false
}
