// Package scim provides the SCIM 2.0 resource model, schema definitions and
// request validation shared by the provisioning engine (RFC 7643).
package scim

import (
	"strings"
)

// Resource and extension schema URNs
const (
	SchemaUser           = "urn:ietf:params:scim:schemas:core:2.0:User"
	SchemaEnterpriseUser = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"
	SchemaCustomUser     = "urn:ietf:params:scim:schemas:extension:custom:2.0:User"
	SchemaGroup          = "urn:ietf:params:scim:schemas:core:2.0:Group"
)

// Message and discovery schema URNs
const (
	SchemaListResponse          = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	SchemaPatchOp               = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	SchemaBulkRequest           = "urn:ietf:params:scim:api:messages:2.0:BulkRequest"
	SchemaBulkResponse          = "urn:ietf:params:scim:api:messages:2.0:BulkResponse"
	SchemaServiceProviderConfig = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"
	SchemaResourceType          = "urn:ietf:params:scim:schemas:core:2.0:ResourceType"
	SchemaSchema                = "urn:ietf:params:scim:schemas:core:2.0:Schema"
)

// Attribute data types
const (
	TypeString    = "string"
	TypeBoolean   = "boolean"
	TypeInteger   = "integer"
	TypeDateTime  = "dateTime"
	TypeReference = "reference"
	TypeComplex   = "complex"
)

// Attribute mutability values
const (
	MutabilityReadOnly  = "readOnly"
	MutabilityReadWrite = "readWrite"
	MutabilityImmutable = "immutable"
	MutabilityWriteOnly = "writeOnly"
)

// Attribute describes one attribute of a schema (RFC 7643 section 7)
type Attribute struct {
	Name           string      `json:"name"`
	Type           string      `json:"type"`
	MultiValued    bool        `json:"multiValued"`
	Description    string      `json:"description,omitempty"`
	Required       bool        `json:"required"`
	CaseExact      bool        `json:"caseExact"`
	Mutability     string      `json:"mutability"`
	Returned       string      `json:"returned"`
	Uniqueness     string      `json:"uniqueness"`
	ReferenceTypes []string    `json:"referenceTypes,omitempty"`
	SubAttributes  []Attribute `json:"subAttributes,omitempty"`
}

// SubAttribute finds a sub-attribute by name, ignoring case
func (a *Attribute) SubAttribute(name string) (*Attribute, bool) {
	for i := range a.SubAttributes {
		if strings.EqualFold(a.SubAttributes[i].Name, name) {
			return &a.SubAttributes[i], true
		}
	}
	return nil, false
}

// IsComplex reports whether the attribute carries sub-attributes
func (a *Attribute) IsComplex() bool {
	return a.Type == TypeComplex
}

// Schema is a named set of attribute definitions. An open schema accepts
// attributes that are not listed, which is how the custom user extension
// carries deployment specific flags.
type Schema struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Attributes  []Attribute `json:"attributes"`
	Open        bool        `json:"-"`
}

// Attribute finds a top-level attribute by name, ignoring case
func (s *Schema) Attribute(name string) (*Attribute, bool) {
	for i := range s.Attributes {
		if strings.EqualFold(s.Attributes[i].Name, name) {
			return &s.Attributes[i], true
		}
	}
	return nil, false
}

// ============================================================
// Attribute builders
// ============================================================

func stringAttr(name string) Attribute {
	return Attribute{Name: name, Type: TypeString, Mutability: MutabilityReadWrite, Returned: "default", Uniqueness: "none"}
}

func boolAttr(name string) Attribute {
	a := stringAttr(name)
	a.Type = TypeBoolean
	return a
}

func complexAttr(name string, multi bool, subs ...Attribute) Attribute {
	a := stringAttr(name)
	a.Type = TypeComplex
	a.MultiValued = multi
	a.SubAttributes = subs
	return a
}

func readOnly(a Attribute) Attribute {
	a.Mutability = MutabilityReadOnly
	return a
}

func required(a Attribute) Attribute {
	a.Required = true
	return a
}

func multiValuedSubs() []Attribute {
	return []Attribute{stringAttr("value"), stringAttr("display"), stringAttr("type"), boolAttr("primary")}
}

// commonAttributes are present on every resource type
func commonAttributes() []Attribute {
	id := readOnly(stringAttr("id"))
	id.CaseExact = true
	id.Returned = "always"
	id.Uniqueness = "server"

	externalID := stringAttr("externalId")
	externalID.CaseExact = true

	meta := readOnly(complexAttr("meta", false,
		readOnly(stringAttr("resourceType")),
		readOnly(Attribute{Name: "created", Type: TypeDateTime, Mutability: MutabilityReadOnly, Returned: "default", Uniqueness: "none"}),
		readOnly(Attribute{Name: "lastModified", Type: TypeDateTime, Mutability: MutabilityReadOnly, Returned: "default", Uniqueness: "none"}),
		readOnly(Attribute{Name: "location", Type: TypeReference, Mutability: MutabilityReadOnly, Returned: "default", Uniqueness: "none"}),
	))

	schemas := readOnly(Attribute{Name: "schemas", Type: TypeReference, MultiValued: true, Mutability: MutabilityReadOnly, Returned: "always", Uniqueness: "none"})

	return []Attribute{schemas, id, externalID, meta}
}

// UserSchema is the core User schema
var UserSchema = &Schema{
	ID:          SchemaUser,
	Name:        "User",
	Description: "User Account",
	Attributes: append(commonAttributes(),
		func() Attribute {
			a := required(stringAttr("userName"))
			a.Uniqueness = "server"
			return a
		}(),
		complexAttr("name", false,
			stringAttr("formatted"),
			stringAttr("familyName"),
			stringAttr("givenName"),
			stringAttr("middleName"),
			stringAttr("honorificPrefix"),
			stringAttr("honorificSuffix"),
		),
		stringAttr("displayName"),
		stringAttr("nickName"),
		Attribute{Name: "profileUrl", Type: TypeReference, Mutability: MutabilityReadWrite, Returned: "default", Uniqueness: "none", ReferenceTypes: []string{"external"}},
		stringAttr("title"),
		stringAttr("userType"),
		stringAttr("preferredLanguage"),
		stringAttr("locale"),
		stringAttr("timezone"),
		boolAttr("active"),
		func() Attribute {
			a := stringAttr("password")
			a.Mutability = MutabilityWriteOnly
			a.Returned = "never"
			return a
		}(),
		complexAttr("emails", true, multiValuedSubs()...),
		complexAttr("phoneNumbers", true, multiValuedSubs()...),
		complexAttr("photos", true, multiValuedSubs()...),
	),
}

// EnterpriseUserSchema is the RFC 7643 enterprise user extension
var EnterpriseUserSchema = &Schema{
	ID:          SchemaEnterpriseUser,
	Name:        "EnterpriseUser",
	Description: "Enterprise User",
	Attributes: []Attribute{
		stringAttr("employeeNumber"),
		stringAttr("costCenter"),
		stringAttr("organization"),
		stringAttr("division"),
		stringAttr("department"),
		complexAttr("manager", false,
			stringAttr("value"),
			Attribute{Name: "$ref", Type: TypeReference, Mutability: MutabilityReadWrite, Returned: "default", Uniqueness: "none", ReferenceTypes: []string{"User"}},
			readOnly(stringAttr("displayName")),
		),
	},
}

// CustomUserSchema is the deployment extension. preRegistration marks a user
// who still has to complete registration.
var CustomUserSchema = &Schema{
	ID:          SchemaCustomUser,
	Name:        "CustomUser",
	Description: "Custom User attributes",
	Attributes: []Attribute{
		boolAttr("preRegistration"),
	},
	Open: true,
}

// GroupSchema is the core Group schema
var GroupSchema = &Schema{
	ID:          SchemaGroup,
	Name:        "Group",
	Description: "Group",
	Attributes: append(commonAttributes(),
		func() Attribute {
			a := required(stringAttr("displayName"))
			a.Uniqueness = "server"
			return a
		}(),
		complexAttr("members", true,
			stringAttr("value"),
			stringAttr("display"),
			Attribute{Name: "$ref", Type: TypeReference, Mutability: MutabilityReadWrite, Returned: "default", Uniqueness: "none", ReferenceTypes: []string{"User", "Group"}},
			stringAttr("type"),
		),
	),
}

// AllSchemas lists every schema served by the /Schemas endpoint
func AllSchemas() []*Schema {
	return []*Schema{UserSchema, EnterpriseUserSchema, CustomUserSchema, GroupSchema}
}

// FindSchema looks a schema up by URN, ignoring case
func FindSchema(id string) (*Schema, bool) {
	for _, s := range AllSchemas() {
		if strings.EqualFold(s.ID, id) {
			return s, true
		}
	}
	return nil, false
}

// SplitPath separates an optional schema URN prefix from an attribute path.
// "urn:...:enterprise:2.0:User:manager.value" yields the enterprise URN and
// "manager.value"; a bare URN yields the URN and an empty attribute.
func SplitPath(path string) (urn, attr string) {
	if !hasURNPrefix(path) {
		return "", path
	}
	for _, s := range AllSchemas() {
		if strings.EqualFold(path, s.ID) {
			return s.ID, ""
		}
		if len(path) > len(s.ID) && strings.EqualFold(path[:len(s.ID)], s.ID) && path[len(s.ID)] == ':' {
			return s.ID, path[len(s.ID)+1:]
		}
	}
	if i := strings.LastIndex(path, ":"); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}

func hasURNPrefix(s string) bool {
	return len(s) >= 4 && strings.EqualFold(s[:4], "urn:")
}
