package scim

import (
	"encoding/json"
)

// Group is the SCIM Group resource
type Group struct {
	Schemas     []string   `json:"schemas"`
	ID          string     `json:"id,omitempty"`
	ExternalID  string     `json:"externalId,omitempty"`
	DisplayName string     `json:"displayName"`
	Members     []Member   `json:"members,omitempty"`
	Meta        *Meta      `json:"meta,omitempty"`
	Extensions  Extensions `json:"-"`
}

// Member is a reference from a group to a user or a nested group
type Member struct {
	Value   string `json:"value,omitempty"`
	Display string `json:"display,omitempty"`
	Ref     string `json:"$ref,omitempty"`
	Type    string `json:"type,omitempty"`
}

type groupAlias Group

// MarshalJSON renders the core attributes followed by extension objects
func (g Group) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(groupAlias(g), g.Extensions)
}

// UnmarshalJSON decodes core attributes and URN keyed extensions
func (g *Group) UnmarshalJSON(data []byte) error {
	var a groupAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	ext, err := unmarshalExtensions(data)
	if err != nil {
		return err
	}
	*g = Group(a)
	g.Extensions = ext
	return nil
}

func (g *Group) ResourceType() ResourceType { return ResourceGroup }
func (g *Group) GetID() string { return g.ID }
func (g *Group) SetID(id string) { g.ID = id }
func (g *Group) GetMeta() *Meta { return g.Meta }
func (g *Group) SetMeta(meta *Meta) { g.Meta = meta }
func (g *Group) GetSchemas() []string { return g.Schemas }
func (g *Group) UniqueKey() string { return g.DisplayName }

// NormalizeSchemas canonicalises extension keys and lists exactly the
// populated extensions in schemas
func (g *Group) NormalizeSchemas() {
	g.Extensions = canonicalExtensions(GroupDefinition, g.Extensions)
	g.Schemas = ensureSchemas(GroupDefinition, g.Schemas, g.Extensions)
}
