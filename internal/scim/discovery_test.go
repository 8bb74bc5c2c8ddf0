package scim

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceProviderConfig(t *testing.T) {
	cfg := NewServiceProviderConfig(Limits{MaxOperations: 1000, MaxPayloadSize: 1048576, MaxResults: 100})

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	flag := func(name string) bool {
		return doc[name].(map[string]any)["supported"].(bool)
	}
	assert.True(t, flag("patch"))
	assert.False(t, flag("bulk"))
	assert.True(t, flag("filter"))
	assert.False(t, flag("changePassword"))
	assert.False(t, flag("sort"))
	assert.False(t, flag("etag"))

	assert.Equal(t, 1000.0, doc["bulk"].(map[string]any)["maxOperations"])
	assert.Equal(t, 100.0, doc["filter"].(map[string]any)["maxResults"])

	schemes := doc["authenticationSchemes"].([]any)
	require.Len(t, schemes, 1)
	assert.Equal(t, "oauthbearertoken", schemes[0].(map[string]any)["type"])
}

func TestResourceTypeDoc(t *testing.T) {
	doc := NewResourceTypeDoc(UserDefinition, "https://h/acme/scim")
	assert.Equal(t, "User", doc.ID)
	assert.Equal(t, "/Users", doc.Endpoint)
	assert.Equal(t, SchemaUser, doc.Schema)
	assert.Len(t, doc.SchemaExtensions, 2)
	assert.Equal(t, "https://h/acme/scim/ResourceTypes/User", doc.Meta.Location)

	doc = NewResourceTypeDoc(GroupDefinition, "https://h/acme/scim")
	assert.Empty(t, doc.SchemaExtensions)
}

func TestSchemaDoc(t *testing.T) {
	s, ok := FindSchema(SchemaGroup)
	require.True(t, ok)

	doc := NewSchemaDoc(s, "/acme/scim")
	assert.Equal(t, "Group", doc.Name)
	names := make([]string, 0, len(doc.Attributes))
	for _, a := range doc.Attributes {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, "displayName")
	assert.Contains(t, names, "members")

	_, ok = FindSchema("urn:nope")
	assert.False(t, ok)
}

func TestFindDefinition(t *testing.T) {
	def, ok := FindDefinition("group")
	require.True(t, ok)
	assert.Equal(t, ResourceGroup, def.Type)

	attr, ok := def.Core.Attribute("MEMBERS")
	require.True(t, ok)
	assert.True(t, attr.MultiValued)
	_, ok = attr.SubAttribute("display")
	assert.True(t, ok)
}
