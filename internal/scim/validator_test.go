package scim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openidx/scim-engine/internal/common/errors"
)

func TestDecodeUser_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "userName=jdoe"},
		{"array", `[{"userName":"jdoe"}]`},
		{"truncated", `{"userName":"jdoe"`},
		{"wrong type", `{"userName": 42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeUser([]byte(tt.body))
			require.Error(t, err)

			appErr := errors.As(err)
			assert.Equal(t, errors.ScimTypeInvalidSyntax, appErr.ScimType)
			assert.Equal(t, "Unable to parse body message", appErr.Message)
		})
	}
}

func TestValidateUser(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		body     string
		scimType string
		detail   string
	}{
		{
			name: "valid",
			body: `{"schemas":["` + SchemaUser + `"],"userName":"john.doe@example.com","name":{"givenName":"John","familyName":"Doe"}}`,
		},
		{
			name: "valid with extensions",
			body: `{"schemas":["` + SchemaUser + `","` + SchemaCustomUser + `"],"userName":"jdoe","` + SchemaCustomUser + `":{"preRegistration":true}}`,
		},
		{
			name:     "missing schemas",
			body:     `{"userName":"jdoe"}`,
			scimType: errors.ScimTypeInvalidSyntax,
			detail:   "The 'schemas' attribute MUST only contain values defined as 'schema' and 'schemaExtensions' for the resource's defined User type",
		},
		{
			name:     "unknown schema",
			body:     `{"schemas":["` + SchemaUser + `","urn:example:unknown"],"userName":"jdoe"}`,
			scimType: errors.ScimTypeInvalidSyntax,
			detail:   SchemasMessage("User"),
		},
		{
			name:     "group schema on user",
			body:     `{"schemas":["` + SchemaGroup + `"],"userName":"jdoe"}`,
			scimType: errors.ScimTypeInvalidSyntax,
			detail:   SchemasMessage("User"),
		},
		{
			name:     "undeclared extension key",
			body:     `{"schemas":["` + SchemaUser + `"],"userName":"jdoe","urn:example:ext":{"a":1}}`,
			scimType: errors.ScimTypeInvalidSyntax,
			detail:   SchemasMessage("User"),
		},
		{
			name:     "missing userName",
			body:     `{"schemas":["` + SchemaUser + `"],"displayName":"John"}`,
			scimType: errors.ScimTypeInvalidValue,
			detail:   "Field [userName] is required",
		},
		{
			name:     "invalid userName",
			body:     `{"schemas":["` + SchemaUser + `"],"userName":"jdoe#1"}`,
			scimType: errors.ScimTypeInvalidValue,
			detail:   "Username [jdoe#1] is not a valid value",
		},
		{
			name:     "invalid family name",
			body:     `{"schemas":["` + SchemaUser + `"],"userName":"jdoe","name":{"familyName":"Doe&Co"}}`,
			scimType: errors.ScimTypeInvalidValue,
			detail:   "Last name [Doe&Co] is not a valid value",
		},
		{
			name:     "invalid given name",
			body:     `{"schemas":["` + SchemaUser + `"],"userName":"jdoe","name":{"givenName":"#John"}}`,
			scimType: errors.ScimTypeInvalidValue,
			detail:   "First name [#John] is not a valid value",
		},
		{
			name:     "schemas checked before required",
			body:     `{"schemas":["urn:bad"]}`,
			scimType: errors.ScimTypeInvalidSyntax,
			detail:   SchemasMessage("User"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := DecodeUser([]byte(tt.body))
			require.NoError(t, err)

			err = v.ValidateUser(u)
			if tt.detail == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			appErr := errors.As(err)
			assert.Equal(t, tt.scimType, appErr.ScimType)
			assert.Equal(t, tt.detail, appErr.Message)
			assert.Equal(t, 400, appErr.StatusCode)
		})
	}
}

func TestValidateGroup(t *testing.T) {
	v := NewValidator()

	g, err := DecodeGroup([]byte(`{"schemas":["` + SchemaGroup + `"],"displayName":"Engineering","members":[{"value":"1","display":"Jane"}]}`))
	require.NoError(t, err)
	assert.NoError(t, v.Validate(g))
	require.Len(t, g.Members, 1)
	assert.Equal(t, "Jane", g.Members[0].Display)

	g, err = DecodeGroup([]byte(`{"schemas":["` + SchemaGroup + `"]}`))
	require.NoError(t, err)
	err = v.Validate(g)
	require.Error(t, err)
	assert.Equal(t, "Field [displayName] is required", errors.As(err).Message)

	g, err = DecodeGroup([]byte(`{"schemas":["` + SchemaUser + `"],"displayName":"Engineering"}`))
	require.NoError(t, err)
	err = v.Validate(g)
	require.Error(t, err)
	assert.Equal(t, SchemasMessage("Group"), errors.As(err).Message)
}

func TestValidateMessageSchemas(t *testing.T) {
	assert.NoError(t, ValidateMessageSchemas([]string{SchemaBulkRequest}, SchemaBulkRequest, "BulkRequest"))

	err := ValidateMessageSchemas([]string{SchemaBulkRequest, SchemaUser}, SchemaBulkRequest, "BulkRequest")
	require.Error(t, err)
	assert.Equal(t, "The 'schemas' attribute MUST only contain values defined as 'schema' and 'schemaExtensions' for the resource's defined BulkRequest type", errors.As(err).Message)

	assert.Error(t, ValidateMessageSchemas(nil, SchemaPatchOp, "PatchOp"))
}
