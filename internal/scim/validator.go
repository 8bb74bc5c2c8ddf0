package scim

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/common/validation"
)

// MessageUnparseableBody is the detail of every undecodable request body
const MessageUnparseableBody = "Unable to parse body message"

var (
	userNameRule   = validation.NewPatternRule("userName", "Username", `^[^±!£$%^&*§¡€#¢¶•ªº«\\/<>?:;|=,~"]{1,100}$`)
	familyNameRule = validation.NewPatternRule("name.familyName", "Last name", `^[^±!@£$%^&*_+§¡€#¢¶•ªº«\\/<>?:;|=.,]{0,100}$`)
	givenNameRule  = validation.NewPatternRule("name.givenName", "First name", `^[^±!@£$%^&*_+§¡€#¢¶•ªº«\\/<>?:;|=.,]{0,100}$`)
)

// SchemasMessage is the detail reported when a body declares schemas outside
// the set allowed for its message or resource type
func SchemasMessage(typeName string) string {
	return fmt.Sprintf("The 'schemas' attribute MUST only contain values defined as 'schema' and 'schemaExtensions' for the resource's defined %s type", typeName)
}

// Validator checks inbound resources against the attribute rules. It never
// touches the repository and is safe for concurrent use.
type Validator struct{}

// NewValidator creates a resource validator
func NewValidator() *Validator {
	return &Validator{}
}

// DecodeUser parses a User body
func DecodeUser(body []byte) (*User, error) {
	var u User
	if err := decodeObject(body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DecodeGroup parses a Group body
func DecodeGroup(body []byte) (*Group, error) {
	var g Group
	if err := decodeObject(body, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Decode parses a body into a resource of the given type
func Decode(rt ResourceType, body []byte) (Resource, error) {
	switch rt {
	case ResourceUser:
		return DecodeUser(body)
	case ResourceGroup:
		return DecodeGroup(body)
	}
	return nil, errors.InvalidSyntax(MessageUnparseableBody)
}

func decodeObject(body []byte, v any) error {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return errors.InvalidSyntax(MessageUnparseableBody)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.InvalidSyntax(MessageUnparseableBody)
	}
	return nil
}

// Validate dispatches on the resource variant
func (v *Validator) Validate(r Resource) error {
	switch res := r.(type) {
	case *User:
		return v.ValidateUser(res)
	case *Group:
		return v.ValidateGroup(res)
	}
	return errors.InvalidSyntax(MessageUnparseableBody)
}

// ValidateUser checks schemas, then required attributes, then character
// classes
func (v *Validator) ValidateUser(u *User) error {
	if err := checkSchemas(UserDefinition, u.Schemas, u.Extensions); err != nil {
		return err
	}
	if err := validation.ValidateRequired("userName", u.UserName); err != nil {
		return requiredError(err)
	}
	if err := userNameRule.Check(u.UserName); err != nil {
		return ruleError(err)
	}
	if u.Name != nil {
		if err := familyNameRule.Check(u.Name.FamilyName); err != nil {
			return ruleError(err)
		}
		if err := givenNameRule.Check(u.Name.GivenName); err != nil {
			return ruleError(err)
		}
	}
	return nil
}

// ValidateGroup checks schemas and the required displayName
func (v *Validator) ValidateGroup(g *Group) error {
	if err := checkSchemas(GroupDefinition, g.Schemas, g.Extensions); err != nil {
		return err
	}
	if err := validation.ValidateRequired("displayName", g.DisplayName); err != nil {
		return requiredError(err)
	}
	return nil
}

// ValidateMessageSchemas checks that a protocol message declares exactly its
// own schema URN
func ValidateMessageSchemas(schemas []string, urn, typeName string) error {
	if len(schemas) != 1 || !strings.EqualFold(schemas[0], urn) {
		return errors.InvalidSyntax(SchemasMessage(typeName))
	}
	return nil
}

func checkSchemas(def *Definition, schemas []string, ext Extensions) error {
	allowed := def.SchemaURNs()
	if !containsFold(schemas, def.Core.ID) {
		return errors.InvalidSyntax(SchemasMessage(string(def.Type)))
	}
	for _, s := range schemas {
		if !containsFold(allowed, s) {
			return errors.InvalidSyntax(SchemasMessage(string(def.Type)))
		}
	}
	for urn := range ext {
		if _, ok := def.Extension(urn); !ok {
			return errors.InvalidSyntax(SchemasMessage(string(def.Type)))
		}
	}
	return nil
}

func requiredError(err error) error {
	verr, ok := err.(*validation.ValidationError)
	if !ok {
		return errors.InvalidValue(err.Error())
	}
	return errors.InvalidValue(fmt.Sprintf("Field [%s] is required", verr.Field))
}

func ruleError(err error) error {
	verr, ok := err.(*validation.ValidationError)
	if !ok {
		return errors.InvalidValue(err.Error())
	}
	return errors.InvalidValue(verr.Message)
}
