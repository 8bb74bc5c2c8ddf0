package scim

import (
	"encoding/json"
	"strings"
)

// User is the SCIM User resource. Password is write-only: it is hashed by
// the service on write and never rendered.
type User struct {
	Schemas           []string          `json:"schemas"`
	ID                string            `json:"id,omitempty"`
	ExternalID        string            `json:"externalId,omitempty"`
	UserName          string            `json:"userName"`
	Name              *Name             `json:"name,omitempty"`
	DisplayName       string            `json:"displayName,omitempty"`
	NickName          string            `json:"nickName,omitempty"`
	ProfileURL        string            `json:"profileUrl,omitempty"`
	Title             string            `json:"title,omitempty"`
	UserType          string            `json:"userType,omitempty"`
	PreferredLanguage string            `json:"preferredLanguage,omitempty"`
	Locale            string            `json:"locale,omitempty"`
	Timezone          string            `json:"timezone,omitempty"`
	Active            *bool             `json:"active,omitempty"`
	Password          string            `json:"password,omitempty"`
	Emails            []MultiValuedAttr `json:"emails,omitempty"`
	PhoneNumbers      []MultiValuedAttr `json:"phoneNumbers,omitempty"`
	Photos            []MultiValuedAttr `json:"photos,omitempty"`
	Meta              *Meta             `json:"meta,omitempty"`
	Extensions        Extensions        `json:"-"`

	passwordHash string
}

// Name is the components of a user's name
type Name struct {
	Formatted       string `json:"formatted,omitempty"`
	FamilyName      string `json:"familyName,omitempty"`
	GivenName       string `json:"givenName,omitempty"`
	MiddleName      string `json:"middleName,omitempty"`
	HonorificPrefix string `json:"honorificPrefix,omitempty"`
	HonorificSuffix string `json:"honorificSuffix,omitempty"`
}

// MultiValuedAttr is an element of emails, phoneNumbers or photos
type MultiValuedAttr struct {
	Value   string `json:"value,omitempty"`
	Display string `json:"display,omitempty"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

type userAlias User

// MarshalJSON renders the core attributes followed by extension objects
func (u User) MarshalJSON() ([]byte, error) {
	return marshalWithExtensions(userAlias(u), u.Extensions)
}

// UnmarshalJSON decodes core attributes and URN keyed extensions
func (u *User) UnmarshalJSON(data []byte) error {
	var a userAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	ext, err := unmarshalExtensions(data)
	if err != nil {
		return err
	}
	*u = User(a)
	u.Extensions = ext
	return nil
}

func (u *User) ResourceType() ResourceType { return ResourceUser }
func (u *User) GetID() string { return u.ID }
func (u *User) SetID(id string) { u.ID = id }
func (u *User) GetMeta() *Meta { return u.Meta }
func (u *User) SetMeta(meta *Meta) { u.Meta = meta }
func (u *User) GetSchemas() []string { return u.Schemas }
func (u *User) UniqueKey() string { return u.UserName }

// PasswordHash returns the stored argon2id hash
func (u *User) PasswordHash() string { return u.passwordHash }

// SetPasswordHash stores an argon2id hash
func (u *User) SetPasswordHash(hash string) { u.passwordHash = hash }

// Extension returns the attributes of one extension schema, or nil
func (u *User) Extension(urn string) map[string]any {
	for key, attrs := range u.Extensions {
		if strings.EqualFold(key, urn) {
			return attrs
		}
	}
	return nil
}

// IsPreRegistration reports whether the custom extension flags the user as
// pending registration
func (u *User) IsPreRegistration() bool {
	ext := u.Extension(SchemaCustomUser)
	for key, val := range ext {
		if strings.EqualFold(key, "preRegistration") {
			flag, ok := val.(bool)
			return ok && flag
		}
	}
	return false
}

// PrimaryEmail returns the primary email, falling back to the first one
func (u *User) PrimaryEmail() string {
	for _, e := range u.Emails {
		if e.Primary {
			return e.Value
		}
	}
	if len(u.Emails) > 0 {
		return u.Emails[0].Value
	}
	return ""
}

// NormalizeSchemas canonicalises extension keys and lists exactly the
// populated extensions in schemas
func (u *User) NormalizeSchemas() {
	u.Extensions = canonicalExtensions(UserDefinition, u.Extensions)
	u.Schemas = ensureSchemas(UserDefinition, u.Schemas, u.Extensions)
}
