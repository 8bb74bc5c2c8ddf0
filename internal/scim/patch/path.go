package patch

import (
	"fmt"
	"strings"

	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/scim"
	"github.com/openidx/scim-engine/internal/scim/filter"
)

// Path is a parsed PATCH target: [urn:]attr[.sub] or [urn:]attr[filter][.sub]
type Path struct {
	// Raw is the path as sent by the client
	Raw string
	// Extension is the extension schema the path addresses, nil for the core schema
	Extension *scim.Schema
	// Name is the canonical attribute name, empty when the whole extension
	// object is addressed
	Name string
	// Attribute is the attribute definition, nil for attributes of an open schema
	Attribute *scim.Attribute
	Filter    *filter.Expression
	Sub       string
}

// MultiValued reports whether the path addresses a multi-valued attribute
func (p *Path) MultiValued() bool {
	return p.Attribute != nil && p.Attribute.MultiValued
}

// Complex reports whether the path addresses a single complex attribute
func (p *Path) Complex() bool {
	return p.Attribute != nil && p.Attribute.IsComplex() && !p.Attribute.MultiValued
}

// ParsePath resolves a PATCH path against a resource definition
func (in *Interpreter) ParsePath(raw string) (*Path, error) {
	raw = strings.TrimSpace(raw)
	urn, rest := scim.SplitPath(raw)

	schema, ok := in.Schema.Schema(urn)
	if !ok {
		return nil, invalidPath(raw)
	}

	p := &Path{Raw: raw}
	if schema != in.Schema.Core {
		p.Extension = schema
	}
	if rest == "" {
		if p.Extension == nil {
			return nil, invalidPath(raw)
		}
		return p, nil
	}

	attrPart, sub := rest, ""
	if open := strings.Index(rest, "["); open >= 0 {
		closing := strings.LastIndex(rest, "]")
		if closing < open {
			return nil, invalidPath(raw)
		}
		expr, err := in.Filters.Parse(rest[open+1 : closing])
		if err != nil || expr == nil {
			return nil, invalidPath(raw)
		}
		p.Filter = expr

		attrPart = rest[:open]
		after := rest[closing+1:]
		switch {
		case after == "":
		case strings.HasPrefix(after, ".") && len(after) > 1:
			sub = after[1:]
		default:
			return nil, invalidPath(raw)
		}
	} else if dot := strings.Index(rest, "."); dot >= 0 {
		attrPart, sub = rest[:dot], rest[dot+1:]
	}

	if attrPart == "" || strings.Contains(sub, ".") {
		return nil, invalidPath(raw)
	}

	attr, known := schema.Attribute(attrPart)
	switch {
	case known:
		p.Name = attr.Name
		p.Attribute = attr
	case schema.Open:
		p.Name = attrPart
	default:
		return nil, invalidPath(raw)
	}

	if p.Filter != nil && p.Attribute != nil && !p.Attribute.MultiValued {
		return nil, invalidPath(raw)
	}

	if sub != "" {
		switch {
		case p.Attribute == nil:
			p.Sub = sub
		case p.Attribute.IsComplex():
			subAttr, ok := p.Attribute.SubAttribute(sub)
			if !ok {
				return nil, invalidPath(raw)
			}
			p.Sub = subAttr.Name
		default:
			return nil, invalidPath(raw)
		}
	}

	return p, nil
}

func invalidPath(raw string) error {
	return errors.InvalidPath(fmt.Sprintf("The path attribute [%s] is invalid or malformed", raw))
}
