// Package patch applies SCIM PATCH operations (RFC 7644 section 3.5.2) to
// resource attribute trees
package patch

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/scim"
	"github.com/openidx/scim-engine/internal/scim/filter"
)

const (
	opAdd     = "add"
	opReplace = "replace"
	opRemove  = "remove"
)

// Interpreter applies PATCH operations for one resource type. Value filters
// in paths are evaluated by Filters.
type Interpreter struct {
	Filters *filter.Engine
	Schema  *scim.Definition
}

// NewInterpreter creates an interpreter for a resource definition
func NewInterpreter(filters *filter.Engine, def *scim.Definition) *Interpreter {
	return &Interpreter{Filters: filters, Schema: def}
}

// Apply runs ops in order against a copy of attrs and returns the mutated
// copy. The first failing operation aborts the whole request and attrs is
// left untouched.
func (in *Interpreter) Apply(attrs map[string]any, ops []scim.PatchOperation) (map[string]any, error) {
	doc, _ := scim.DeepCopy(attrs).(map[string]any)
	if doc == nil {
		doc = make(map[string]any)
	}

	for _, op := range ops {
		if err := in.apply(doc, op); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (in *Interpreter) apply(doc map[string]any, op scim.PatchOperation) error {
	kind := strings.ToLower(strings.TrimSpace(op.Op))
	switch kind {
	case opAdd, opReplace, opRemove:
	default:
		return errors.InvalidValue(fmt.Sprintf("Invalid patch operation [%s]", op.Op))
	}

	value := scim.DeepCopy(op.Value)
	if strings.TrimSpace(op.Path) != "" {
		p, err := in.ParsePath(op.Path)
		if err != nil {
			return err
		}
		return in.applyPath(doc, kind, p, value)
	}

	if kind == opRemove {
		return errors.NoTarget("The remove operation requires a path")
	}
	return in.applyObject(doc, kind, value)
}

// applyObject handles an operation without a path: every key of the value
// object is applied as its own operation. Keys naming no writable attribute
// are ignored, as they are on create.
func (in *Interpreter) applyObject(doc map[string]any, kind string, value any) error {
	obj, ok := value.(map[string]any)
	if !ok {
		return errors.InvalidValue("The value of a patch operation without a path must be an object")
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if strings.EqualFold(key, in.Schema.Core.ID) {
			if err := in.applyObject(doc, kind, obj[key]); err != nil {
				return err
			}
			continue
		}

		p, err := in.ParsePath(key)
		if err != nil {
			continue
		}
		if p.Attribute != nil && p.Attribute.Mutability == scim.MutabilityReadOnly {
			continue
		}
		if err := in.applyPath(doc, objectKind(kind, p), p, obj[key]); err != nil {
			return err
		}
	}
	return nil
}

// objectKind is the operation applied to one key of a value object. A
// replace of a single complex attribute merges the listed sub-attributes
// and leaves the others in place.
func objectKind(kind string, p *Path) string {
	if kind == opReplace && p.Filter == nil && p.Sub == "" && p.Complex() {
		return opAdd
	}
	return kind
}

func (in *Interpreter) applyPath(doc map[string]any, kind string, p *Path, value any) error {
	if p.Attribute != nil && p.Attribute.Mutability == scim.MutabilityReadOnly {
		return errors.Mutability(fmt.Sprintf("Attribute [%s] is readOnly", p.Name))
	}
	if kind != opRemove && value == nil {
		return errors.InvalidValue(fmt.Sprintf("The %s operation on [%s] requires a value", kind, p.Raw))
	}

	target := doc
	if p.Extension != nil {
		extKey, found := scim.FindKey(doc, p.Extension.ID)
		ext, _ := doc[extKey].(map[string]any)
		if ext == nil {
			if kind == opRemove {
				return nil
			}
			extKey = p.Extension.ID
			ext = make(map[string]any)
			doc[extKey] = ext
		}

		if p.Name == "" {
			if kind == opRemove {
				delete(doc, extKey)
				return nil
			}
			return in.applyExtensionObject(doc, kind, p, value)
		}

		target = ext
		defer func() {
			if len(ext) == 0 && found {
				delete(doc, extKey)
			}
		}()
	}

	value = coerce(p, value)
	switch kind {
	case opAdd:
		return in.add(target, p, value)
	case opReplace:
		return in.replace(target, p, value)
	default:
		return in.remove(target, p, value)
	}
}

// applyExtensionObject applies each key of value inside an extension
func (in *Interpreter) applyExtensionObject(doc map[string]any, kind string, p *Path, value any) error {
	obj, ok := value.(map[string]any)
	if !ok {
		return errors.InvalidValue(fmt.Sprintf("The value of [%s] must be an object", p.Raw))
	}
	for k, v := range obj {
		sub, err := in.ParsePath(p.Extension.ID + ":" + k)
		if err != nil {
			return err
		}
		if err := in.applyPath(doc, objectKind(kind, sub), sub, v); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) add(m map[string]any, p *Path, value any) error {
	key := keyFor(m, p.Name)

	switch {
	case p.Filter != nil:
		return in.updateMatches(m, key, p, value)

	case p.Sub != "":
		if p.MultiValued() {
			return errors.InvalidPath(fmt.Sprintf("The path [%s] requires a value filter", p.Raw))
		}
		child, err := childMap(m, key, p)
		if err != nil {
			return err
		}
		child[keyFor(child, p.Sub)] = value

	case p.MultiValued():
		existing := asList(m[key])
		for _, v := range asList(value) {
			if !containsValue(existing, v) {
				existing = append(existing, v)
			}
		}
		m[key] = existing

	case p.Complex():
		obj, ok := value.(map[string]any)
		if !ok {
			return errors.InvalidValue(fmt.Sprintf("The value of [%s] must be an object", p.Raw))
		}
		child, err := childMap(m, key, p)
		if err != nil {
			return err
		}
		for k, v := range obj {
			child[keyFor(child, subName(p.Attribute, k))] = v
		}

	default:
		m[key] = value
	}
	return nil
}

func (in *Interpreter) replace(m map[string]any, p *Path, value any) error {
	key := keyFor(m, p.Name)

	switch {
	case p.Filter != nil:
		return in.updateMatches(m, key, p, value)

	case p.Sub != "":
		if p.MultiValued() {
			return errors.InvalidPath(fmt.Sprintf("The path [%s] requires a value filter", p.Raw))
		}
		child, err := childMap(m, key, p)
		if err != nil {
			return err
		}
		child[keyFor(child, p.Sub)] = value

	case p.MultiValued():
		m[key] = asList(value)

	default:
		m[key] = value
	}
	return nil
}

func (in *Interpreter) remove(m map[string]any, p *Path, value any) error {
	key, found := scim.FindKey(m, p.Name)
	if !found {
		return nil
	}

	switch {
	case p.Filter != nil:
		list := asList(m[key])
		kept := make([]any, 0, len(list))
		for _, elem := range list {
			em, ok := elem.(map[string]any)
			matched := ok && in.Filters.Matches(p.Filter, em)
			if matched && p.Sub != "" {
				if subKey, ok := scim.FindKey(em, p.Sub); ok {
					delete(em, subKey)
				}
			}
			if !matched || p.Sub != "" {
				kept = append(kept, elem)
			}
		}
		setOrDelete(m, key, kept)

	case p.Sub != "":
		if p.MultiValued() {
			for _, elem := range asList(m[key]) {
				if em, ok := elem.(map[string]any); ok {
					if subKey, ok := scim.FindKey(em, p.Sub); ok {
						delete(em, subKey)
					}
				}
			}
			return nil
		}
		child, ok := m[key].(map[string]any)
		if !ok {
			return nil
		}
		if subKey, ok := scim.FindKey(child, p.Sub); ok {
			delete(child, subKey)
		}
		if len(child) == 0 {
			delete(m, key)
		}

	case p.MultiValued() && value != nil:
		// Azure AD style: remove the listed elements from the attribute
		targets := asList(value)
		kept := make([]any, 0)
		for _, elem := range asList(m[key]) {
			if !matchesAny(elem, targets) {
				kept = append(kept, elem)
			}
		}
		setOrDelete(m, key, kept)

	default:
		delete(m, key)
	}
	return nil
}

// updateMatches writes value into every element matched by the path filter:
// into the sub-attribute when one is named, merging an object otherwise
func (in *Interpreter) updateMatches(m map[string]any, key string, p *Path, value any) error {
	list := asList(m[key])
	obj, isObject := value.(map[string]any)
	if p.Sub == "" && !isObject {
		return errors.InvalidValue(fmt.Sprintf("The value of [%s] must be an object", p.Raw))
	}

	matched := 0
	for _, elem := range list {
		em, ok := elem.(map[string]any)
		if !ok || !in.Filters.Matches(p.Filter, em) {
			continue
		}
		matched++
		if p.Sub != "" {
			em[keyFor(em, p.Sub)] = scim.DeepCopy(value)
			continue
		}
		for k, v := range obj {
			em[keyFor(em, subName(p.Attribute, k))] = scim.DeepCopy(v)
		}
	}

	if matched == 0 {
		return errors.NoTarget(fmt.Sprintf("No value matched the filter in path [%s]", p.Raw))
	}
	m[key] = list
	return nil
}

// ============================================================
// Attribute tree helpers
// ============================================================

// keyFor returns the key already holding name in m, or name itself
func keyFor(m map[string]any, name string) string {
	if key, ok := scim.FindKey(m, name); ok {
		return key
	}
	return name
}

// subName returns the schema spelling of a sub-attribute name
func subName(attr *scim.Attribute, name string) string {
	if attr != nil {
		if sub, ok := attr.SubAttribute(name); ok {
			return sub.Name
		}
	}
	return name
}

// childMap returns the object at m[key], creating it when absent
func childMap(m map[string]any, key string, p *Path) (map[string]any, error) {
	switch v := m[key].(type) {
	case map[string]any:
		return v, nil
	case nil:
		child := make(map[string]any)
		m[key] = child
		return child, nil
	}
	return nil, errors.InvalidPath(fmt.Sprintf("The path [%s] does not address a complex attribute", p.Raw))
}

func asList(v any) []any {
	switch val := v.(type) {
	case nil:
		return []any{}
	case []any:
		return val
	}
	return []any{v}
}

func setOrDelete(m map[string]any, key string, list []any) {
	if len(list) == 0 {
		delete(m, key)
		return
	}
	m[key] = list
}

func containsValue(list []any, v any) bool {
	for _, existing := range list {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}

// matchesAny reports whether elem is one of targets. Object targets carrying
// a value match any element with that value.
func matchesAny(elem any, targets []any) bool {
	for _, t := range targets {
		tm, isMap := t.(map[string]any)
		em, elemIsMap := elem.(map[string]any)
		if isMap && elemIsMap {
			if tk, ok := scim.FindKey(tm, "value"); ok {
				if ek, ok := scim.FindKey(em, "value"); ok && reflect.DeepEqual(tm[tk], em[ek]) {
					return true
				}
				continue
			}
		}
		if reflect.DeepEqual(elem, t) {
			return true
		}
	}
	return false
}

// coerce converts "True"/"False" strings sent for boolean attributes, as
// some provisioning clients do
func coerce(p *Path, value any) any {
	attr := p.Attribute
	if attr != nil && p.Sub != "" {
		attr, _ = attr.SubAttribute(p.Sub)
	}
	if attr == nil || attr.Type != scim.TypeBoolean {
		return value
	}
	if s, ok := value.(string); ok {
		switch strings.ToLower(s) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return value
}
