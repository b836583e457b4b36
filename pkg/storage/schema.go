package storage

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Built-in base classes for vertices and edges.
const (
	ClassVertex = "V"
	ClassEdge   = "E"
)

// PropertyType constrains the values a declared property may hold.
type PropertyType string

const (
	TypeAny          PropertyType = "ANY"
	TypeString       PropertyType = "STRING"
	TypeInteger      PropertyType = "INTEGER"
	TypeDouble       PropertyType = "DOUBLE"
	TypeBoolean      PropertyType = "BOOLEAN"
	TypeEmbeddedList PropertyType = "EMBEDDEDLIST"
	TypeEmbeddedMap  PropertyType = "EMBEDDEDMAP"
	TypeLink         PropertyType = "LINK"
)

var propertyTypes = map[string]PropertyType{
	"ANY":          TypeAny,
	"STRING":       TypeString,
	"INTEGER":      TypeInteger,
	"LONG":         TypeInteger,
	"SHORT":        TypeInteger,
	"DOUBLE":       TypeDouble,
	"FLOAT":        TypeDouble,
	"BOOLEAN":      TypeBoolean,
	"EMBEDDEDLIST": TypeEmbeddedList,
	"EMBEDDEDSET":  TypeEmbeddedList,
	"EMBEDDEDMAP":  TypeEmbeddedMap,
	"LINK":         TypeLink,
}

// ParsePropertyType maps a type name (case-insensitive) to a PropertyType.
func ParsePropertyType(name string) (PropertyType, error) {
	t, ok := propertyTypes[strings.ToUpper(name)]
	if !ok {
		return "", errors.Wrapf(ErrSchema, "unknown property type %q", name)
	}
	return t, nil
}

// Accepts reports whether v is a valid value for the type. nil is always accepted.
func (t PropertyType) Accepts(v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case TypeDouble:
		switch v.(type) {
		case float32, float64, int, int64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeEmbeddedList:
		_, ok := v.([]any)
		return ok
	case TypeEmbeddedMap:
		_, ok := v.(map[string]any)
		return ok
	case TypeLink:
		_, ok := v.(RecordID)
		return ok
	}
	return true
}

// ClassDef describes a class. Classes are optional: records may be stored in a
// class that was never declared, in which case no property is enforced and the
// class has no superclass.
type ClassDef struct {
	Name       string
	Super      string
	Properties map[string]PropertyType
}

var builtinClasses = map[string]*ClassDef{
	"v": {Name: ClassVertex},
	"e": {Name: ClassEdge},
}

func builtinClass(name string) (*ClassDef, bool) {
	def, ok := builtinClasses[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return def.copy(), true
}

func (c *ClassDef) copy() *ClassDef {
	cp := &ClassDef{Name: c.Name, Super: c.Super, Properties: make(map[string]PropertyType, len(c.Properties))}
	for k, v := range c.Properties {
		cp.Properties[k] = v
	}
	return cp
}

type classLookup interface {
	Class(name string) (*ClassDef, error)
}

// IsSubclassOf reports whether class equals super or inherits from it.
// Undeclared classes only match themselves.
func IsSubclassOf(tx classLookup, class, super string) (bool, error) {
	seen := make(map[string]bool)
	for name := class; name != ""; {
		if strings.EqualFold(name, super) {
			return true, nil
		}
		key := strings.ToLower(name)
		if seen[key] {
			return false, errors.Wrapf(ErrSchema, "class hierarchy cycle at %q", name)
		}
		seen[key] = true

		def, err := tx.Class(name)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		name = def.Super
	}
	return false, nil
}

// Subclasses returns class and every declared class inheriting from it, sorted by name.
func Subclasses(tx Transaction, class string) ([]string, error) {
	defs, err := tx.Classes()
	if err != nil {
		return nil, err
	}
	out := []string{class}
	for _, def := range defs {
		if strings.EqualFold(def.Name, class) {
			continue
		}
		ok, err := IsSubclassOf(tx, def.Name, class)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, def.Name)
		}
	}
	sort.Strings(out[1:])
	return out, nil
}

// validateRecord checks r against the declared properties of its class chain.
func validateRecord(tx classLookup, r *Record) error {
	if r == nil {
		return ErrInvalidData
	}
	if !r.ID.Valid() {
		return ErrInvalidID
	}
	if r.Class == "" {
		return errors.Wrap(ErrInvalidData, "record has no class")
	}
	seen := make(map[string]bool)
	for name := r.Class; name != "" && !seen[strings.ToLower(name)]; {
		seen[strings.ToLower(name)] = true
		def, err := tx.Class(name)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		for prop, typ := range def.Properties {
			if v, ok := r.Fields[prop]; ok && !typ.Accepts(v) {
				return errors.Wrapf(ErrSchema, "%s.%s must be %s, got %T", def.Name, prop, typ, v)
			}
		}
		name = def.Super
	}
	return nil
}

// validateClass checks a class definition before it is stored.
func validateClass(tx classLookup, def *ClassDef) error {
	if def == nil || def.Name == "" {
		return errors.Wrap(ErrSchema, "class name is required")
	}
	if _, ok := builtinClass(def.Name); ok {
		return errors.Wrapf(ErrSchema, "class %s is built in", def.Name)
	}
	if def.Super != "" {
		if _, err := tx.Class(def.Super); err != nil {
			return errors.Wrapf(err, "superclass %s", def.Super)
		}
	}
	return nil
}
