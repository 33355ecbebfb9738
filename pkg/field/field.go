// Package field defines the typed column metadata used by stores and cubes: value parsing and
// coercion, display names, validation rules, and the aggregation metadata carried by cube fields.
package field

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/l7mp/dcube/pkg/util"
)

// Type enumerates the data types supported for field values.
type Type string

const (
	TypeAuto   Type = "auto"
	TypeString Type = "string"
	TypeInt    Type = "int"
	TypeNumber Type = "number"
	TypeBool   Type = "bool"
	TypeDate   Type = "date"
	TypeJSON   Type = "json"
	TypeTags   Type = "tags"
)

// Valid reports whether t is a known field type.
func (t Type) Valid() bool {
	switch t {
	case TypeAuto, TypeString, TypeInt, TypeNumber, TypeBool, TypeDate, TypeJSON, TypeTags:
		return true
	}
	return false
}

// Config describes a Field to be constructed.
type Config struct {
	// Name is the unique key representing this field.
	Name string
	// Type of the field values, default "auto" (no conversion).
	Type Type
	// DisplayName is the user-facing name, defaults to Name transformed via GenDisplayName.
	DisplayName string
	// DefaultValue is used for records with a nil or missing value.
	DefaultValue any
	// Rules to apply to this field during validation.
	Rules []Rule
}

// Field is the metadata for an individual data field within a record.
type Field struct {
	Name         string
	Type         Type
	DisplayName  string
	DefaultValue any
	Rules        []Rule
}

// New creates a Field from a config. Unknown field types and empty names are configuration
// errors and fail fast.
func New(c Config) (*Field, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("field requires a name")
	}
	if c.Type == "" {
		c.Type = TypeAuto
	}
	if !c.Type.Valid() {
		return nil, fmt.Errorf("unknown field type %q for field %q", c.Type, c.Name)
	}
	displayName := c.DisplayName
	if displayName == "" {
		displayName = GenDisplayName(c.Name)
	}
	return &Field{
		Name:         c.Name,
		Type:         c.Type,
		DisplayName:  displayName,
		DefaultValue: c.DefaultValue,
		Rules:        c.Rules,
	}, nil
}

// Parse converts a raw value according to this field's type. Parse is pure and total for any
// JSON-decoded input: nil and missing values resolve to the default value, and values that cannot
// be coerced degrade to nil rather than erroring.
func (f *Field) Parse(v any) any {
	return Parse(v, f.Type, f.DefaultValue)
}

// IsEqual checks two values of this field for deep equality.
func (f *Field) IsEqual(a, b any) bool {
	return util.DeepEqualValues(a, b)
}

// Parse converts a raw value according to a field type. Nil resolves to the default value;
// unconvertible values resolve to nil.
func Parse(v any, t Type, defaultValue any) any {
	if v == nil {
		v = defaultValue
	}
	if v == nil {
		return nil
	}

	switch t {
	case TypeAuto, TypeJSON:
		return v
	case TypeString:
		return toString(v)
	case TypeInt:
		if n, ok := toFloat(v); ok {
			return int64(n)
		}
		return nil
	case TypeNumber:
		if n, ok := toFloat(v); ok {
			return n
		}
		return nil
	case TypeBool:
		return toBool(v)
	case TypeDate:
		return toDate(v)
	case TypeTags:
		return toTags(v)
	}

	// Unknown types are rejected at Field construction, so this is unreachable through a Field.
	return nil
}

// GenDisplayName transforms a short field name into a user-facing name for display,
// e.g. "myField" -> "My Field".
func GenDisplayName(name string) string {
	if name == "id" {
		return "ID"
	}

	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			w := cur.String()
			words = append(words, strings.ToUpper(w[:1])+w[1:])
			cur.Reset()
		}
	}
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
		case unicode.IsUpper(r) && cur.Len() > 0:
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return strings.Join(words, " ")
}

//------------------------
// Coercion helpers
//------------------------

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case nil:
		return false
	default:
		if n, ok := toFloat(v); ok {
			return n != 0
		}
		return true
	}
}

func toDate(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if d, err := time.Parse(layout, val); err == nil {
				return d
			}
		}
		return nil
	default:
		// Numeric timestamps are interpreted as Unix milliseconds.
		if n, ok := toFloat(v); ok {
			return time.UnixMilli(int64(n)).UTC()
		}
		return nil
	}
}

func toTags(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		ret := make([]string, len(val))
		for i, it := range val {
			ret[i] = toString(it)
		}
		return ret
	default:
		return []string{toString(v)}
	}
}
