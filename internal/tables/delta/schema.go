package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/leapstack-labs/laketower/internal/adapter"
	"github.com/leapstack-labs/laketower/internal/tables"
)

var decimalPattern = regexp.MustCompile(`^decimal\(\s*(\d+)\s*,\s*(\d+)\s*\)$`)

// primitiveTypes maps Delta primitive type names to DuckDB types.
var primitiveTypes = map[string]string{
	"string":        "VARCHAR",
	"long":          "BIGINT",
	"integer":       "INTEGER",
	"short":         "SMALLINT",
	"byte":          "TINYINT",
	"float":         "FLOAT",
	"double":        "DOUBLE",
	"boolean":       "BOOLEAN",
	"binary":        "BLOB",
	"date":          "DATE",
	"timestamp":     "TIMESTAMPTZ",
	"timestamp_ntz": "TIMESTAMP",
}

// dataType is a Delta schema type: a primitive name, or one of array, map
// and struct.
type dataType struct {
	Primitive string

	Element      *dataType
	ContainsNull bool

	Key               *dataType
	Value             *dataType
	ValueContainsNull bool

	Fields []structField
}

type structField struct {
	Name     string          `json:"name"`
	Type     dataType        `json:"type"`
	Nullable bool            `json:"nullable"`
	Metadata json.RawMessage `json:"metadata"`
}

// structType is the top level table schema.
type structType struct {
	Fields []structField
}

type complexType struct {
	Type              string        `json:"type"`
	ElementType       *dataType     `json:"elementType,omitempty"`
	ContainsNull      *bool         `json:"containsNull,omitempty"`
	KeyType           *dataType     `json:"keyType,omitempty"`
	ValueType         *dataType     `json:"valueType,omitempty"`
	ValueContainsNull *bool         `json:"valueContainsNull,omitempty"`
	Fields            []structField `json:"fields,omitempty"`
}

func (t *dataType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.Primitive)
	}

	var c complexType
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	switch c.Type {
	case "array":
		if c.ElementType == nil {
			return fmt.Errorf("array type without elementType")
		}
		t.Element = c.ElementType
		t.ContainsNull = c.ContainsNull == nil || *c.ContainsNull
	case "map":
		if c.KeyType == nil || c.ValueType == nil {
			return fmt.Errorf("map type without keyType or valueType")
		}
		t.Key, t.Value = c.KeyType, c.ValueType
		t.ValueContainsNull = c.ValueContainsNull == nil || *c.ValueContainsNull
	case "struct":
		t.Fields = c.Fields
	default:
		return fmt.Errorf("unknown complex type %q", c.Type)
	}
	return nil
}

func (t dataType) MarshalJSON() ([]byte, error) {
	switch {
	case t.Element != nil:
		return json.Marshal(complexType{Type: "array", ElementType: t.Element, ContainsNull: &t.ContainsNull})
	case t.Key != nil:
		return json.Marshal(complexType{Type: "map", KeyType: t.Key, ValueType: t.Value, ValueContainsNull: &t.ValueContainsNull})
	case t.Primitive == "":
		return json.Marshal(complexType{Type: "struct", Fields: nonNilFields(t.Fields)})
	default:
		return json.Marshal(t.Primitive)
	}
}

func nonNilFields(fields []structField) []structField {
	if fields == nil {
		return []structField{}
	}
	return fields
}

// IsNested reports whether t is an array, map or struct.
func (t dataType) IsNested() bool {
	return t.Primitive == ""
}

// String renders t the way it is shown to users: long, decimal(10,2),
// array<long>, map<string,long>, struct<a:long,b:string>.
func (t dataType) String() string {
	switch {
	case t.Element != nil:
		return "array<" + t.Element.String() + ">"
	case t.Key != nil:
		return "map<" + t.Key.String() + "," + t.Value.String() + ">"
	case t.Primitive == "":
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		return "struct<" + strings.Join(parts, ",") + ">"
	default:
		return t.Primitive
	}
}

// EngineType returns the DuckDB type of t.
func (t dataType) EngineType() (string, error) {
	switch {
	case t.Element != nil:
		elem, err := t.Element.EngineType()
		if err != nil {
			return "", err
		}
		return elem + "[]", nil
	case t.Key != nil:
		k, err := t.Key.EngineType()
		if err != nil {
			return "", err
		}
		v, err := t.Value.EngineType()
		if err != nil {
			return "", err
		}
		return "MAP(" + k + ", " + v + ")", nil
	case t.Primitive == "":
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			ft, err := f.Type.EngineType()
			if err != nil {
				return "", err
			}
			parts[i] = adapter.QuoteIdent(f.Name) + " " + ft
		}
		return "STRUCT(" + strings.Join(parts, ", ") + ")", nil
	}

	if m := decimalPattern.FindStringSubmatch(t.Primitive); m != nil {
		return "DECIMAL(" + m[1] + "," + m[2] + ")", nil
	}
	if engine, ok := primitiveTypes[t.Primitive]; ok {
		return engine, nil
	}
	return "", fmt.Errorf("unsupported delta type %q", t.Primitive)
}

// parsePrimitive validates a primitive type name such as "long" or
// "decimal(10,2)".
func parsePrimitive(s string) (dataType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, ok := primitiveTypes[s]; ok {
		return dataType{Primitive: s}, nil
	}
	if m := decimalPattern.FindStringSubmatch(s); m != nil {
		return dataType{Primitive: "decimal(" + m[1] + "," + m[2] + ")"}, nil
	}
	return dataType{}, fmt.Errorf("unsupported column type %q", s)
}

func (s *structType) UnmarshalJSON(data []byte) error {
	var t dataType
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	if !t.IsNested() || t.Element != nil || t.Key != nil {
		return fmt.Errorf("table schema must be a struct")
	}
	s.Fields = t.Fields
	return nil
}

func (s structType) MarshalJSON() ([]byte, error) {
	return json.Marshal(dataType{Fields: s.Fields})
}

func parseSchemaString(schemaString string) (*structType, error) {
	var s structType
	if err := json.Unmarshal([]byte(schemaString), &s); err != nil {
		return nil, fmt.Errorf("failed to parse table schema: %w", err)
	}
	return &s, nil
}

func (s *structType) schemaString() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode table schema: %w", err)
	}
	return string(data), nil
}

func (s *structType) field(name string) (structField, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return structField{}, false
}

// toTables converts the schema to the format independent representation.
func (s *structType) toTables() (tables.Schema, error) {
	out := tables.Schema{Fields: make([]tables.Field, 0, len(s.Fields))}
	for _, f := range s.Fields {
		engine, err := f.Type.EngineType()
		if err != nil {
			return tables.Schema{}, fmt.Errorf("column %s: %w", f.Name, err)
		}
		out.Fields = append(out.Fields, tables.Field{
			Name:       f.Name,
			Type:       f.Type.String(),
			Nullable:   f.Nullable,
			EngineType: engine,
		})
	}
	return out, nil
}

// fromTables builds a schema from primitive typed fields.
func fromTables(schema tables.Schema) (*structType, error) {
	s := &structType{Fields: make([]structField, 0, len(schema.Fields))}
	seen := make(map[string]bool, len(schema.Fields))
	for _, f := range schema.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("column name must not be empty")
		}
		key := strings.ToLower(f.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate column %q", f.Name)
		}
		seen[key] = true

		t, err := parsePrimitive(f.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		s.Fields = append(s.Fields, structField{
			Name:     f.Name,
			Type:     t,
			Nullable: f.Nullable,
			Metadata: json.RawMessage("{}"),
		})
	}
	return s, nil
}

// mergeSchema appends the columns of incoming that current lacks as nullable
// columns. Existing columns keep their type. It reports whether the schema
// changed.
func mergeSchema(current *structType, incoming tables.Schema) (*structType, bool, error) {
	in, err := fromTables(incoming)
	if err != nil {
		return nil, false, err
	}

	merged := &structType{Fields: append([]structField(nil), current.Fields...)}
	changed := false
	for _, f := range in.Fields {
		if _, ok := current.field(f.Name); ok {
			continue
		}
		f.Nullable = true
		merged.Fields = append(merged.Fields, f)
		changed = true
	}

	for _, f := range current.Fields {
		if f.Nullable {
			continue
		}
		if _, ok := incoming.Field(f.Name); !ok {
			return nil, false, fmt.Errorf("non-nullable column %s is missing from the imported data", f.Name)
		}
	}
	return merged, changed, nil
}

var integralRank = map[string]int{"byte": 1, "short": 2, "integer": 3, "long": 4}

// assignable reports whether values of primitive type src fit a column of
// type dst without losing information. Text is accepted by every type but
// boolean and is checked value by value when cast.
func assignable(src, dst dataType) bool {
	s, d := src.Primitive, dst.Primitive
	_, srcIntegral := integralRank[s]
	_, dstIntegral := integralRank[d]
	srcPrecision, srcScale, srcDecimal := decimalParams(s)
	dstPrecision, dstScale, dstDecimal := decimalParams(d)

	switch {
	case s == d, d == "string":
		return true
	case s == "string":
		return d != "boolean"
	case srcIntegral:
		return (dstIntegral && integralRank[d] >= integralRank[s]) || d == "float" || d == "double" || dstDecimal
	case s == "float":
		return d == "double"
	case srcDecimal:
		if dstDecimal {
			return dstScale >= srcScale && dstPrecision-dstScale >= srcPrecision-srcScale
		}
		return d == "double"
	case s == "date", s == "timestamp", s == "timestamp_ntz":
		return d == "timestamp" || d == "timestamp_ntz"
	default:
		return false
	}
}

func decimalParams(s string) (precision, scale int, ok bool) {
	m := decimalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	precision, _ = strconv.Atoi(m[1])
	scale, _ = strconv.Atoi(m[2])
	return precision, scale, true
}

// isIntegral reports whether t is one of the Delta integer types.
func isIntegral(t dataType) bool {
	_, ok := integralRank[t.Primitive]
	return ok
}
