package form

import (
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
)

// Field is one property of a database schema, in declaration order.
type Field struct {
	Name    string
	Type    string
	Options []string
}

const (
	TypeTitle       = "title"
	TypeRichText    = "rich_text"
	TypeSelect      = "select"
	TypeMultiSelect = "multi_select"
	TypeDate        = "date"
	TypeCheckbox    = "checkbox"
)

var systemTypes = map[string]bool{
	"created_time":     true,
	"last_edited_time": true,
	"created_by":       true,
	"last_edited_by":   true,
}

// IsSystemType reports whether the workspace fills the field itself.
func IsSystemType(t string) bool {
	return systemTypes[t]
}

// ParseSchema reads the "schema" object of a schema response. encoding/json
// would lose the key order, which decides the form layout.
func ParseSchema(body []byte) ([]Field, error) {
	obj, dt, _, err := jsonparser.Get(body, "schema")
	if err != nil {
		return nil, fmt.Errorf("schema object: %w", err)
	}
	if dt == jsonparser.Null {
		return nil, nil
	}
	if dt != jsonparser.Object {
		return nil, errors.New("schema is not an object")
	}

	var fields []Field
	err = jsonparser.ObjectEach(obj, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		if dataType != jsonparser.Object {
			return fmt.Errorf("property %q is not an object", key)
		}
		f := Field{Name: string(key)}
		f.Type, _ = jsonparser.GetString(value, "type")
		if f.Type == TypeSelect || f.Type == TypeMultiSelect {
			_, _ = jsonparser.ArrayEach(value, func(opt []byte, _ jsonparser.ValueType, _ int, err error) {
				if err != nil {
					return
				}
				if name, err := jsonparser.GetString(opt, "name"); err == nil && name != "" {
					f.Options = append(f.Options, name)
				}
			}, f.Type, "options")
		}
		fields = append(fields, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk schema: %w", err)
	}
	return fields, nil
}
