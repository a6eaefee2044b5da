package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"goalflow/internal/domain"
	"goalflow/internal/schema"
)

// merge applies updates as a shallow patch over the JSON form of current.
// The id always keeps its original value.
func merge[T any](kind domain.Kind, current T, updates map[string]any) (T, error) {
	var out T
	base, err := schema.ToValue(current)
	if err != nil {
		return out, fmt.Errorf("encode %s: %w", kind, err)
	}
	obj, ok := base.(map[string]any)
	if !ok {
		return out, fmt.Errorf("encode %s: not an object", kind)
	}
	// Round-trip the patch so values coming from Go callers (ints, typed
	// slices) look like decoded JSON.
	patch, err := schema.ToValue(updates)
	if err != nil {
		return out, fmt.Errorf("encode updates: %w", err)
	}
	fields, _ := patch.(map[string]any)
	id, hadID := obj["id"]
	for k, v := range fields {
		if v == nil {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}
	if hadID {
		obj["id"] = id
	}
	if err := schema.Strict(kind, schema.ValidateValue(kind, obj)); err != nil {
		return out, err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return out, fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := decode(kind, data, &out); err != nil {
		return out, err
	}
	return out, nil
}

// decode unmarshals strictly; unknown fields and type mismatches are
// reported as INVALID_TYPE issues.
func decode(kind domain.Kind, data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return decodeError(kind, err)
	}
	return nil
}

func decodeError(kind domain.Kind, err error) error {
	issue := schema.Issue{Path: "(root)", Code: schema.CodeInvalidType, Message: err.Error()}
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			issue.Path = typeErr.Field
		}
		issue.Message = fmt.Sprintf("%s must be %s, got %s", issue.Field(), jsonType(typeErr.Type), typeErr.Value)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		name := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		issue.Path = name
		issue.Message = fmt.Sprintf("unknown field %q", name)
	}
	return &schema.ValidationError{Kind: kind, Issues: []schema.Issue{issue}}
}

func jsonType(t reflect.Type) string {
	if t == nil {
		return "a value"
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Map, reflect.Struct:
		return "an object"
	case reflect.Pointer:
		return jsonType(t.Elem())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	default:
		return t.String()
	}
}
