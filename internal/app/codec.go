package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"goalflow/internal/domain"
	"goalflow/internal/schema"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatOf picks the document format from a file name.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ToJSON converts input in the given format to JSON.
func ToJSON(raw []byte, format string) ([]byte, error) {
	if format != FormatYAML {
		return raw, nil
	}
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid document yaml: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert yaml document: %w", err)
	}
	return data, nil
}

// DecodeDocument decodes JSON strictly; unknown fields are rejected.
func DecodeDocument(raw []byte) (*domain.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var doc domain.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, &schema.ValidationError{Kind: domain.KindDocument, Issues: []schema.Issue{{
			Path:    "(root)",
			Code:    schema.CodeInvalidType,
			Message: strings.TrimPrefix(err.Error(), "json: "),
		}}}
	}
	return &doc, nil
}

// EncodeDocument renders doc as indented JSON or YAML.
func EncodeDocument(doc *domain.Document, format string) ([]byte, error) {
	if format != FormatYAML {
		return json.MarshalIndent(doc, "", "  ")
	}
	v, err := schema.ToValue(doc)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
