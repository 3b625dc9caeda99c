// Package policy parses policy documents and converges the machine's
// managed targets onto them.
package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// Format of an encoded document.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FormatFromContentType maps an HTTP Content-Type to a Format.
func FormatFromContentType(contentType string) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "yaml"):
		return FormatYAML
	case strings.Contains(ct, "json"):
		return FormatJSON
	default:
		return FormatAuto
	}
}

// FormatFromPath maps a file extension to a Format.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json", ".jsonc":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// Parse decodes and validates a policy document. JSON input may carry
// comments and trailing commas. Unknown fields are rejected. Every failure
// wraps curfew.ErrDocumentInvalid.
func Parse(data []byte, format Format) (*model.PolicyDocument, error) {
	if format == FormatAuto {
		format = sniff(data)
	}

	var doc model.PolicyDocument
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, curfew.NewError(curfew.ErrDocumentInvalid, "parse json", err)
		}
		if dec.More() {
			return nil, curfew.NewError(curfew.ErrDocumentInvalid, "parse json", errors.New("trailing data after document"))
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("empty document")
			}
			return nil, curfew.NewError(curfew.ErrDocumentInvalid, "parse yaml", err)
		}
	default:
		return nil, curfew.NewError(curfew.ErrDocumentInvalid, "parse", fmt.Errorf("unknown format %q", format))
	}

	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ReadFile parses a document from disk, choosing the format by extension.
func ReadFile(path string) (*model.PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Validate checks structural constraints on a decoded document.
func Validate(doc *model.PolicyDocument) error {
	if err := validate.Struct(doc); err != nil {
		return curfew.NewError(curfew.ErrDocumentInvalid, "validate", err)
	}
	for name := range doc.Targets {
		if name != strings.ToLower(name) || strings.ContainsAny(name, " /\\") {
			return curfew.NewError(curfew.ErrDocumentInvalid, "validate",
				fmt.Errorf("target name %q must be lowercase without separators", name))
		}
	}
	// Settings decoded from YAML may hold non-string map keys that have no
	// canonical form.
	if _, err := Canonical(doc); err != nil {
		return curfew.NewError(curfew.ErrDocumentInvalid, "validate", err)
	}
	return nil
}

func sniff(data []byte) Format {
	trimmed := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}
