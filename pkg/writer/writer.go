// Package writer renders reports as JSON or YAML.
package writer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/antisplit/pkg/errors"
)

// Writer renders values of type T.
type Writer[T any] interface {
	Write(data T, w io.Writer) error
}

// ForFormat returns the writer for "json" or "yaml"/"yml".
func ForFormat[T any](format string) (Writer[T], error) {
	switch strings.ToLower(format) {
	case "json":
		return NewPrettyJSONWriter[T](), nil
	case "yaml", "yml", "":
		return NewYAMLWriter[T](), nil
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unsupported output format %q", format)
	}
}

// JSONWriter writes data as JSON.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: ""}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write writes the data as JSON to the writer.
func (w *JSONWriter[T]) Write(data T, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	return encoder.Encode(data)
}

// YAMLWriter writes data as a YAML document.
type YAMLWriter[T any] struct {
	Indent int
}

// NewYAMLWriter creates a YAML writer with two-space indentation.
func NewYAMLWriter[T any]() *YAMLWriter[T] {
	return &YAMLWriter[T]{Indent: 2}
}

// Write writes the data as YAML to the writer.
func (w *YAMLWriter[T]) Write(data T, writer io.Writer) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(w.Indent)
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return encoder.Close()
}

// WriteToFile renders data with w into a new file at path.
func WriteToFile[T any](w Writer[T], data T, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return apperrors.IO(err, "create %s", path)
	}
	if err := w.Write(data, file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return apperrors.IO(err, "close %s", path)
	}
	return nil
}
