// Package output renders created Keycloak resources for the command line.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/Hostzero-GmbH/keycloak-nanny/internal/keycloak"
)

// Supported formats
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// WriterOptions configures the writer
type WriterOptions struct {
	Format    string // defaults to yaml
	OutputDir string // one file per resource under <dir>/<type>s/
	Out       io.Writer
}

// Writer writes resources to output
type Writer struct {
	opts WriterOptions
}

// NewWriter creates a new writer
func NewWriter(opts WriterOptions) *Writer {
	if opts.Format == "" {
		opts.Format = FormatYAML
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Writer{opts: opts}
}

// ValidateFormat rejects unknown output formats.
func ValidateFormat(format string) error {
	switch format {
	case "", FormatYAML, FormatJSON:
		return nil
	}
	return fmt.Errorf("unsupported output format %q (use %s or %s)", format, FormatYAML, FormatJSON)
}

// WriteResources writes resources to the configured output
func (w *Writer) WriteResources(resources ...*keycloak.KcResource) error {
	if w.opts.OutputDir != "" {
		return w.writeToDirectory(resources)
	}

	objects := make([]interface{}, 0, len(resources))
	for _, res := range resources {
		objects = append(objects, res)
	}
	return w.Write(objects...)
}

// Write writes arbitrary values as separate documents
func (w *Writer) Write(objects ...interface{}) error {
	for i, obj := range objects {
		data, err := w.marshal(obj)
		if err != nil {
			return err
		}

		// Write document separator before each YAML document (except first)
		if i > 0 && w.opts.Format == FormatYAML {
			if _, err := io.WriteString(w.opts.Out, "---\n"); err != nil {
				return err
			}
		}
		if _, err := w.opts.Out.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) marshal(obj interface{}) ([]byte, error) {
	switch w.opts.Format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal output: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal output: %w", err)
		}
		return data, nil
	}
	return nil, ValidateFormat(w.opts.Format)
}

func (w *Writer) writeToDirectory(resources []*keycloak.KcResource) error {
	for _, res := range resources {
		dir := filepath.Join(w.opts.OutputDir, string(res.Type)+"s")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		data, err := w.marshal(res)
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", res.Type, res.Name, err)
		}

		filename := filepath.Join(dir, fileName(res)+"."+w.opts.Format)
		if err := os.WriteFile(filename, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", filename, err)
		}
	}
	return nil
}

var (
	invalidFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	repeatedDashes   = regexp.MustCompile(`-+`)
)

// fileName turns a resource name into a single path element. Client ids
// are often URLs, so separators and other unsafe characters become dashes.
func fileName(res *keycloak.KcResource) string {
	for _, candidate := range []string{res.Name, res.ID} {
		name := invalidFileChars.ReplaceAllString(candidate, "-")
		name = repeatedDashes.ReplaceAllString(name, "-")
		name = strings.Trim(name, "-.")
		if name != "" {
			return name
		}
	}
	return "unnamed"
}
