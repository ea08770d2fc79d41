// Package profile formats respondent profile descriptions from sampled
// dimension values.
//
// The execution engine treats descriptions as opaque strings; this package
// owns the formatting rules.
package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

// Dimension is one sample-space dimension. Format contains an "X"
// placeholder replaced by the respondent's sampled value.
type Dimension struct {
	Name   string `json:"name"`
	Format string `json:"format"`
}

// Formatter renders profile descriptions from ordered dimensions. It
// implements the engine's ProfileProvider.
type Formatter struct {
	dimensions []Dimension
}

// NewFormatter creates a Formatter over the given ordered dimensions.
func NewFormatter(dims []Dimension) *Formatter {
	return &Formatter{dimensions: dims}
}

// Describe formats a respondent's profile. A preformatted profile (upload
// mode) passes through verbatim; otherwise each dimension's format string is
// applied to the matching sampled value, space-joined in dimension order.
func (f *Formatter) Describe(r models.Respondent) string {
	if r.Profile != "" {
		return r.Profile
	}
	parts := make([]string, 0, len(f.dimensions))
	for i, dim := range f.dimensions {
		if i >= len(r.Values) {
			break
		}
		parts = append(parts, strings.ReplaceAll(dim.Format, "X", r.Values[i]))
	}
	return strings.Join(parts, " ")
}

// LoadDimensions reads a sample-dimensions JSON object of the form
// {"age": {"format": "X years old"}, ...} preserving the object's key order,
// which determines how dimension values map onto respondent value lists.
func LoadDimensions(path string) ([]Dimension, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample dimensions: %w", err)
	}
	dims, err := ParseDimensions(data)
	if err != nil {
		return nil, err
	}
	slog.Debug("Sample dimensions loaded", "path", path, "count", len(dims))
	return dims, nil
}

// ParseDimensions decodes the dimensions object in document order. Go maps
// would lose the order, so the object is walked token by token.
func ParseDimensions(data []byte) ([]Dimension, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid sample dimensions: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("sample dimensions must be a JSON object, got %v", tok)
	}

	var dims []Dimension
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid sample dimensions: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("invalid sample dimension key %v", keyTok)
		}
		var settings struct {
			Format string `json:"format"`
		}
		if err := dec.Decode(&settings); err != nil {
			return nil, fmt.Errorf("invalid settings for dimension %q: %w", name, err)
		}
		dims = append(dims, Dimension{Name: name, Format: settings.Format})
	}
	return dims, nil
}
