package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// NoAlarms is the summary of an empty alert list.
const NoAlarms = "No alarms"

// codeWidth is the digit count of a catalog Id.
const codeWidth = 4

// Lookup maps a padded code to its label.
type Lookup map[string]string

// Catalog loads the current code-to-label lookup.
type Catalog interface {
	Load(ctx context.Context) (Lookup, error)
}

// entry is one element of the catalog file.
type entry struct {
	ID   string `json:"Id"`
	Code string `json:"Code"`
}

// FileCatalog reads the lookup from a JSON file on every Load.
type FileCatalog struct {
	path string
}

// NewFileCatalog creates a catalog backed by path.
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

// Load reads and parses the catalog file.
func (c *FileCatalog) Load(ctx context.Context) (Lookup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrCatalogUnavailable, c.path, err)
	}

	lookup := make(Lookup, len(entries))
	for _, e := range entries {
		lookup[e.ID] = e.Code
	}
	return lookup, nil
}

// SplitCodes splits the raw alert string and pads every non-empty code to
// four digits. Empty elements are kept as-is, so "" yields [""].
func SplitCodes(raw string) []string {
	parts := strings.Split(raw, ";")
	for i, p := range parts {
		if p != "" && len(p) < codeWidth {
			parts[i] = strings.Repeat("0", codeWidth-len(p)) + p
		}
	}
	return parts
}

// Labels resolves padded codes. Unknown codes render as "Unknown (<code>)".
// An empty list or a single empty code yields [""].
func Labels(codes []string, lookup Lookup) []string {
	if len(codes) == 0 || (len(codes) == 1 && codes[0] == "") {
		return []string{""}
	}

	labels := make([]string, len(codes))
	for i, code := range codes {
		if label, ok := lookup[code]; ok {
			labels[i] = label
			continue
		}
		labels[i] = fmt.Sprintf("Unknown (%s)", code)
	}
	return labels
}

// Summary joins labels for display, or returns NoAlarms for [""].
func Summary(labels []string) string {
	if len(labels) == 0 || (len(labels) == 1 && labels[0] == "") {
		return NoAlarms
	}
	return strings.Join(labels, ", ")
}

// Resolve loads the catalog and returns the display summary of raw.
// A catalog failure is returned as-is; callers must not default it.
func Resolve(ctx context.Context, catalog Catalog, raw string) (string, error) {
	lookup, err := catalog.Load(ctx)
	if err != nil {
		return "", err
	}
	return Summary(Labels(SplitCodes(raw), lookup)), nil
}
