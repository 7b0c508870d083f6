// Package branchexec provides the branch executors that produce per-platform mention reports.
package branchexec

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var branchIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Branch describes one platform searched by an analysis.
type Branch struct {
	ID           string `yaml:"id"`
	Platform     string `yaml:"platform"`
	Instructions string `yaml:"instructions"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the branch takes part in analyses by default.
func (b Branch) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// Catalog is the ordered set of known branches.
type Catalog struct {
	Branches []Branch `yaml:"branches"`

	byID map[string]int
}

// LoadCatalog reads the catalog at path, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return ParseCatalog(defaultCatalog)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read branch catalog: %w", err)
	}
	c, err := ParseCatalog(b)
	if err != nil {
		return nil, fmt.Errorf("branch catalog %s: %w", path, err)
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		//nolint:forbidigo // embedded catalog is validated by tests
		panic(err)
	}
	return c
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode branch catalog: %w", err)
	}
	if len(c.Branches) == 0 {
		return nil, errors.New("branch catalog is empty")
	}

	c.byID = make(map[string]int, len(c.Branches))
	for i := range c.Branches {
		br := &c.Branches[i]
		br.ID = strings.ToLower(strings.TrimSpace(br.ID))
		br.Platform = strings.TrimSpace(br.Platform)
		br.Instructions = strings.TrimSpace(br.Instructions)
		if !branchIDPattern.MatchString(br.ID) {
			return nil, fmt.Errorf("branch %d: invalid id %q", i, br.ID)
		}
		if _, dup := c.byID[br.ID]; dup {
			return nil, fmt.Errorf("branch %q is defined more than once", br.ID)
		}
		if br.Platform == "" {
			br.Platform = br.ID
		}
		c.byID[br.ID] = i
	}
	return &c, nil
}

// Get returns the branch with id.
func (c *Catalog) Get(id string) (Branch, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Branch{}, false
	}
	return c.Branches[i], true
}

// Enabled returns the ids of enabled branches in catalog order.
func (c *Catalog) Enabled() []string {
	out := make([]string, 0, len(c.Branches))
	for _, br := range c.Branches {
		if br.IsEnabled() {
			out = append(out, br.ID)
		}
	}
	return out
}

// Select resolves the configured branch ids against the catalog. An empty selection
// means every enabled branch; unknown or disabled ids are an error.
func (c *Catalog) Select(ids []string) ([]string, error) {
	if len(ids) == 0 {
		out := c.Enabled()
		if len(out) == 0 {
			return nil, errors.New("branch catalog has no enabled branches")
		}
		return out, nil
	}
	out := make([]string, 0, len(ids))
	var unknown []string
	for _, id := range ids {
		br, ok := c.Get(id)
		switch {
		case !ok:
			unknown = append(unknown, id)
		case !br.IsEnabled():
			return nil, fmt.Errorf("branch %q is disabled in the catalog", id)
		default:
			out = append(out, id)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown branches: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}
