package normalize

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// OrgRule maps organizations matching Pattern (case-insensitive regex) to Name.
type OrgRule struct {
	Pattern string `yaml:"pattern"`
	Name    string `yaml:"name"`
}

type compiledRule struct {
	re   *regexp.Regexp
	name string
}

// OrgMap canonicalizes organization names. Rules are tried in order and the
// first match wins. The zero value and nil map leave names unchanged.
type OrgMap struct {
	rules []compiledRule
}

// NewOrgMap compiles rules into an OrgMap.
func NewOrgMap(rules []OrgRule) (*OrgMap, error) {
	m := &OrgMap{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if strings.TrimSpace(r.Pattern) == "" || strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("org rule %d: pattern and name are required", i)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("org rule %d: compile %q: %w", i, r.Pattern, err)
		}
		m.rules = append(m.rules, compiledRule{re: re, name: r.Name})
	}
	return m, nil
}

// LoadOrgMap reads a YAML list of {pattern, name} rules. An empty path yields
// an empty map.
func LoadOrgMap(path string) (*OrgMap, error) {
	if strings.TrimSpace(path) == "" {
		return &OrgMap{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read org map: %w", err)
	}
	var rules []OrgRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("decode org map %s: %w", path, err)
	}
	return NewOrgMap(rules)
}

// Len reports how many rules are loaded.
func (m *OrgMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// Canonical returns the canonical name for org, or org itself when it is
// empty or no rule matches.
func (m *OrgMap) Canonical(org string) string {
	if m == nil || strings.TrimSpace(org) == "" {
		return org
	}
	for _, r := range m.rules {
		if r.re.MatchString(org) {
			return r.name
		}
	}
	return org
}
