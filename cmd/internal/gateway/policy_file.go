package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type policyFile struct {
	Rules []policyFileRule `yaml:"rules"`
}

type policyFileRule struct {
	Pattern    string   `yaml:"pattern"`
	Visibility string   `yaml:"visibility"`
	Role       string   `yaml:"role"`
	Methods    []string `yaml:"methods"`
}

// LoadPolicyFile reads a YAML route policy:
//
//	rules:
//	  - pattern: /inventory
//	    visibility: public
//	  - pattern: /api/vehicles
//	    visibility: public_read_only
//	  - pattern: /api/users
//	    visibility: role_restricted
//	    role: admin
func LoadPolicyFile(path string) (*Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gateway: read policy: %w", err)
	}
	return ParsePolicy(b)
}

// ParsePolicy decodes a YAML route policy document.
func ParsePolicy(b []byte) (*Policy, error) {
	var doc policyFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("gateway: decode policy: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("gateway: policy has no rules")
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for i, fr := range doc.Rules {
		kind, err := ParseKind(fr.Visibility)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, Rule{
			Pattern:    fr.Pattern,
			Visibility: Visibility{Kind: kind, Role: fr.Role},
			Methods:    fr.Methods,
		})
	}
	return NewPolicy(rules...)
}
