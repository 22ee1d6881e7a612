package infra

import (
	"fmt"
	"os"

	"arena-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

// policyFile é o formato YAML do override de policies (POLICY_FILE).
//
//	policies:
//	  - name: voting-cast
//	    window_seconds: 60
//	    max_count: 15
//	    scope: principal
//	    skip_on_success: false
type policyFile struct {
	Policies []policyEntry `yaml:"policies"`
}

type policyEntry struct {
	Name          string `yaml:"name"`
	WindowSeconds int64  `yaml:"window_seconds"`
	MaxCount      int64  `yaml:"max_count"`
	Cost          int64  `yaml:"cost"`
	Scope         string `yaml:"scope"`
	SkipOnSuccess bool   `yaml:"skip_on_success"`
}

// LoadPolicyFile lê e valida um arquivo de policies.
//
// As entradas substituem as builtins de mesmo nome; builtins não citadas
// permanecem (o arquivo é um override, não o conjunto completo).
func LoadPolicyFile(path string) ([]domain.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicyFile(raw)
}

// ParsePolicyFile interpreta o YAML já lido (reload via admin).
func ParsePolicyFile(raw []byte) ([]domain.Policy, error) {
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	merged := make(map[string]domain.Policy)
	for _, p := range domain.BuiltinPolicies() {
		merged[p.Name] = p
	}
	for _, e := range pf.Policies {
		p := domain.Policy{
			Name:          e.Name,
			WindowSeconds: e.WindowSeconds,
			MaxCount:      e.MaxCount,
			Cost:          e.Cost,
			Scope:         domain.Scope(e.Scope),
			SkipOnSuccess: e.SkipOnSuccess,
		}
		if p.Scope == "" {
			p.Scope = domain.ScopePrincipal
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		merged[p.Name] = p
	}

	out := make([]domain.Policy, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	return out, nil
}
