package infra

import (
	"testing"

	"arena-gateway/middleware/ratelimit/domain"
)

func TestParsePolicyFile_MergesOverBuiltins(t *testing.T) {
	raw := []byte(`
policies:
  - name: voting-cast
    window_seconds: 30
    max_count: 5
    scope: principal
  - name: beta-feature
    window_seconds: 10
    max_count: 2
`)
	policies, err := ParsePolicyFile(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	byName := make(map[string]domain.Policy, len(policies))
	for _, p := range policies {
		byName[p.Name] = p
	}

	// 1) a entrada do arquivo substitui a builtin de mesmo nome
	vc, ok := byName["voting-cast"]
	if !ok || vc.WindowSeconds != 30 || vc.MaxCount != 5 {
		t.Fatalf("expected overridden voting-cast 5/30s, got %+v", vc)
	}

	// 2) policy nova entra com scope default principal
	beta, ok := byName["beta-feature"]
	if !ok || beta.Scope != domain.ScopePrincipal {
		t.Fatalf("expected beta-feature with principal scope, got %+v", beta)
	}

	// 3) builtins não citadas permanecem intactas
	burn, ok := byName["vote-purchase-burn"]
	if !ok || burn.MaxCount != 3 {
		t.Fatalf("expected untouched builtin vote-purchase-burn, got %+v", burn)
	}
}

func TestParsePolicyFile_RejectsInvalidEntry(t *testing.T) {
	raw := []byte(`
policies:
  - name: broken
    window_seconds: 0
    max_count: 10
`)
	if _, err := ParsePolicyFile(raw); err == nil {
		t.Fatalf("expected validation error for zero window")
	}

	if _, err := ParsePolicyFile([]byte("policies: {nope")); err == nil {
		t.Fatalf("expected yaml parse error")
	}
}
