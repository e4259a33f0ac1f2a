package core

import "testing"

func TestDefaultExperts_Registry(t *testing.T) {
	reg, err := NewExpertRegistry(DefaultExperts(), DefaultFallbackChains())
	if err != nil {
		t.Fatalf("NewExpertRegistry: %v", err)
	}
	if _, ok := reg.Get(ExpertEngineer); !ok {
		t.Fatalf("engineer missing")
	}
	chain := reg.Fallbacks(ExpertEngineer)
	if len(chain) == 0 || chain[0] != ExpertArchitect {
		t.Fatalf("unexpected engineer chain: %v", chain)
	}
	if got := reg.Fallbacks(ExpertLocal); got == nil || len(got) != 0 {
		t.Fatalf("local should have an empty, non-nil chain: %v", got)
	}
}

func TestNewExpertRegistry_UnknownFallback(t *testing.T) {
	experts := []Expert{{ID: "a", Provider: "p", Model: "m"}}
	_, err := NewExpertRegistry(experts, FallbackChains{"a": {"ghost"}})
	if !IsCategory(err, ErrCatValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExpert_Validate(t *testing.T) {
	if err := (Expert{ID: "a", Provider: "p", Model: "m", ToolChoice: "sometimes"}).Validate(); err == nil {
		t.Fatalf("expected invalid tool choice to fail")
	}
	if err := (Expert{ID: "a", Provider: "p"}).Validate(); err == nil {
		t.Fatalf("expected missing model to fail")
	}
}
