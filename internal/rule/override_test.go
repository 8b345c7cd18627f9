package rule

import "testing"

func TestResolve_NoOverrides(t *testing.T) {
	base := validRule()
	resolved, err := Resolve(base, "service-api")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.UniqueKeyName != base.UniqueKeyName {
		t.Error("rule changed with no overrides")
	}
}

func TestResolve_MatchingOverride(t *testing.T) {
	base := validRule()
	newKey := "{repoName}-{env}-override"
	mode := ModeUpsertAll
	base.Overrides = []Override{
		{
			Enable:            true,
			MatchRepositories: []string{"service"},
			UniqueKeyName:     &newKey,
			SyncMode:          &mode,
			VariablesMap:      map[string]string{"region": "west"},
		},
	}

	resolved, err := Resolve(base, "service-api")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.UniqueKeyName != newKey {
		t.Errorf("uniqueKeyName = %q, want %q", resolved.UniqueKeyName, newKey)
	}
	if resolved.SyncMode != ModeUpsertAll {
		t.Errorf("syncMode = %q, want %q", resolved.SyncMode, ModeUpsertAll)
	}
	if resolved.VariablesMap["region"] != "west" {
		t.Errorf("variablesMap not deep-merged: %v", resolved.VariablesMap)
	}

	// The base rule must be untouched.
	if base.UniqueKeyName == newKey {
		t.Error("Resolve mutated the base rule")
	}
}

func TestResolve_NonMatchingAndDisabledOverrides(t *testing.T) {
	base := validRule()
	other := "other-key"
	base.Overrides = []Override{
		{Enable: false, UniqueKeyName: &other},
		{Enable: true, MatchRepositories: []string{"unrelated"}, UniqueKeyName: &other},
		{Enable: true, MatchRepositories: []string{"service"}, ExcludeRepositories: []string{"service-api"}, UniqueKeyName: &other},
	}
	resolved, err := Resolve(base, "service-api")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.UniqueKeyName != base.UniqueKeyName {
		t.Error("disabled/non-matching/excluded override applied")
	}
}

func TestResolve_DeclarationOrder(t *testing.T) {
	base := validRule()
	first, second := "first-{env}", "second-{env}"
	base.Overrides = []Override{
		{Enable: true, MatchRepositories: []string{"service"}, UniqueKeyName: &first},
		{Enable: true, MatchRepositories: []string{"service"}, UniqueKeyName: &second},
	}
	resolved, err := Resolve(base, "service")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.UniqueKeyName != second {
		t.Errorf("later override should win: got %q", resolved.UniqueKeyName)
	}
}

func TestResolve_InvalidMergeFails(t *testing.T) {
	base := validRule()
	bad := "{undefined_variable}"
	base.Overrides = []Override{
		{Enable: true, MatchRepositories: []string{"service"}, UniqueKeyName: &bad},
	}
	if _, err := Resolve(base, "service"); err == nil {
		t.Fatal("expected validation failure after merging a bad override")
	}
}
