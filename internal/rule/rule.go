// Package rule implements the policy engine: matching a changed file
// to a Rule, deriving its environment and unique key, and resolving
// per-repository overrides.
package rule

import (
	"fmt"
	"regexp"
	"strings"
)

// SyncMode selects the Sync Engine's diff strategy for a rule.
type SyncMode string

const (
	ModeAuto        SyncMode = "AUTO"
	ModeUpsertAll   SyncMode = "GIT_UPSERT_ALL"
	ModeSmartRepair SyncMode = "GIT_SMART_REPAIR"
	ModeLiveState   SyncMode = "LIVE_STATE"
)

// PatternMapping is one (regex pattern -> templated value) entry. Kept
// as an ordered slice element, not a map value, because filePathMap and
// branchMap resolution depends on declaration order.
type PatternMapping struct {
	Pattern string `json:"pattern"`
	Value   string `json:"value"`
}

// Rule is the policy object binding a platform, a datasource, a set of
// repositories, a file-selection strategy, and an environment-
// derivation strategy.
type Rule struct {
	Name                string            `json:"name"`
	Platform            string            `json:"platform"`
	Datasource          string            `json:"datasource"`
	Repositories        []string          `json:"repositories"`
	ExcludeRepositories []string          `json:"excludeRepositories,omitempty"`
	RootKey             string            `json:"rootKey,omitempty"`
	FileName            string            `json:"fileName,omitempty"`
	FilePathMap         []PatternMapping  `json:"filePathMap,omitempty"`
	BranchMap           []PatternMapping  `json:"branchMap,omitempty"`
	EnvAsBranch         bool              `json:"envAsBranch,omitempty"`
	EnvAsPR             bool              `json:"envAsPR,omitempty"`
	EnvAsTags           bool              `json:"envAsTags,omitempty"`
	UniqueKeyName       string            `json:"uniqueKeyName"`
	VariablesMap        map[string]string `json:"variablesMap,omitempty"`
	SyncMode            SyncMode          `json:"syncMode"`
	DefaultKey          string            `json:"defaultKey,omitempty"`
	UseDefaultFallback  bool              `json:"useDefaultFallback,omitempty"`
	PrunePaths          bool              `json:"prunePaths,omitempty"`
	PruneLast           bool              `json:"pruneLast,omitempty"`
	ReconcileBranches   []string          `json:"reconcileBranches,omitempty"`
	ReconcileInterval   int               `json:"reconcileIntervalSeconds,omitempty"`
	ProtectedKeys       []string          `json:"protectedKeys,omitempty"`
	Overrides           []Override        `json:"overrides,omitempty"`
}

// Override is a conditional patch applied to a base Rule for matching
// repositories. Only the non-nil/non-empty fields replace the base
// rule's corresponding field; maps deep-merge, scalars and lists
// replace wholesale, and a PatternMapping slice is a list here.
type Override struct {
	Enable              bool              `json:"enable"`
	MatchRepositories   []string          `json:"matchRepositories,omitempty"`
	ExcludeRepositories []string          `json:"excludeRepositories,omitempty"`
	FileName            *string           `json:"fileName,omitempty"`
	FilePathMap         []PatternMapping  `json:"filePathMap,omitempty"`
	BranchMap           []PatternMapping  `json:"branchMap,omitempty"`
	EnvAsBranch         *bool             `json:"envAsBranch,omitempty"`
	EnvAsPR             *bool             `json:"envAsPR,omitempty"`
	EnvAsTags           *bool             `json:"envAsTags,omitempty"`
	UniqueKeyName       *string           `json:"uniqueKeyName,omitempty"`
	VariablesMap        map[string]string `json:"variablesMap,omitempty"`
	SyncMode            *SyncMode         `json:"syncMode,omitempty"`
}

// builtinVariables are always available to a unique-key template,
// regardless of which environment strategy is enabled.
var builtinVariables = map[string]bool{
	"repo": true, "repoName": true, "branch": true, "file_path": true, "env": true,
}

// Validate enforces the Rule invariants. It never mutates r.
func (r *Rule) Validate() error {
	if r.Platform == "" {
		return fmt.Errorf("%w: rule %q has no platform", errConfigInvalid, r.Name)
	}
	if r.Datasource == "" {
		return fmt.Errorf("%w: rule %q has no datasource", errConfigInvalid, r.Name)
	}
	if r.FileName == "" && len(r.FilePathMap) == 0 {
		return fmt.Errorf("%w: rule %q must set fileName or filePathMap", errConfigInvalid, r.Name)
	}
	for _, pm := range r.FilePathMap {
		if _, err := regexp.Compile(pm.Pattern); err != nil {
			return fmt.Errorf("%w: rule %q filePathMap pattern %q: %v", errConfigInvalid, r.Name, pm.Pattern, err)
		}
	}
	for _, pm := range r.BranchMap {
		if _, err := regexp.Compile(pm.Pattern); err != nil {
			return fmt.Errorf("%w: rule %q branchMap pattern %q: %v", errConfigInvalid, r.Name, pm.Pattern, err)
		}
	}
	if r.UniqueKeyName == "" {
		return fmt.Errorf("%w: rule %q has no uniqueKeyName", errConfigInvalid, r.Name)
	}
	if err := validateTemplate(r.UniqueKeyName); err != nil {
		return fmt.Errorf("%w: rule %q uniqueKeyName: %v", errConfigInvalid, r.Name, err)
	}
	envStrategies := r.EnvAsBranch || r.EnvAsPR || r.EnvAsTags || len(r.BranchMap) > 0 || len(r.FilePathMap) > 0
	for _, v := range templateVariables(r.UniqueKeyName) {
		if builtinVariables[v] {
			if v == "env" && !envStrategies {
				return fmt.Errorf("%w: rule %q uniqueKeyName references {env} but no env strategy is enabled", errConfigInvalid, r.Name)
			}
			continue
		}
		if _, ok := r.VariablesMap[v]; ok {
			continue
		}
		if r.namedGroupExists(v) {
			continue
		}
		return fmt.Errorf("%w: rule %q uniqueKeyName references undefined variable %q", errConfigInvalid, r.Name, v)
	}
	switch r.SyncMode {
	case ModeAuto, ModeUpsertAll, ModeSmartRepair, ModeLiveState, "":
	default:
		return fmt.Errorf("%w: rule %q has unknown syncMode %q", errConfigInvalid, r.Name, r.SyncMode)
	}
	return nil
}

func (r *Rule) namedGroupExists(name string) bool {
	for _, pm := range r.FilePathMap {
		re, err := regexp.Compile(pm.Pattern)
		if err != nil {
			continue
		}
		for _, g := range re.SubexpNames() {
			if g == name {
				return true
			}
		}
	}
	return false
}

// templateVariables extracts the {name} placeholders of a
// format-template, in the style of Python str.format.
func templateVariables(tmpl string) []string {
	var vars []string
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '{' {
			continue
		}
		j := strings.IndexByte(tmpl[i:], '}')
		if j < 0 {
			break
		}
		name := tmpl[i+1 : i+j]
		if name != "" {
			vars = append(vars, name)
		}
		i += j
	}
	return vars
}

// validateTemplate rejects malformed format-templates (unbalanced braces).
func validateTemplate(tmpl string) error {
	depth := 0
	for _, c := range tmpl {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced '}' in template %q", tmpl)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced '{' in template %q", tmpl)
	}
	return nil
}

// FormatTemplate interpolates {name} placeholders in tmpl from vars,
// mirroring Python's str.format over a dict.
func FormatTemplate(tmpl string, vars map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '{' {
			b.WriteByte(tmpl[i])
			continue
		}
		j := strings.IndexByte(tmpl[i:], '}')
		if j < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		name := tmpl[i+1 : i+j]
		b.WriteString(vars[name])
		i += j
	}
	return b.String()
}

// InScope reports whether a repository falls inside the rule's
// declared scope after exclusions.
func (r *Rule) InScope(repoName string) bool {
	if len(r.Repositories) > 0 && !matchRepositories(r.Repositories, repoName) {
		return false
	}
	return !matchRepositories(r.ExcludeRepositories, repoName)
}

// IsProtected reports whether a key matches the rule's
// prune-protection predicate: a protected key is reported but never
// deleted, even when Git no longer contains it.
func (r *Rule) IsProtected(key string) bool {
	for _, p := range r.ProtectedKeys {
		if p == key || strings.HasPrefix(key, p+"/") {
			return true
		}
	}
	return false
}

// matchRepositories reports whether repoName matches any pattern by
// substring. Override scoping and event routing use this; repository
// selection proper is a Source Adapter concern (see internal/source).
func matchRepositories(patterns []string, repoName string) bool {
	for _, p := range patterns {
		if strings.Contains(repoName, p) {
			return true
		}
	}
	return false
}
