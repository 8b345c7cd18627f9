package rule

import "fmt"

// Resolve applies base's declared overrides, in declaration order,
// for a given repository name: each override is applied one at a time
// and the result revalidated, rather than one giant merge followed by
// a single validation pass.
func Resolve(base *Rule, repoName string) (*Rule, error) {
	resolved := base.clone()
	for _, ov := range base.Overrides {
		if !ov.Enable {
			continue
		}
		if len(ov.MatchRepositories) > 0 && !matchRepositories(ov.MatchRepositories, repoName) {
			continue
		}
		if len(ov.ExcludeRepositories) > 0 && matchRepositories(ov.ExcludeRepositories, repoName) {
			continue
		}
		applyOverride(resolved, ov)
		if err := resolved.Validate(); err != nil {
			return nil, fmt.Errorf("override for rule %q failed validation: %w", base.Name, err)
		}
	}
	return resolved, nil
}

func applyOverride(r *Rule, ov Override) {
	if ov.FileName != nil {
		r.FileName = *ov.FileName
	}
	if ov.FilePathMap != nil {
		r.FilePathMap = ov.FilePathMap
	}
	if ov.BranchMap != nil {
		r.BranchMap = ov.BranchMap
	}
	if ov.EnvAsBranch != nil {
		r.EnvAsBranch = *ov.EnvAsBranch
	}
	if ov.EnvAsPR != nil {
		r.EnvAsPR = *ov.EnvAsPR
	}
	if ov.EnvAsTags != nil {
		r.EnvAsTags = *ov.EnvAsTags
	}
	if ov.UniqueKeyName != nil {
		r.UniqueKeyName = *ov.UniqueKeyName
	}
	if ov.VariablesMap != nil {
		merged := make(map[string]string, len(r.VariablesMap)+len(ov.VariablesMap))
		for k, v := range r.VariablesMap {
			merged[k] = v
		}
		for k, v := range ov.VariablesMap {
			merged[k] = v
		}
		r.VariablesMap = merged
	}
	if ov.SyncMode != nil {
		r.SyncMode = *ov.SyncMode
	}
}

func (r *Rule) clone() *Rule {
	c := *r
	c.Repositories = append([]string(nil), r.Repositories...)
	c.ExcludeRepositories = append([]string(nil), r.ExcludeRepositories...)
	c.FilePathMap = append([]PatternMapping(nil), r.FilePathMap...)
	c.BranchMap = append([]PatternMapping(nil), r.BranchMap...)
	c.ProtectedKeys = append([]string(nil), r.ProtectedKeys...)
	c.ReconcileBranches = append([]string(nil), r.ReconcileBranches...)
	if r.VariablesMap != nil {
		c.VariablesMap = make(map[string]string, len(r.VariablesMap))
		for k, v := range r.VariablesMap {
			c.VariablesMap[k] = v
		}
	}
	c.Overrides = nil
	return &c
}
