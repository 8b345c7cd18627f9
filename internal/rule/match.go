package rule

import (
	"regexp"
	"strings"
)

// MatchContext is the result of a successful per-file match: the
// resolved environment, the formatted unique key, and the full
// variable set used to format it (exposed for diagnostics).
type MatchContext struct {
	UniqueKey string
	Env       string
	Variables map[string]string
}

const refsHeadsPrefix = "refs/heads/"

func stripBranch(branch string) string {
	return strings.TrimPrefix(branch, refsHeadsPrefix)
}

// Match resolves the environment and unique key for one file change.
// The same (filePath, branch) always resolves to the same result for a
// given rule; Match never mutates the rule.
func (r *Rule) Match(filePath, branch, repoName string) (*MatchContext, bool) {
	branch = stripBranch(branch)

	vars := make(map[string]string, len(r.VariablesMap)+4)
	for k, v := range r.VariablesMap {
		vars[k] = v
	}
	vars["repo"] = repoName
	vars["repoName"] = repoName
	vars["branch"] = branch
	vars["file_path"] = filePath

	env, ok := r.resolveEnv(filePath, branch, vars)
	if !ok {
		return nil, false
	}
	vars["env"] = env

	return &MatchContext{
		UniqueKey: FormatTemplate(r.UniqueKeyName, vars),
		Env:       env,
		Variables: vars,
	}, true
}

// resolveEnv derives the per-file environment.
// It mutates vars in place only with the winning filePathMap entry's
// named capture groups (never the groups of a non-matching entry).
func (r *Rule) resolveEnv(filePath, branch string, vars map[string]string) (string, bool) {
	if len(r.FilePathMap) > 0 {
		for _, pm := range r.FilePathMap {
			re, err := regexp.Compile(pm.Pattern)
			if err != nil {
				continue
			}
			m := re.FindStringSubmatch(filePath)
			if m == nil {
				continue
			}
			local := make(map[string]string, len(vars)+len(m))
			for k, v := range vars {
				local[k] = v
			}
			names := re.SubexpNames()
			for i, name := range names {
				if i == 0 || name == "" {
					continue
				}
				local[name] = m[i]
			}

			var env string
			var envOK bool
			switch {
			case pm.Value != "" && strings.Contains(pm.Value, "{"):
				env = FormatTemplate(pm.Value, local)
				envOK = true
			case pm.Value != "":
				env = pm.Value
				envOK = true
			default:
				env, envOK = local["env"]
			}
			if !envOK {
				return "", false
			}
			for k, v := range local {
				vars[k] = v
			}
			return env, true
		}
		return "", false
	}

	if filePath != r.FileName {
		return "", false
	}
	if r.EnvAsBranch {
		return branch, true
	}
	for _, pm := range r.BranchMap {
		re, err := regexp.Compile(pm.Pattern)
		if err != nil {
			continue
		}
		if re.MatchString(branch) {
			return pm.Value, true
		}
	}
	return "", false
}
