package cleanup

import "regexp"

// processPattern identifies a collector process left over from a prior
// run. lines whose command text identifies the orchestrator itself are
// never matched by these patterns.
type processPattern struct {
	pattern *regexp.Regexp
}

func compilePatterns(raw ...string) []processPattern {
	out := make([]processPattern, 0, len(raw))
	for _, r := range raw {
		out = append(out, processPattern{pattern: regexp.MustCompile(r)})
	}
	return out
}

func windowsPatterns() []processPattern {
	return compilePatterns(`(?i)kape\.exe`, `(?i)powershell.*KAPE`)
}

func unixPatterns(workspace string) []processPattern {
	return compilePatterns(
		regexp.QuoteMeta(workspace)+`/uac-main/uac`,
		`\./uac `,
		`curl .*amazonaws.*uac-`,
	)
}

// matchesAny reports whether line matches one of patterns.
func matchesAny(patterns []processPattern, line string) bool {
	for _, p := range patterns {
		if p.pattern.MatchString(line) {
			return true
		}
	}
	return false
}
