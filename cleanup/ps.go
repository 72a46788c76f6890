package cleanup

import "strings"

// processLine is one matched line of process-listing output together with
// the PID the engine needs to terminate it.
type processLine struct {
	pid  string
	text string
}

// parseUnixPS extracts PID + full command line from `ps -ef`-style output:
// UID PID PPID ... CMD. The PID is the second whitespace-separated field.
func parseUnixPS(output string, patterns []processPattern) []processLine {
	var matches []processLine
	for _, line := range strings.Split(output, "\n") {
		if !matchesAny(patterns, line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		matches = append(matches, processLine{pid: fields[1], text: line})
	}
	return matches
}

// parseWindowsTasklist extracts PID + full line from `tasklist` CSV/plain
// output: Image Name, PID, Session Name, ... The PID is the second
// comma-or-whitespace-separated field.
func parseWindowsTasklist(output string, patterns []processPattern) []processLine {
	var matches []processLine
	for _, line := range strings.Split(output, "\n") {
		if !matchesAny(patterns, line) {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		clean := fields[:0]
		for _, f := range fields {
			if f != "" {
				clean = append(clean, strings.Trim(f, `"`))
			}
		}
		if len(clean) < 2 {
			continue
		}
		matches = append(matches, processLine{pid: clean[1], text: line})
	}
	return matches
}
