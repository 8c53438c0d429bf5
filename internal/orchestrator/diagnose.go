package orchestrator

import (
	"regexp"
	"strings"
)

// missingFilePatterns are the known engine log lines that signal a missing
// file, tried in order (spec.md §4.4). Every pattern except the last
// captures the filename the engine reports; "Font ... at ... not found"
// has no capture group.
var missingFilePatterns = []*regexp.Regexp{
	regexp.MustCompile("! LaTeX Error: File `([^']+)' not found"),
	regexp.MustCompile("! I can't find file `([^']+)'"),
	regexp.MustCompile("LaTeX Warning: File `([^']+)' not found"),
	regexp.MustCompile("Package .* Error: .*`([^']+)' not found"),
	regexp.MustCompile(`Font .* not loadable: Metric \(TFM\) file .*?([A-Za-z0-9\-]+\.tfm)`),
	regexp.MustCompile(`!pdfTeX error: \(file ([^)]+)\): Font .* not found`),
	regexp.MustCompile(`Font .* at .* not found`),
}

// ecTCFontPattern recognises the EC/TC font-family naming scheme that
// cm-super provides (e.g. "ecrm1000", "tcrm1000").
var ecTCFontPattern = regexp.MustCompile(`^(ec|tc)[a-z]{2}\d+$`)

var stripSuffixes = []string{".sty", ".cls", ".def", ".clo", ".fd", ".cfg", ".tex"}

// scanMissingFile returns the first missing-file pattern match in log, or
// ("", false) if none of the known patterns fire.
func scanMissingFile(log string) (string, bool) {
	for _, re := range missingFilePatterns {
		if m := re.FindStringSubmatch(log); m != nil {
			if len(m) > 1 && m[1] != "" {
				return m[1], true
			}
			return "", true // pattern matched but has no capture group ("Font ... at ... not found")
		}
	}
	return "", false
}

// normalizePackageName maps a bare filename reported in an engine error to
// the package name the resolver/fetcher understand (spec.md §4.4).
func normalizePackageName(filename string) string {
	base := filename
	if idx := strings.LastIndexAny(base, "/\\"); idx >= 0 {
		base = base[idx+1:]
	}
	stem := strings.TrimSuffix(base, pathExt(base))
	if ecTCFontPattern.MatchString(stem) {
		return "cm-super"
	}
	for _, suf := range stripSuffixes {
		if strings.HasSuffix(base, suf) {
			return strings.TrimSuffix(base, suf)
		}
	}
	return base
}

func pathExt(p string) string {
	if idx := strings.LastIndex(p, "."); idx >= 0 {
		return p[idx:]
	}
	return ""
}
