package resolver

import "strings"

// xelatexTriggers are literal source substrings that mandate xelatex (or
// lualatex-class Unicode font handling) when the caller passes
// engine: "auto" (spec.md §4.2, extended beyond the base fontspec/
// unicode-math/setmainfont set with the additional Unicode- and
// polyglossia-driven triggers real multilingual documents use, grounded in
// the sibling compile service's engine_classifier.go heuristics).
var xelatexTriggers = []string{
	`\usepackage{fontspec}`,
	`\usepackage{unicode-math}`,
	`\setmainfont`,
	`\setsansfont`,
	`\setmonofont`,
	`\newfontfamily`,
	`\setcjkmainfont`,
	`\usepackage{polyglossia}`,
}

// DetectEngine implements the separate engine-detection helper used when
// the caller passes engine: "auto": pdflatex unless the source signals it
// needs XeLaTeX's native Unicode/font handling.
func DetectEngine(source string) string {
	for _, trigger := range xelatexTriggers {
		if strings.Contains(source, trigger) {
			return "xelatex"
		}
	}
	return "pdflatex"
}
