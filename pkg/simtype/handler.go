package simtype

import (
	"regexp"
	"sort"
	"strings"
)

// Handler is the code-specific behavior of one simulation type.
//
// Handlers form a closed set registered in this package; catalogs refer to
// them by name and cannot add new ones at runtime.
type Handler struct {
	Name string

	// ParseErrorLog extracts a specific error message from an execution log.
	// It returns "" when nothing recognizable is found.
	ParseErrorLog func(log []byte) string

	// IsParallel reports whether a compute model is a long-running
	// (animation-style) kind that reports progress.
	IsParallel func(model string) bool
}

var (
	genericErrorRE   = regexp.MustCompile(`(?im)^\s*(?:error|fatal)[:\s]+(.+?)\s*$`)
	pythonErrorRE    = regexp.MustCompile(`(?m)^\s*(\w+(?:Error|Exception)): (.+?)\s*$`)
	elegantErrorRE   = regexp.MustCompile(`(?im)^\s*(?:\*+\s*)?(?:elegant\s+)?(?:fatal\s+)?error[:\s]+(.+?)\s*$`)
	elegantProblemRE = regexp.MustCompile(`(?m)^\s*Problem: (.+?)\s*$`)
)

var builtin = map[string]Handler{
	"generic": {
		Name:          "generic",
		ParseErrorLog: lastSubmatch(genericErrorRE, 1),
		IsParallel: func(model string) bool {
			return strings.Contains(strings.ToLower(model), "animation")
		},
	},
	"srw": {
		Name:          "srw",
		ParseErrorLog: lastSubmatch(pythonErrorRE, 2),
		IsParallel: func(model string) bool {
			return model == "multiElectronAnimation" || strings.HasSuffix(model, "Animation")
		},
	},
	"elegant": {
		Name: "elegant",
		ParseErrorLog: func(log []byte) string {
			if msg := lastSubmatch(elegantProblemRE, 1)(log); msg != "" {
				return msg
			}
			return lastSubmatch(elegantErrorRE, 1)(log)
		},
		IsParallel: func(model string) bool {
			return strings.HasPrefix(model, "animation")
		},
	},
	"warppba": {
		Name:          "warppba",
		ParseErrorLog: lastSubmatch(pythonErrorRE, 2),
		IsParallel: func(model string) bool {
			return model == "animation"
		},
	},
}

// LookupHandler returns the built-in handler registered under name.
func LookupHandler(name string) (Handler, bool) {
	h, ok := builtin[strings.TrimSpace(name)]
	return h, ok
}

// HandlerNames lists the registered handler names in sorted order.
func HandlerNames() []string {
	out := make([]string, 0, len(builtin))
	for name := range builtin {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func lastSubmatch(re *regexp.Regexp, group int) func([]byte) string {
	return func(log []byte) string {
		matches := re.FindAllSubmatch(log, -1)
		if len(matches) == 0 {
			return ""
		}
		last := matches[len(matches)-1]
		if group >= len(last) {
			return ""
		}
		return strings.TrimSpace(string(last[group]))
	}
}
