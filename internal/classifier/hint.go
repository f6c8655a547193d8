package classifier

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	quotedRe   = regexp.MustCompile(`["“«]\s*([^"”»]+?)\s*["”»]`)
	namedRe    = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:nomm[ée]e?s?|appel[ée]e?s?)\s+([^?!,;:]+)`)
	capsRunRe  = regexp.MustCompile(`\p{Lu}[\p{L}\p{N}&'’.-]*(?:\s+\p{Lu}[\p{L}\p{N}&'’.-]*)*`)
	trailingRe = regexp.MustCompile(`[\s?.!,;:]+$`)
)

// EntityHint extracts the probable proper noun a question is about: quoted
// text first, then the words after nommé/appelé, then the first run of
// capitalized words. The sentence-initial word alone never counts as a run.
func EntityHint(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return ""
	}

	for _, m := range quotedRe.FindAllStringSubmatch(q, -1) {
		if h := clean(m[1]); utf8.RuneCountInString(h) >= 3 {
			return h
		}
	}

	if m := namedRe.FindStringSubmatch(q); m != nil {
		if h := clean(m[1]); h != "" {
			return h
		}
	}

	for _, loc := range capsRunRe.FindAllStringIndex(q, -1) {
		run := clean(q[loc[0]:loc[1]])
		if utf8.RuneCountInString(run) < 3 {
			continue
		}
		if loc[0] == 0 && !strings.ContainsAny(run, " \t") {
			continue
		}
		return run
	}
	return ""
}

func clean(s string) string {
	return trailingRe.ReplaceAllString(strings.TrimSpace(s), "")
}
