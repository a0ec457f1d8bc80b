package retrieval

import (
	"regexp"
	"strings"
)

var nonKeyword = regexp.MustCompile(`[^a-z0-9\s-]`)

var stopWords = map[string]struct{}{}

func init() {
	for _, word := range strings.Fields(`
		the a an and or but in on at to for of with is are was were be been
		have has had do does did will would should could can may might
		tell me about what who when where why how you your remember know
	`) {
		stopWords[word] = struct{}{}
	}
}

/*
ExtractKeywords lowercases the query, blanks everything outside
[a-z0-9\s-], and keeps tokens longer than two characters that are not stop
words. Order of first occurrence is preserved.
*/
func ExtractKeywords(query string) []string {
	cleaned := nonKeyword.ReplaceAllString(strings.ToLower(query), " ")
	seen := make(map[string]struct{})
	out := make([]string, 0)

	for _, token := range strings.Fields(cleaned) {
		if len(token) <= 2 {
			continue
		}

		if _, stop := stopWords[token]; stop {
			continue
		}

		if _, dup := seen[token]; dup {
			continue
		}

		seen[token] = struct{}{}
		out = append(out, token)
	}

	return out
}
