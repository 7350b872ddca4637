package skills

import (
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

var genericPathParts = map[string]bool{
	"src": true, "lib": true, "test": true, "tests": true, "spec": true, ".": true, "..": true,
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "have": true, "been": true,
}

// termSet accumulates lowercase keywords with set semantics.
type termSet map[string]struct{}

func (t termSet) add(term string) {
	term = strings.ToLower(term)
	if term == "" || stopwords[term] {
		return
	}
	t[term] = struct{}{}
}

// addPath adds the non-generic segments of path and its extension.
func (t termSet) addPath(path string) {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part != "" && !genericPathParts[part] {
			t.add(part)
		}
	}
	if ext := strings.TrimPrefix(fileExt(path), "."); ext != "" {
		t.add(ext)
	}
}

// addText adds purely alphabetic words longer than three characters.
func (t termSet) addText(text string) {
	for _, w := range strings.Fields(text) {
		if len([]rune(w)) > 3 && isAlpha(w) {
			t.add(w)
		}
	}
}

func (t termSet) sorted() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

// Terms derives keywords from free text and file paths the same way skill
// triggers are derived, so the two sides can be intersected directly.
func Terms(text string, files []string) []string {
	t := termSet{}
	t.addText(text)
	for _, f := range files {
		t.addPath(f)
	}
	return t.sorted()
}
