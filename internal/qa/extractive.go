package qa

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// extractive quotes the n sentences sharing the most terms with question,
// in the order they appear. With no overlap at all it quotes the opening of
// the best excerpt.
func extractive(question string, excerpts []Excerpt, n int) string {
	terms := termSet(question)

	type scored struct {
		text  string
		score int
		pos   int
	}
	var all []scored
	for _, e := range excerpts {
		for _, s := range sentences(e.Text) {
			all = append(all, scored{text: s, score: overlap(terms, s), pos: len(all)})
		}
	}
	if len(all) == 0 {
		return NoAnswer
	}

	ranked := append([]scored(nil), all...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if ranked[0].score == 0 {
		ranked = all
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].pos < ranked[j].pos })

	picked := make([]string, len(ranked))
	for i, s := range ranked {
		picked[i] = s.text
	}
	return fmt.Sprintf("%s\n\n(quoted from %d excerpts; no generator)", strings.Join(picked, " "), len(excerpts))
}

// sentences splits text after '.', '!' or '?' followed by whitespace.
func sentences(text string) []string {
	var out []string
	runes := []rune(strings.Join(strings.Fields(text), " "))
	start := 0
	for i, r := range runes {
		end := i == len(runes)-1
		if !end && (r == '.' || r == '!' || r == '?') && runes[i+1] == ' ' {
			end = true
		}
		if !end {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	return out
}

// termSet returns the lower-cased words of s longer than two letters.
func termSet(s string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range words(s) {
		if len([]rune(w)) > 2 {
			terms[w] = true
		}
	}
	return terms
}

func overlap(terms map[string]bool, sentence string) int {
	seen := make(map[string]bool)
	for _, w := range words(sentence) {
		if terms[w] && !seen[w] {
			seen[w] = true
		}
	}
	return len(seen)
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
