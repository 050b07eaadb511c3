// Package search ranks candidate pastes against a term and builds the
// preview excerpt shown with each hit.
package search

import (
	"sort"
	"strings"
	"unicode"

	"binpastes/pkg/domain"
)

const (
	titleWeight   = 3
	excerptRadius = 40
	ellipsis      = "…"
)

type Hit struct {
	Paste     *domain.Paste
	Score     int
	Highlight string
}

// Matcher filters with Eligible before scoring; store results are only
// candidates and may be stale by the time they are ranked.
type Matcher struct {
	Eligible func(*domain.Paste) bool
	Limit    int
}

func (m *Matcher) Match(term string, candidates []*domain.Paste) []Hit {
	needle := fold(term)
	if len(needle) == 0 {
		return nil
	}
	hits := make([]Hit, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, p := range candidates {
		if p == nil {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		if m.Eligible != nil && !m.Eligible(p) {
			continue
		}
		title, content := []rune(p.Title), []rune(p.Content)
		ft, fc := fold(p.Title), fold(p.Content)
		score := titleWeight*count(ft, needle) + count(fc, needle)
		if score == 0 {
			continue
		}
		var hl string
		if at := index(fc, needle); at >= 0 {
			hl = excerpt(content, at, len(needle))
		} else {
			hl = excerpt(title, index(ft, needle), len(needle))
		}
		hits = append(hits, Hit{Paste: p, Score: score, Highlight: hl})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Paste.DateCreated.Equal(b.Paste.DateCreated) {
			return a.Paste.DateCreated.After(b.Paste.DateCreated)
		}
		return a.Paste.ID < b.Paste.ID
	})
	if m.Limit > 0 && len(hits) > m.Limit {
		hits = hits[:m.Limit]
	}
	return hits
}

// fold lower-cases rune by rune so offsets in the folded text line up with
// the unfolded text.
func fold(s string) []rune {
	r := []rune(s)
	for i, c := range r {
		r[i] = unicode.ToLower(c)
	}
	return r
}
func index(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, c := range needle {
			if haystack[i+j] != c {
				continue outer
			}
		}
		return i
	}
	return -1
}
func count(haystack, needle []rune) int {
	n := 0
	for off := 0; ; {
		at := index(haystack[off:], needle)
		if at < 0 {
			return n
		}
		n++
		off += at + len(needle)
	}
}
func excerpt(text []rune, at, n int) string {
	if at < 0 {
		return ""
	}
	start := at - excerptRadius
	if start < 0 {
		start = 0
	}
	end := at + n + excerptRadius
	if end > len(text) {
		end = len(text)
	}
	var b strings.Builder
	if start > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(strings.Join(strings.Fields(string(text[start:end])), " "))
	if end < len(text) {
		b.WriteString(ellipsis)
	}
	return b.String()
}
