package search

import (
	"strings"
	"testing"
	"time"

	"binpastes/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publicOnly(p *domain.Paste) bool { return p.Exposure == domain.ExposurePublic }

func paste(id, title, content string, created time.Time) *domain.Paste {
	return &domain.Paste{ID: id, Title: title, Content: content, Exposure: domain.ExposurePublic, DateCreated: created}
}

func ids(hits []Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Paste.ID)
	}
	return out
}

func TestMatchRanking(t *testing.T) {
	now := time.Now()
	m := &Matcher{Eligible: publicOnly}
	candidates := []*domain.Paste{
		paste("content-old", "", "golang is fun", now.Add(-2*time.Hour)),
		paste("content-new", "", "I like GoLang", now.Add(-time.Hour)),
		paste("title", "Golang tips", "nothing to see", now.Add(-3*time.Hour)),
		paste("miss", "rust", "cargo build", now),
	}
	hits := m.Match("golang", candidates)
	assert.Equal(t, []string{"title", "content-new", "content-old"}, ids(hits))
	assert.Equal(t, 3, hits[0].Score)
}

func TestMatchDeterministicTies(t *testing.T) {
	now := time.Now()
	m := &Matcher{}
	a := paste("b", "", "same term here", now)
	b := paste("a", "", "same term here", now)
	first := ids(m.Match("term", []*domain.Paste{a, b}))
	second := ids(m.Match("term", []*domain.Paste{b, a}))
	assert.Equal(t, []string{"a", "b"}, first)
	assert.Equal(t, first, second)
}

func TestMatchFiltersIneligible(t *testing.T) {
	m := &Matcher{Eligible: publicOnly}
	hidden := paste("hidden", "", "secret phrase inside", time.Now())
	hidden.Exposure = domain.ExposureUnlisted
	assert.Empty(t, m.Match("secret", []*domain.Paste{hidden}))

	visible := paste("visible", "", "secret phrase inside", time.Now())
	hits := m.Match("secret", []*domain.Paste{hidden, visible})
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Highlight, "secret")
}

func TestMatchCaseInsensitiveUnicode(t *testing.T) {
	m := &Matcher{}
	hits := m.Match("ÄPFEL", []*domain.Paste{paste("de", "", "Ich esse äpfel gern", time.Now())})
	require.Len(t, hits, 1)
	assert.Equal(t, "Ich esse äpfel gern", hits[0].Highlight)
}

func TestExcerptBounded(t *testing.T) {
	m := &Matcher{}
	content := strings.Repeat("a", 200) + " needle " + strings.Repeat("b", 200)
	hits := m.Match("needle", []*domain.Paste{paste("long", "", content, time.Now())})
	require.Len(t, hits, 1)
	hl := hits[0].Highlight
	assert.True(t, strings.HasPrefix(hl, ellipsis))
	assert.True(t, strings.HasSuffix(hl, ellipsis))
	assert.Contains(t, hl, "needle")
	assert.Less(t, len([]rune(hl)), len([]rune(content)))
	assert.LessOrEqual(t, len([]rune(hl)), 2*excerptRadius+len("needle")+2)
}

func TestExcerptFromTitle(t *testing.T) {
	m := &Matcher{}
	hits := m.Match("release", []*domain.Paste{paste("t", "Release notes\nv2", "changelog body", time.Now())})
	require.Len(t, hits, 1)
	assert.Equal(t, "Release notes v2", hits[0].Highlight)
}

func TestMatchLimitAndDuplicates(t *testing.T) {
	now := time.Now()
	m := &Matcher{Limit: 2}
	p := paste("dup", "", "term", now)
	hits := m.Match("term", []*domain.Paste{
		p, p,
		paste("x", "", "term", now.Add(-time.Minute)),
		paste("y", "", "term", now.Add(-2*time.Minute)),
	})
	assert.Equal(t, []string{"dup", "x"}, ids(hits))
	assert.Empty(t, m.Match("", []*domain.Paste{p}))
}

func TestCount(t *testing.T) {
	assert.Equal(t, 2, count(fold("abcabc"), fold("abc")))
	assert.Equal(t, 2, count(fold("aaaa"), fold("aa")))
	assert.Equal(t, 0, count(fold("ab"), fold("abc")))
}
