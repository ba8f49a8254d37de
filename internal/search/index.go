// Package search ranks lost and found items by textual similarity. The index
// is built once from a snapshot of item documents, is read-only afterwards and
// safe for concurrent use.
//
// Scoring is the Jaccard similarity of token sets:
// score = |Q ∩ D| / |Q ∪ D|. Ties are broken by the lower document id so the
// order is deterministic.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Doc is one indexed item: its id and the text it is matched on.
type Doc struct {
	ID   int64
	Text string
}

// Result is a ranked document id with its similarity score.
type Result struct {
	ID    int64
	Score float64
}

// Index is implemented by every search index.
type Index interface {
	// TopK ranks documents against free text.
	TopK(query string, k int) []Result
	// Similar ranks documents against the indexed document id, excluding it.
	Similar(id int64, k int) []Result
}

// Option tunes index construction.
type Option func(*config)

type config struct {
	minRunes  int
	stopwords map[string]struct{}
	maxDocs   int
}

// DefaultStopwords are dropped from item text unless replaced by WithStopwords.
var DefaultStopwords = []string{
	"a", "an", "and", "at", "by", "for", "from", "in", "is", "it", "near",
	"of", "on", "or", "the", "to", "with", "my",
}

func defaultConfig() config {
	c := config{minRunes: 2}
	WithStopwords(DefaultStopwords)(&c)
	return c
}

// WithMinRunes drops documents shorter than n runes after trimming.
func WithMinRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minRunes = n
		}
	}
}

// WithStopwords replaces the stop-word list. An empty list keeps the current one.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = fold(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps the number of indexed documents.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

type doc struct {
	id     int64
	tokens map[string]struct{}
}

type index struct {
	cfg  config
	docs []doc
	byID map[int64]int
}

// New builds an index over docs. Empty, too short or duplicate-id documents
// are skipped.
func New(docs []Doc, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	idx := &index{cfg: cfg, byID: make(map[int64]int, len(docs))}
	for _, d := range docs {
		t := strings.TrimSpace(normalizeWhitespace(d.Text))
		if t == "" || utf8.RuneCountInString(t) < cfg.minRunes {
			continue
		}
		if _, dup := idx.byID[d.ID]; dup {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		idx.byID[d.ID] = len(idx.docs)
		idx.docs = append(idx.docs, doc{id: d.ID, tokens: toks})
		if cfg.maxDocs > 0 && len(idx.docs) >= cfg.maxDocs {
			break
		}
	}
	return idx
}

// TopK returns up to k documents sharing at least one token with q.
// A k <= 0 means 5.
func (i *index) TopK(q string, k int) []Result {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	return i.rank(tokenize(q, i.cfg.stopwords), -1, k)
}

// Similar returns up to k documents similar to the document id.
func (i *index) Similar(id int64, k int) []Result {
	pos, ok := i.byID[id]
	if !ok {
		return nil
	}
	return i.rank(i.docs[pos].tokens, id, k)
}

func (i *index) rank(q map[string]struct{}, exclude int64, k int) []Result {
	if len(i.docs) == 0 || len(q) == 0 {
		return nil
	}
	if k <= 0 {
		k = 5
	}
	var out []Result
	for _, d := range i.docs {
		if d.id == exclude {
			continue
		}
		over := overlap(q, d.tokens)
		if over == 0 {
			continue
		}
		union := len(q) + len(d.tokens) - over
		if union <= 0 {
			continue
		}
		out = append(out, Result{ID: d.id, Score: float64(over) / float64(union)})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].ID < out[b].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*|\p{N}+`)

var folder = cases.Fold()

func fold(s string) string { return folder.String(s) }

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
