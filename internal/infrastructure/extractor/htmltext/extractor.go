package htmltext

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

const (
	defaultMinSentence  = 20
	defaultMaxSentence  = 400
	defaultMaxFragments = 60
)

type Options struct {
	MinSentenceLen int
	MaxSentenceLen int
	MaxFragments   int
}

// Extractor implements ports.FragmentExtractor over visible page text.
type Extractor struct {
	minLen       int
	maxLen       int
	maxFragments int
}

func New(opts Options) *Extractor {
	if opts.MinSentenceLen <= 0 {
		opts.MinSentenceLen = defaultMinSentence
	}
	if opts.MaxSentenceLen <= 0 {
		opts.MaxSentenceLen = defaultMaxSentence
	}
	if opts.MaxFragments <= 0 {
		opts.MaxFragments = defaultMaxFragments
	}
	return &Extractor{
		minLen:       opts.MinSentenceLen,
		maxLen:       opts.MaxSentenceLen,
		maxFragments: opts.MaxFragments,
	}
}

// Extract keeps sentences that mention at least one term. With no terms every
// sentence in the length window is kept.
func (e *Extractor) Extract(page *domain.FetchedPage, terms []string) ([]domain.ClaimFragment, error) {
	if page == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract fragments", errors.New("page is nil"))
	}
	doc, err := html.Parse(strings.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	sourceURL := page.FinalURL
	if sourceURL == "" {
		sourceURL = page.URL
	}

	out := make([]domain.ClaimFragment, 0)
	seen := make(map[string]struct{})
	for _, block := range visibleBlocks(doc) {
		for _, sentence := range splitSentences(block) {
			length := len([]rune(sentence))
			if length < e.minLen || length > e.maxLen {
				continue
			}
			lower := strings.ToLower(sentence)
			if !mentionsAny(lower, terms) {
				continue
			}
			if _, dup := seen[lower]; dup {
				continue
			}
			seen[lower] = struct{}{}
			out = append(out, domain.ClaimFragment{Text: sentence, SourceURL: sourceURL})
			if len(out) >= e.maxFragments {
				return out, nil
			}
		}
	}
	return out, nil
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
}

var blockLevel = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Td: true, atom.Th: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Br: true, atom.Dd: true, atom.Dt: true,
	atom.Blockquote: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// visibleBlocks returns the text of the document split at block-level
// elements, so table cells and list items never run into each other.
func visibleBlocks(root *html.Node) []string {
	var (
		blocks  []string
		current strings.Builder
	)
	flush := func() {
		text := strings.Join(strings.Fields(current.String()), " ")
		if text != "" {
			blocks = append(blocks, text)
		}
		current.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			if blockLevel[n.DataAtom] {
				flush()
				defer flush()
			}
		}
		if n.Type == html.TextNode {
			current.WriteString(n.Data)
			current.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	flush()
	return blocks
}

// splitSentences breaks on . ! ? followed by whitespace. A dot between
// digits ("1.5 kg") never ends a sentence.
func splitSentences(text string) []string {
	runes := []rune(text)
	var (
		out   []string
		start int
	)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		sentence := strings.TrimSpace(string(runes[start : i+1]))
		if sentence != "" {
			out = append(out, sentence)
		}
		start = i + 1
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

func mentionsAny(lower string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	for _, term := range terms {
		if term != "" && strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
