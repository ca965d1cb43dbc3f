package htmltext

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

const kettlePage = `<!doctype html>
<html>
<head><title>Kettle review</title><script>var power = "9000 W is fake";</script></head>
<body>
<nav>Home. Kettles with 2200 W power elements.</nav>
<h1>Review</h1>
<p>The kettle draws 2200 W from the wall in our tests. It boils one litre in about three minutes.</p>
<table><tr><td>Capacity is 1.7 litres in total volume</td><td>Weight 1.1 kg without the base unit</td></tr></table>
<p>The kettle draws 2200 W from the wall in our tests.</p>
<footer>Shipping weight policy applies to every order placed.</footer>
</body>
</html>`

func TestExtractKeepsVisibleSentencesMentioningTerms(t *testing.T) {
	page := &domain.FetchedPage{URL: "https://review.example/kettle", Body: kettlePage}
	fragments, err := New(Options{}).Extract(page, []string{"2200 w", "weight", "capacity"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := []domain.ClaimFragment{
		{Text: "The kettle draws 2200 W from the wall in our tests.", SourceURL: "https://review.example/kettle"},
		{Text: "Capacity is 1.7 litres in total volume", SourceURL: "https://review.example/kettle"},
		{Text: "Weight 1.1 kg without the base unit", SourceURL: "https://review.example/kettle"},
	}
	if diff := cmp.Diff(want, fragments); diff != "" {
		t.Fatalf("fragments mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractPrefersFinalURL(t *testing.T) {
	page := &domain.FetchedPage{
		URL:      "http://review.example/k",
		FinalURL: "https://review.example/kettle",
		Body:     "<p>The kettle weight is 1.1 kg according to our scale.</p>",
	}
	fragments, err := New(Options{}).Extract(page, []string{"weight"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(fragments) != 1 || fragments[0].SourceURL != "https://review.example/kettle" {
		t.Fatalf("unexpected fragments: %+v", fragments)
	}
}

func TestExtractCapsFragments(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 10; i++ {
		body.WriteString("<p>Sentence number ")
		body.WriteString(strings.Repeat("x", i+1))
		body.WriteString(" mentions the weight.</p>")
	}
	page := &domain.FetchedPage{URL: "https://a.example", Body: body.String()}
	fragments, err := New(Options{MaxFragments: 4}).Extract(page, []string{"weight"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(fragments) != 4 {
		t.Fatalf("expected 4 fragments, got %d", len(fragments))
	}
}

func TestExtractRejectsNilPage(t *testing.T) {
	if _, err := New(Options{}).Extract(nil, nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSplitSentencesKeepsDecimals(t *testing.T) {
	got := splitSentences("It weighs 1.5 kg. Really! Is that so? trailing")
	want := []string{"It weighs 1.5 kg.", "Really!", "Is that so?", "trailing"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sentences mismatch (-want +got):\n%s", diff)
	}
}
