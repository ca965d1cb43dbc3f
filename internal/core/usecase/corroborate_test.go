package usecase

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

func TestCanonicalClaimKeyNormalizes(t *testing.T) {
	cases := map[string]string{
		"  Battery   lasts 10 HOURS! ": "battery lasts 10 hours",
		"Weighs 1.2 kg (approx.)":     "weighs 1.2 kg approx.",
		"Max temp: 100°C / 212°F":     "max temp 100°c / 212°f",
		"Up to 95% efficiency":        "up to 95% efficiency",
		"tab\tand\nnewline":           "tab and newline",
	}
	for input, want := range cases {
		if got := CanonicalClaimKey(input); got != want {
			t.Fatalf("CanonicalClaimKey(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCanonicalClaimKeyTruncates(t *testing.T) {
	key := CanonicalClaimKey(strings.Repeat("a", 500))
	if got := len([]rune(key)); got != 160 {
		t.Fatalf("expected 160 runes, got %d", got)
	}
}

func TestCorroborateDropsSingletons(t *testing.T) {
	result := Corroborate([]domain.ClaimFragment{
		{Text: "Battery lasts 10 hours", SourceURL: "https://a.example"},
		{Text: "battery lasts 10 hours.", SourceURL: "https://b.example"}, // trailing dot is kept
		{Text: "Weighs 2 kg", SourceURL: "https://c.example"},
		{Text: "", SourceURL: "https://d.example"},
		{Text: "no source", SourceURL: ""},
	})

	if result.SourceCount != 3 {
		t.Fatalf("expected 3 distinct sources across valid fragments, got %d", result.SourceCount)
	}
	if result.ClaimCount != 0 || len(result.Claims) != 0 {
		t.Fatalf("expected no corroborated claims, got %+v", result.Claims)
	}
}

func TestCorroborateGroupsAndRanks(t *testing.T) {
	fragments := []domain.ClaimFragment{
		{Text: "Runs for 10 hours", SourceURL: "https://b.example"},
		{Text: "runs for 10   hours", SourceURL: "https://a.example"},
		{Text: "RUNS FOR 10 HOURS", SourceURL: "https://a.example"},
		{Text: "Weighs 2 kg", SourceURL: "https://c.example"},
		{Text: "weighs 2 kg", SourceURL: "https://a.example"},
		{Text: "Made of steel", SourceURL: "https://c.example"},
	}

	got := Corroborate(fragments)
	want := domain.Corroboration{
		Claims: []domain.CorroboratedClaim{
			{
				Key:     "runs for 10 hours",
				Count:   3,
				Sources: []string{"https://a.example", "https://b.example"},
				Samples: []string{"RUNS FOR 10 HOURS", "Runs for 10 hours"},
			},
			{
				Key:     "weighs 2 kg",
				Count:   2,
				Sources: []string{"https://a.example", "https://c.example"},
				Samples: []string{"Weighs 2 kg", "weighs 2 kg"},
			},
		},
		SourceCount: 3,
		ClaimCount:  2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("corroboration mismatch (-want +got):\n%s", diff)
	}
}

func TestCorroborateIsOrderIndependent(t *testing.T) {
	fragments := []domain.ClaimFragment{
		{Text: "b claim", SourceURL: "https://1"},
		{Text: "a claim", SourceURL: "https://2"},
		{Text: "b claim", SourceURL: "https://3"},
		{Text: "a claim", SourceURL: "https://1"},
		{Text: "c claim", SourceURL: "https://1"},
		{Text: "c claim", SourceURL: "https://1"},
		{Text: "c claim", SourceURL: "https://2"},
	}
	reversed := make([]domain.ClaimFragment, len(fragments))
	for i := range fragments {
		reversed[len(fragments)-1-i] = fragments[i]
	}

	forward := Corroborate(fragments)
	backward := Corroborate(reversed)
	if diff := cmp.Diff(forward, backward); diff != "" {
		t.Fatalf("result depends on input order:\n%s", diff)
	}
	keys := []string{forward.Claims[0].Key, forward.Claims[1].Key, forward.Claims[2].Key}
	if diff := cmp.Diff([]string{"c claim", "a claim", "b claim"}, keys); diff != "" {
		t.Fatalf("unexpected ranking:\n%s", diff)
	}
}

func TestCorroborateCapsClaims(t *testing.T) {
	fragments := make([]domain.ClaimFragment, 0, 80)
	for i := 0; i < 40; i++ {
		text := fmt.Sprintf("claim number %02d", i)
		fragments = append(fragments,
			domain.ClaimFragment{Text: text, SourceURL: "https://a"},
			domain.ClaimFragment{Text: text, SourceURL: "https://b"},
		)
	}

	result := Corroborate(fragments)
	if len(result.Claims) != 25 || result.ClaimCount != 25 {
		t.Fatalf("expected 25 claims, got %d/%d", len(result.Claims), result.ClaimCount)
	}
	if result.Claims[0].Key != "claim number 00" || result.Claims[24].Key != "claim number 24" {
		t.Fatalf("expected key-ascending tie break, got %q..%q", result.Claims[0].Key, result.Claims[24].Key)
	}
}
