package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

const maxPromptPayload = 12000

func buildDiscoveryPrompt(product *domain.Product, maxSources int) string {
	var specs strings.Builder
	for _, entry := range product.Specs {
		fmt.Fprintf(&specs, "- %s: %s\n", entry.Label, entry.Value)
	}

	return fmt.Sprintf(`You locate independent evidence about a physical product.
Return strict JSON object with key "sources": an array of at most %d objects with keys url (string, absolute http or https URL) and title (string).
Prefer independent reviews, lab measurements and teardown reports over manufacturer pages.
No markdown, no extra keys.

Product: %s
Slug: %s
Category: %s
Manufacturer specifications:
%s`, maxSources, displayName(product), product.Slug, product.Category, specs.String())
}

func buildVerificationPrompt(product *domain.Product, claims domain.ClaimsOutput, evidence domain.EvidenceOutput) string {
	return fmt.Sprintf(`You compare manufacturer claims against corroborated third-party evidence.
Return strict JSON object with key "discrepancies": an array with one object per manufacturer claim, keys:
claim_key (string, from the claims list), manufacturer_value (string), evidence_value (string, empty if none),
severity (one of "none", "minor", "major", "unverifiable"), note (string).
Use "unverifiable" when the evidence does not mention the claim. No markdown, no extra keys.

Product: %s (%s)

Manufacturer claims:
%s

Corroborated evidence (claim text, occurrence count, sources):
%s`, displayName(product), product.Category, promptJSON(claims.Claims), promptJSON(evidence.Corroboration.Claims))
}

func buildAssessmentPrompt(product *domain.Product, claims domain.ClaimsOutput, verification domain.VerificationOutput) string {
	return fmt.Sprintf(`You produce the final truthfulness assessment of a product's manufacturer claims.
Return strict JSON object with keys:
truth_score (integer 0..100), verdict (one of "accurate", "mostly_accurate", "misleading", "inaccurate", "insufficient_evidence"),
summary (string, at most 3 sentences), quality_score (number from 0 to 1 describing evidence quality).
No markdown, no extra keys.

Product: %s (%s)
Claims: %d, verified: %d, disputed: %d, unverifiable: %d

Discrepancy report:
%s`, displayName(product), product.Category, claims.Count,
		verification.VerifiedCount, verification.DisputedCount, verification.UnverifiedCount,
		promptJSON(verification.Discrepancies))
}

func displayName(product *domain.Product) string {
	if strings.TrimSpace(product.Name) != "" {
		return product.Name
	}
	return product.Slug
}

func promptJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	if len(raw) > maxPromptPayload {
		raw = raw[:maxPromptPayload]
	}
	return string(raw)
}
