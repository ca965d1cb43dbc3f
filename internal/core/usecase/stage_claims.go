package usecase

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

var (
	specNumber    = regexp.MustCompile(`^\s*([-+]?(?:\d{1,3}(?:,\d{3})+|\d+)(?:[.,]\d+)?)\s*(.*?)\s*$`)
	specKeyStrip  = regexp.MustCompile(`[^a-z0-9]+`)
	thousandsSeps = regexp.MustCompile(`^([-+]?\d{1,3}(?:,\d{3})+)`)
)

// ClaimExtractionExecutor derives normalized claims from the manufacturer
// specifications. It makes no external calls and is deterministic.
type ClaimExtractionExecutor struct{}

func NewClaimExtractionExecutor() *ClaimExtractionExecutor {
	return &ClaimExtractionExecutor{}
}

func (e *ClaimExtractionExecutor) Stage() domain.StageID { return domain.StageClaims }

func (e *ClaimExtractionExecutor) Execute(_ context.Context, in StageInput) (json.RawMessage, error) {
	return marshalOutput("claim extraction", ExtractClaims(in.Product.Specs))
}

func ExtractClaims(specs domain.Specs) domain.ClaimsOutput {
	claims := make([]domain.NormalizedClaim, 0, len(specs))
	seen := make(map[string]int, len(specs))

	for _, entry := range specs {
		label := strings.TrimSpace(entry.Label)
		value := strings.TrimSpace(entry.Value)
		if label == "" || value == "" {
			continue
		}

		key := specKey(label)
		if key == "" {
			continue
		}
		seen[key]++
		if n := seen[key]; n > 1 {
			key = key + "_" + strconv.Itoa(n)
		}

		claim := domain.NormalizedClaim{Key: key, Label: label, Value: value}
		if numeric, unit, ok := parseSpecValue(value); ok {
			claim.Numeric = &numeric
			claim.Unit = unit
		}
		claims = append(claims, claim)
	}

	return domain.ClaimsOutput{Claims: claims, Count: len(claims)}
}

func specKey(label string) string {
	key := specKeyStrip.ReplaceAllString(strings.ToLower(label), "_")
	return strings.Trim(key, "_")
}

func parseSpecValue(value string) (float64, string, bool) {
	match := specNumber.FindStringSubmatch(value)
	if match == nil {
		return 0, "", false
	}

	number := match[1]
	if thousandsSeps.MatchString(number) {
		number = strings.ReplaceAll(number, ",", "")
	} else {
		number = strings.Replace(number, ",", ".", 1)
	}

	parsed, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, "", false
	}
	return parsed, match[2], true
}
