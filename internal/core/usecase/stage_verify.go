package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
)

const (
	severityNone         = "none"
	severityMinor        = "minor"
	severityMajor        = "major"
	severityUnverifiable = "unverifiable"
)

// DiscrepancyVerificationExecutor compares extracted claims with corroborated
// evidence and classifies each claim.
type DiscrepancyVerificationExecutor struct {
	inference ports.InferenceClient
}

func NewDiscrepancyVerificationExecutor(inference ports.InferenceClient) *DiscrepancyVerificationExecutor {
	return &DiscrepancyVerificationExecutor{inference: inference}
}

func (e *DiscrepancyVerificationExecutor) Stage() domain.StageID { return domain.StageVerify }

func (e *DiscrepancyVerificationExecutor) Execute(ctx context.Context, in StageInput) (json.RawMessage, error) {
	var claims domain.ClaimsOutput
	if err := decodePrereq(in, domain.StageClaims, &claims); err != nil {
		return nil, err
	}
	var evidence domain.EvidenceOutput
	if err := decodePrereq(in, domain.StageEvidence, &evidence); err != nil {
		return nil, err
	}

	raw, err := e.inference.Generate(ctx, buildVerificationPrompt(in.Product, claims, evidence))
	if err != nil {
		return nil, fmt.Errorf("discrepancy verification: %w", err)
	}

	var output domain.VerificationOutput
	if err := decodeStrictJSON("decode discrepancy verification", raw, &output); err != nil {
		return nil, err
	}
	tallyDiscrepancies(&output)

	return marshalOutput("discrepancy verification", output)
}

// tallyDiscrepancies normalizes severities and recomputes the counters instead
// of trusting the generated ones. Unknown severities are left for the schema
// check to reject.
func tallyDiscrepancies(output *domain.VerificationOutput) {
	if output.Discrepancies == nil {
		output.Discrepancies = []domain.Discrepancy{}
	}
	output.VerifiedCount, output.DisputedCount, output.UnverifiedCount = 0, 0, 0
	for i := range output.Discrepancies {
		item := &output.Discrepancies[i]
		item.ClaimKey = strings.TrimSpace(item.ClaimKey)
		item.Severity = strings.ToLower(strings.TrimSpace(item.Severity))
		switch item.Severity {
		case severityNone:
			output.VerifiedCount++
		case severityMinor, severityMajor:
			output.DisputedCount++
		case severityUnverifiable:
			output.UnverifiedCount++
		}
	}
}
