package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
)

// FinalAssessmentExecutor produces the truth score and verdict.
type FinalAssessmentExecutor struct {
	inference ports.InferenceClient
}

func NewFinalAssessmentExecutor(inference ports.InferenceClient) *FinalAssessmentExecutor {
	return &FinalAssessmentExecutor{inference: inference}
}

func (e *FinalAssessmentExecutor) Stage() domain.StageID { return domain.StageAssessment }

func (e *FinalAssessmentExecutor) Execute(ctx context.Context, in StageInput) (json.RawMessage, error) {
	var verification domain.VerificationOutput
	if err := decodePrereq(in, domain.StageVerify, &verification); err != nil {
		return nil, err
	}
	// Stage 1 is always done once stage 3 is; a missing output only costs context.
	var claims domain.ClaimsOutput
	if _, ok := in.Prereqs[domain.StageClaims]; ok {
		if err := decodePrereq(in, domain.StageClaims, &claims); err != nil {
			return nil, err
		}
	}

	raw, err := e.inference.Generate(ctx, buildAssessmentPrompt(in.Product, claims, verification))
	if err != nil {
		return nil, fmt.Errorf("final assessment: %w", err)
	}

	var output domain.AssessmentOutput
	if err := decodeStrictJSON("decode final assessment", raw, &output); err != nil {
		return nil, err
	}
	output.Verdict = strings.ToLower(strings.TrimSpace(output.Verdict))
	output.Summary = strings.TrimSpace(output.Summary)
	output.QualityScore = math.Round(output.QualityScore*1000) / 1000

	return marshalOutput("final assessment", output)
}
