package schema

import (
	"encoding/json"
	"testing"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

func TestValidatorAcceptsWellFormedOutputs(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	cases := map[domain.StageID]string{
		domain.StageClaims:     `{"claims":[{"key":"power","label":"Power","value":"2200 W","numeric":2200,"unit":"w"}],"count":1}`,
		domain.StageEvidence:   `{"sources":[{"url":"https://a.example","status":"fetched","fragments":3}],"corroboration":{"claims":[{"key":"2200 w","count":2,"sources":["https://a.example"],"samples":["2200 W"]}],"source_count":1,"claim_count":1}}`,
		domain.StageVerify:     `{"discrepancies":[{"claim_key":"power","manufacturer_value":"2200 W","evidence_value":"2000 W","severity":"minor"}],"verified_count":0,"disputed_count":1,"unverified_count":0}`,
		domain.StageAssessment: `{"truth_score":72,"verdict":"mostly_accurate","summary":"Power slightly overstated.","quality_score":0.64}`,
	}
	for stage, raw := range cases {
		if err := validator.Validate(stage, json.RawMessage(raw)); err != nil {
			t.Fatalf("stage %d: unexpected error: %v", stage, err)
		}
	}
}

func TestValidatorRejectsInvalidOutputs(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	cases := []struct {
		name  string
		stage domain.StageID
		raw   string
	}{
		{name: "empty claims", stage: domain.StageClaims, raw: `{"claims":[],"count":0}`},
		{name: "not json", stage: domain.StageClaims, raw: `claims: none`},
		{name: "empty", stage: domain.StageEvidence, raw: ``},
		{name: "unknown source status", stage: domain.StageEvidence, raw: `{"sources":[{"url":"https://a.example","status":"maybe"}],"corroboration":{"claims":[],"source_count":0,"claim_count":0}}`},
		{name: "singleton corroboration", stage: domain.StageEvidence, raw: `{"sources":[],"corroboration":{"claims":[{"key":"x","count":1,"sources":[]}],"source_count":0,"claim_count":1}}`},
		{name: "bad severity", stage: domain.StageVerify, raw: `{"discrepancies":[{"claim_key":"power","severity":"huge"}],"verified_count":0,"disputed_count":1,"unverified_count":0}`},
		{name: "score out of range", stage: domain.StageAssessment, raw: `{"truth_score":140,"verdict":"accurate","summary":"ok","quality_score":0.5}`},
		{name: "unknown verdict", stage: domain.StageAssessment, raw: `{"truth_score":40,"verdict":"fine","summary":"ok","quality_score":0.5}`},
		{name: "missing summary", stage: domain.StageAssessment, raw: `{"truth_score":40,"verdict":"accurate","quality_score":0.5}`},
	}
	for _, tc := range cases {
		err := validator.Validate(tc.stage, json.RawMessage(tc.raw))
		if !domain.IsKind(err, domain.ErrValidationFailed) {
			t.Fatalf("%s: expected validation failure, got %v", tc.name, err)
		}
	}
}

func TestValidatorUnknownStage(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	if err := validator.Validate(domain.StageID(9), json.RawMessage(`{}`)); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
