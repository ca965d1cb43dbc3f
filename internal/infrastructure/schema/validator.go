package schema

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

//go:embed stage_outputs.yaml
var stageOutputsDoc []byte

var schemaNames = map[domain.StageID]string{
	domain.StageClaims:     "ClaimsOutput",
	domain.StageEvidence:   "EvidenceOutput",
	domain.StageVerify:     "VerificationOutput",
	domain.StageAssessment: "AssessmentOutput",
}

// Validator implements ports.OutputValidator with the component schemas of
// the embedded OpenAPI document.
type Validator struct {
	schemas map[domain.StageID]*openapi3.Schema
}

func NewValidator() (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(stageOutputsDoc)
	if err != nil {
		return nil, fmt.Errorf("load stage output schemas: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate stage output schemas: %w", err)
	}

	schemas := make(map[domain.StageID]*openapi3.Schema, len(schemaNames))
	for stage, name := range schemaNames {
		ref, ok := doc.Components.Schemas[name]
		if !ok || ref.Value == nil {
			return nil, fmt.Errorf("schema %s missing", name)
		}
		schemas[stage] = ref.Value
	}
	return &Validator{schemas: schemas}, nil
}

func (v *Validator) Validate(stage domain.StageID, output json.RawMessage) error {
	schema, ok := v.schemas[stage]
	if !ok {
		return domain.WrapError(domain.ErrInvalidInput, "validate stage output", fmt.Errorf("no schema for stage %d", stage))
	}
	if len(bytes.TrimSpace(output)) == 0 {
		return domain.WrapError(domain.ErrValidationFailed, "validate stage output", errors.New("output is empty"))
	}

	var value any
	if err := json.Unmarshal(output, &value); err != nil {
		return domain.WrapError(domain.ErrValidationFailed, "validate stage output", fmt.Errorf("output is not json: %w", err))
	}
	if err := schema.VisitJSON(value); err != nil {
		return domain.WrapError(domain.ErrValidationFailed, "validate stage output", fmt.Errorf("%s: %w", schemaNames[stage], err))
	}
	return nil
}
