package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

// decodeStrictJSON enforces the JSON-only contract on generated text. Code
// fences and surrounding prose are stripped; anything that still does not
// parse is a validation failure, never a crash.
func decodeStrictJSON(operation, raw string, out any) error {
	payload := extractJSONObject(stripCodeFence(raw))
	if payload == "" {
		return domain.WrapError(domain.ErrValidationFailed, operation, errors.New("response contains no json object"))
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return domain.WrapError(domain.ErrValidationFailed, operation, fmt.Errorf("parse json: %w", err))
	}
	return nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}
