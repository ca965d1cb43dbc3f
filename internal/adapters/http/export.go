package httpadapter

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

const (
	claimsSheet  = "Claims"
	sourcesSheet = "Sources"
)

func (rt *Router) exportClaims(w http.ResponseWriter, r *http.Request) {
	product, evidence, err := rt.services.Evidence.EvidenceBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	book, err := buildClaimsWorkbook(evidence)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer func() { _ = book.Close() }()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-claims.xlsx"`, product.Slug))
	w.WriteHeader(http.StatusOK)
	if err := book.Write(w); err != nil {
		rt.logger.Warn("claims_export_write_failed", "slug", product.Slug, "error", err)
	}
}

// buildClaimsWorkbook lays out corroborated claims and the per-source fetch
// report on two sheets.
func buildClaimsWorkbook(evidence *domain.EvidenceOutput) (*excelize.File, error) {
	book := excelize.NewFile()
	if err := book.SetSheetName("Sheet1", claimsSheet); err != nil {
		_ = book.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := book.NewSheet(sourcesSheet); err != nil {
		_ = book.Close()
		return nil, fmt.Errorf("add sources sheet: %w", err)
	}

	rows := [][]any{{"Claim", "Occurrences", "Sources", "Samples"}}
	for _, claim := range evidence.Corroboration.Claims {
		rows = append(rows, []any{
			claim.Key,
			claim.Count,
			strings.Join(claim.Sources, "\n"),
			strings.Join(claim.Samples, "\n"),
		})
	}
	if err := writeRows(book, claimsSheet, rows); err != nil {
		_ = book.Close()
		return nil, err
	}

	rows = [][]any{{"URL", "Title", "Status", "Fragments", "Error"}}
	for _, source := range evidence.Sources {
		rows = append(rows, []any{source.URL, source.Title, source.Status, source.Fragments, source.Error})
	}
	if err := writeRows(book, sourcesSheet, rows); err != nil {
		_ = book.Close()
		return nil, err
	}

	book.SetActiveSheet(0)
	return book, nil
}

func writeRows(book *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
