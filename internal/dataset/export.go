package dataset

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"voice-conformity-go/internal/types"
)

const analysesSheet = "Analyses"

var exportHeader = []interface{}{
	"analysis_id", "transcript_id", "identity", "call_date",
	"identity_disclosure", "contract_term_verification", "fairness_of_outcome_disclosure",
	"comprehension_check", "next_steps_disclosure",
	"category", "conformity", "score", "context_applied", "prior_outcome_type",
	"seller", "supervisor", "rationale", "oracle_rationale", "model", "cost", "created_at",
}

// ExportAnalyses writes analyses to an XLSX workbook at path.
func ExportAnalyses(path string, records []types.AnalysisRecord) error {
	f, err := buildWorkbook(records)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// WriteAnalyses streams the same workbook to w.
func WriteAnalyses(w io.Writer, records []types.AnalysisRecord) error {
	f, err := buildWorkbook(records)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func buildWorkbook(records []types.AnalysisRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", analysesSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetSheetRow(analysesSheet, "A1", &exportHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(exportHeader))
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetCellStyle(analysesSheet, "A1", lastCol+"1", bold)
	}

	for i, rec := range records {
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		row := exportRow(rec)
		if err := f.SetSheetRow(analysesSheet, cellRef, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(analysesSheet, "A", lastCol, 18)
	if len(records) > 0 {
		_ = f.AutoFilter(analysesSheet, fmt.Sprintf("A1:%s%d", lastCol, len(records)+1), nil)
	}
	return f, nil
}

func exportRow(rec types.AnalysisRecord) []interface{} {
	callDate := ""
	if !rec.CallDate.IsZero() {
		callDate = rec.CallDate.Format("2006-01-02")
	}
	row := []interface{}{rec.AnalysisID, rec.TranscriptID, rec.Identity, callDate}
	for _, met := range rec.Criteria {
		row = append(row, boolInt(met))
	}
	return append(row,
		string(rec.Category), string(rec.Conformity), rec.Score, rec.ContextApplied, rec.PriorOutcomeType,
		rec.SellerName, rec.SupervisorName, rec.RationaleText, rec.OracleRationale, rec.Model, rec.Cost,
		rec.CreatedAt.Format("2006-01-02 15:04:05"),
	)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
