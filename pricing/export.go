package pricing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"mailsized/domain"
)

const quoteSheet = "Quote"

var quoteHeaders = []interface{}{"Provider", "Tier", "Base", "Priority", "Transcript", "Subtotal", "Tax", "Total", "Total (cents)"}

// WriteQuoteXLSX writes a provider comparison sheet. The selected provider's
// row is highlighted.
func WriteQuoteXLSX(outPath string, rows []domain.PriceBreakdown, selected domain.Provider) error {
	if strings.TrimSpace(outPath) == "" {
		return errors.New("quote output path is empty")
	}
	if len(rows) == 0 {
		return errors.New("no prices to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	defSheet := f.GetSheetName(0)
	if defSheet == "" {
		defSheet = "Sheet1"
	}
	if err := f.SetSheetName(defSheet, quoteSheet); err != nil {
		return err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	selectedStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"EEF6FF"}},
	})

	if err := f.SetSheetRow(quoteSheet, "A1", &quoteHeaders); err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(quoteHeaders))
	_ = f.SetCellStyle(quoteSheet, "A1", lastCol+"1", headerStyle)

	for i, p := range rows {
		rowNum := i + 2
		row := []interface{}{
			string(p.Provider), p.Tier, p.Base, p.PriorityFee, p.TranscriptFee,
			p.Subtotal, p.Tax, p.Total, p.TotalMinorUnits,
		}
		axis, _ := excelize.CoordinatesToCellName(1, rowNum)
		if err := f.SetSheetRow(quoteSheet, axis, &row); err != nil {
			return err
		}
		if p.Provider == selected {
			_ = f.SetCellStyle(quoteSheet, axis, fmt.Sprintf("%s%d", lastCol, rowNum), selectedStyle)
		}
	}
	_ = f.SetColWidth(quoteSheet, "A", lastCol, 13)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create quote dir: %w", err)
	}
	if err := f.SaveAs(outPath); err != nil {
		return fmt.Errorf("write quote: %w", err)
	}
	return nil
}
