package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"voiceinsight/internal/core/domain"
	"voiceinsight/internal/core/ports"
)

const exportSheet = "Insights"

type ExportInsightsUseCase struct {
	insights ports.InsightRepository
	registry *domain.InsightTypeRegistry
}

func NewExportInsightsUseCase(insights ports.InsightRepository, registry *domain.InsightTypeRegistry) *ExportInsightsUseCase {
	if registry == nil {
		registry = domain.DefaultInsightTypes()
	}
	return &ExportInsightsUseCase{insights: insights, registry: registry}
}

// ExportInsights writes all insights of one type, newest first, into an xlsx
// workbook on w. It returns the number of data rows written.
func (uc *ExportInsightsUseCase) ExportInsights(ctx context.Context, insightType domain.InsightType, w io.Writer) (int, error) {
	if !uc.registry.Registered(insightType) {
		return 0, domain.WrapError(domain.ErrInvalidInput, "export insights",
			fmt.Errorf("unknown insight type %q", insightType))
	}

	book := excelize.NewFile()
	defer book.Close()

	sheet, err := book.NewSheet(exportSheet)
	if err != nil {
		return 0, fmt.Errorf("create sheet: %w", err)
	}
	book.SetActiveSheet(sheet)
	if err := book.DeleteSheet("Sheet1"); err != nil {
		return 0, fmt.Errorf("drop default sheet: %w", err)
	}

	header := []any{"Call ID", "Insight Type", "Content", "Confidence", "Created At"}
	if err := book.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return 0, fmt.Errorf("write header row: %w", err)
	}

	row := 2
	for skip := 0; ; skip += MaxPageSize {
		page, err := uc.insights.ListByType(ctx, insightType, skip, MaxPageSize)
		if err != nil {
			return 0, fmt.Errorf("list insights for export: %w", err)
		}
		for _, ins := range page {
			confidence := any("")
			if ins.Confidence != nil {
				confidence = *ins.Confidence
			}
			cells := []any{ins.CallID, string(ins.Type), ins.Content, confidence, ins.CreatedAt.UTC().Format("2006-01-02 15:04:05")}
			if err := book.SetSheetRow(exportSheet, fmt.Sprintf("A%d", row), &cells); err != nil {
				return 0, fmt.Errorf("write insight row: %w", err)
			}
			row++
		}
		if len(page) < MaxPageSize {
			break
		}
	}

	if err := book.Write(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return row - 2, nil
}
