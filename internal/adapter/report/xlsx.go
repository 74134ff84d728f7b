// Package report renders reconciliation reports for operators.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet    = "Summary"
	violationsSheet = "Violations"
)

// ReconciliationFilename is the attachment name for a report generated at t.
func ReconciliationFilename(t time.Time) string {
	return fmt.Sprintf("reconciliation_%s.xlsx", t.UTC().Format("20060102T150405Z"))
}

// WriteReconciliationXLSX writes a two-sheet workbook: counts per
// violation code, then one row per violation.
func WriteReconciliationXLSX(w io.Writer, rep *domain.ReconciliationReport) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummary(f, rep, headerStyle); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	if err := writeViolations(f, rep, headerStyle); err != nil {
		return fmt.Errorf("failed to create violations sheet: %w", err)
	}

	f.DeleteSheet("Sheet1")

	idx, err := f.GetSheetIndex(summarySheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	return f.Write(w)
}

func writeSummary(f *excelize.File, rep *domain.ReconciliationReport, headerStyle int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}

	rows := [][]any{
		{"Generated At", rep.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Bookings", rep.BookingsCount},
		{"Payments", rep.PaymentsCount},
		{"Payouts", rep.PayoutsCount},
		{"Violations", len(rep.Violations)},
		{},
		{"Code", "Count"},
	}

	counts := rep.CountByCode()
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)

	for _, code := range codes {
		rows = append(rows, []any{code, counts[domain.ViolationCode(code)]})
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetCellStyle(summarySheet, "A7", "B7", headerStyle); err != nil {
		return err
	}

	return f.SetColWidth(summarySheet, "A", "B", 32)
}

func writeViolations(f *excelize.File, rep *domain.ReconciliationReport, headerStyle int) error {
	if _, err := f.NewSheet(violationsSheet); err != nil {
		return err
	}

	headers := []any{
		"Code", "Message", "Booking ID", "Payment ID", "Payout ID",
		"Booking Status", "Payment Status", "Payout Status", "Expected", "Observed",
	}
	if err := f.SetSheetRow(violationsSheet, "A1", &headers); err != nil {
		return err
	}

	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(violationsSheet, "A1", last, headerStyle); err != nil {
		return err
	}

	for i, v := range rep.Violations {
		row := []any{
			string(v.Code), v.Message,
			idString(v.BookingID), idString(v.PaymentID), idString(v.PayoutID),
			v.BookingStatus, v.PaymentStatus, v.PayoutStatus,
			moneyCell(v.Expected), moneyCell(v.Observed),
		}

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(violationsSheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(violationsSheet, "A", "B", 40); err != nil {
		return err
	}

	return f.SetColWidth(violationsSheet, "C", "E", 38)
}

func idString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func moneyCell(m *domain.Money) any {
	if m == nil {
		return ""
	}
	return int64(*m)
}
