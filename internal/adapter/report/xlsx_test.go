package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/adapter/report"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteReconciliationXLSX(t *testing.T) {
	paymentID := uuid.New()
	expected, observed := domain.Money(9000), domain.Money(8500)

	rep := &domain.ReconciliationReport{
		GeneratedAt:   time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		BookingsCount: 3,
		PaymentsCount: 2,
		PayoutsCount:  1,
		Violations: []domain.Violation{
			{
				Code:      domain.ViolationPayoutAmount,
				Message:   "payout amount differs from escrow amount",
				PaymentID: &paymentID,
				Expected:  &expected,
				Observed:  &observed,
			},
			{
				Code:          domain.ViolationLegacyPaymentStatus,
				Message:       "payment status is not canonical",
				PaymentStatus: "HELD_IN_ESCROW",
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteReconciliationXLSX(&buf, rep))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Violations"}, f.GetSheetList())

	total, err := f.GetCellValue("Summary", "B5")
	require.NoError(t, err)
	assert.Equal(t, "2", total)

	rows, err := f.GetRows("Violations")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Code", rows[0][0])
	assert.Equal(t, "PAYOUT_AMOUNT", rows[1][0])
	assert.Equal(t, paymentID.String(), rows[1][3])
	assert.Equal(t, "9000", rows[1][8])
	assert.Equal(t, "8500", rows[1][9])
	assert.Equal(t, "HELD_IN_ESCROW", rows[2][6])
}

func TestReconciliationFilename(t *testing.T) {
	name := report.ReconciliationFilename(time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC))
	assert.Equal(t, "reconciliation_20260601T083000Z.xlsx", name)
}
