package omisegw

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransfer_Success(t *testing.T) {
	var sent *operations.CreateTransfer
	c := &TransferClient{do: func(transfer *omise.Transfer, op *operations.CreateTransfer) error {
		sent = op
		transfer.ID = "trsf_test_1"
		return nil
	}}

	id, err := c.CreateTransfer(context.Background(), ports.TransferRequest{
		Reference:   "po_1",
		RecipientID: "recp_test_1",
		Amount:      9000,
		Currency:    "THB",
	})

	require.NoError(t, err)
	assert.Equal(t, "trsf_test_1", id)
	assert.Equal(t, int64(9000), sent.Amount)
	assert.Equal(t, "recp_test_1", sent.Recipient)
	assert.Equal(t, "po_1", sent.Metadata["reference"])
}

func TestCreateTransfer_Rejected(t *testing.T) {
	c := &TransferClient{do: func(*omise.Transfer, *operations.CreateTransfer) error {
		return &omise.Error{StatusCode: 400, Code: "invalid_recipient", Message: "recipient is not active"}
	}}

	_, err := c.CreateTransfer(context.Background(), ports.TransferRequest{Reference: "po_1"})

	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateTransfer_Unavailable(t *testing.T) {
	c := &TransferClient{do: func(*omise.Transfer, *operations.CreateTransfer) error {
		return errors.New("connection reset by peer")
	}}

	_, err := c.CreateTransfer(context.Background(), ports.TransferRequest{Reference: "po_1"})

	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.NotErrorIs(t, err, domain.ErrValidation)
}

func TestCreateTransfer_ContextCancelled(t *testing.T) {
	c := &TransferClient{do: func(*omise.Transfer, *operations.CreateTransfer) error {
		t.Fatal("transfer must not be sent")
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CreateTransfer(ctx, ports.TransferRequest{Reference: "po_1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func transfersWithRefs(start int, refs ...string) []*omise.Transfer {
	out := make([]*omise.Transfer, 0, len(refs))
	for i, ref := range refs {
		tr := &omise.Transfer{Metadata: map[string]interface{}{"reference": ref}}
		tr.ID = fmt.Sprintf("trsf_test_%d", start+i)
		out = append(out, tr)
	}
	return out
}

func TestFindTransfer_Found(t *testing.T) {
	var ops []operations.ListTransfers
	c := &TransferClient{list: func(list *omise.TransferList, op *operations.ListTransfers) error {
		ops = append(ops, *op)
		list.Data = transfersWithRefs(1, "po_other", "po_1")
		return nil
	}}

	id, err := c.FindTransfer(context.Background(), "po_1")

	require.NoError(t, err)
	assert.Equal(t, "trsf_test_2", id)
	require.Len(t, ops, 1)
	assert.Equal(t, omise.ReverseChronological, ops[0].Order)
}

func TestFindTransfer_PagesUntilShortPage(t *testing.T) {
	var offsets []int
	c := &TransferClient{list: func(list *omise.TransferList, op *operations.ListTransfers) error {
		offsets = append(offsets, op.Offset)
		if op.Offset == 0 {
			refs := make([]string, listPageSize)
			for i := range refs {
				refs[i] = fmt.Sprintf("po_old_%d", i)
			}
			list.Data = transfersWithRefs(0, refs...)
			return nil
		}
		list.Data = transfersWithRefs(1000, "po_elsewhere")
		return nil
	}}

	_, err := c.FindTransfer(context.Background(), "po_1")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []int{0, listPageSize}, offsets)
}

func TestFindTransfer_ListFails(t *testing.T) {
	c := &TransferClient{list: func(*omise.TransferList, *operations.ListTransfers) error {
		return errors.New("i/o timeout")
	}}

	_, err := c.FindTransfer(context.Background(), "po_1")

	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
