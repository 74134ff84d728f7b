package omisegw

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
)

const (
	listPageSize = 100
	// references older than this many recent transfers are not searched
	listMaxPages = 5
)

type (
	doFunc   func(transfer *omise.Transfer, op *operations.CreateTransfer) error
	listFunc func(list *omise.TransferList, op *operations.ListTransfers) error
)

// TransferClient sends provider payouts as Omise transfers.
type TransferClient struct {
	do   doFunc
	list listFunc
}

var _ ports.PayoutProvider = (*TransferClient)(nil)

func NewTransferClient(publicKey, secretKey string) (*TransferClient, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	c.SetDebug(false)

	return &TransferClient{
		do: func(transfer *omise.Transfer, op *operations.CreateTransfer) error {
			return c.Do(transfer, op)
		},
		list: func(list *omise.TransferList, op *operations.ListTransfers) error {
			return c.Do(list, op)
		},
	}, nil
}

// CreateTransfer returns an error wrapping domain.ErrValidation when Omise
// rejects the request outright; retrying those cannot succeed.
func (c *TransferClient) CreateTransfer(ctx context.Context, req ports.TransferRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	transfer := &omise.Transfer{}
	op := &operations.CreateTransfer{
		Amount:    int64(req.Amount),
		Recipient: req.RecipientID,
		Metadata: map[string]interface{}{
			"reference": req.Reference,
			"currency":  string(req.Currency),
		},
	}

	if err := c.do(transfer, op); err != nil {
		var oerr *omise.Error
		if errors.As(err, &oerr) && oerr.StatusCode >= http.StatusBadRequest && oerr.StatusCode < http.StatusInternalServerError {
			return "", fmt.Errorf("%w: transfer %s rejected: %s", domain.ErrValidation, req.Reference, oerr.Message)
		}
		return "", fmt.Errorf("%w: transfer %s: %v", domain.ErrExternalService, req.Reference, err)
	}

	return transfer.ID, nil
}

// FindTransfer scans recent transfers, newest first, for one whose metadata
// carries the reference.
func (c *TransferClient) FindTransfer(ctx context.Context, reference string) (string, error) {
	for page := 0; page < listMaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		list := &omise.TransferList{}
		op := &operations.ListTransfers{List: operations.List{
			Offset: page * listPageSize,
			Limit:  listPageSize,
			Order:  omise.ReverseChronological,
		}}
		if err := c.list(list, op); err != nil {
			return "", fmt.Errorf("%w: list transfers: %v", domain.ErrExternalService, err)
		}

		for _, t := range list.Data {
			if ref, ok := t.Metadata["reference"].(string); ok && ref == reference {
				return t.ID, nil
			}
		}

		if len(list.Data) < listPageSize {
			break
		}
	}

	return "", fmt.Errorf("%w: no transfer with reference %s", domain.ErrNotFound, reference)
}
