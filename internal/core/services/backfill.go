package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
	"gopkg.in/yaml.v3"
)

// StatusMapping is the operator-supplied mapping file:
//
//	legacy:
//	  COMPLETED: RELEASED
type StatusMapping struct {
	Legacy map[string]string `yaml:"legacy"`
}

// LoadStatusMapping merges an operator mapping over the built-in legacy
// values. Targets must be canonical statuses.
func LoadStatusMapping(r io.Reader) (map[string]domain.PaymentStatus, error) {
	mapping := domain.DefaultLegacyPaymentStatuses()
	if r == nil {
		return mapping, nil
	}

	var file StatusMapping
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: mapping file: %v", domain.ErrValidation, err)
	}

	for legacy, target := range file.Legacy {
		status := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(target)))
		if !status.Canonical() {
			return nil, fmt.Errorf("%w: mapping %s -> %s: target is not a canonical payment status", domain.ErrValidation, legacy, target)
		}
		mapping[strings.ToUpper(strings.TrimSpace(legacy))] = status
	}

	return mapping, nil
}

type BackfillChange struct {
	PaymentID uuid.UUID            `json:"payment_id"`
	From      string               `json:"from"`
	To        domain.PaymentStatus `json:"to"`
	Applied   bool                 `json:"applied"`
}

type BackfillSkip struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
}

type BackfillReport struct {
	DryRun  bool             `json:"dry_run"`
	Scanned int              `json:"scanned"`
	Changes []BackfillChange `json:"changes"`
	Skipped []BackfillSkip   `json:"skipped"`
}

// BackfillService normalizes legacy payment status values. Each row is
// rewritten with a conditional update on its raw value, so a second run
// finds nothing left to do.
type BackfillService struct {
	store ports.Store
	log   *slog.Logger
}

func NewBackfillService(store ports.Store, log *slog.Logger) *BackfillService {
	return &BackfillService{store: store, log: log}
}

func (s *BackfillService) Run(ctx context.Context, mapping map[string]domain.PaymentStatus, dryRun bool) (*BackfillReport, error) {
	rows, err := s.store.Payments().ListNonCanonical(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy payments: %w", err)
	}

	report := &BackfillReport{
		DryRun:  dryRun,
		Scanned: len(rows),
		Changes: []BackfillChange{},
		Skipped: []BackfillSkip{},
	}

	for _, p := range rows {
		raw := string(p.Status)

		target, ok := domain.NormalizePaymentStatus(raw, mapping)
		if !ok {
			report.Skipped = append(report.Skipped, BackfillSkip{
				PaymentID: p.ID,
				Status:    raw,
				Reason:    "no mapping for legacy status",
			})
			s.log.WarnContext(ctx, "legacy payment status left unmapped", "payment_id", p.ID, "status", raw)
			continue
		}

		change := BackfillChange{PaymentID: p.ID, From: raw, To: target}

		if !dryRun {
			applied, err := s.store.Payments().RewriteStatus(ctx, p.ID, raw, target)
			if err != nil {
				return report, fmt.Errorf("failed to rewrite payment %s: %w", p.ID, err)
			}
			change.Applied = applied

			if !applied {
				s.log.WarnContext(ctx, "payment changed since it was read, skipped", "payment_id", p.ID, "status", raw)
			}
		}

		report.Changes = append(report.Changes, change)
	}

	s.log.InfoContext(ctx, "payment status backfill finished",
		"dry_run", dryRun, "scanned", report.Scanned, "changes", len(report.Changes), "skipped", len(report.Skipped))

	return report, nil
}
