package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/domain"
)

// reportLister is the narrow read surface the archiver needs for pruning.
// The package Reader satisfies it.
type reportLister interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
	Delete(ctx context.Context, path string) error
}

// Archiver implements domain.SettlementArchiver by uploading settlement
// reports as JSON objects, partitioned by resolution month. Reports are
// written once per resolved market and never mutated.
type Archiver struct {
	writer domain.BlobWriter
	lister reportLister
	audit  domain.AuditStore
	clock  domain.Clock
}

// NewArchiver creates a new Archiver. audit may be nil when archival runs
// without a database (for example in one-shot export tooling).
func NewArchiver(writer domain.BlobWriter, lister reportLister, audit domain.AuditStore, clock domain.Clock) *Archiver {
	if clock == nil {
		clock = time.Now
	}
	return &Archiver{
		writer: writer,
		lister: lister,
		audit:  audit,
		clock:  clock,
	}
}

// ArchiveReport uploads one settlement report and returns the object path.
func (a *Archiver) ArchiveReport(ctx context.Context, questionID common.Hash, report []byte) (string, error) {
	path := reportPath(questionID, a.clock())

	if err := a.writer.Put(ctx, path, bytes.NewReader(report), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive report upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settlement_report", map[string]any{
			"path":        path,
			"question_id": questionID.Hex(),
			"size":        len(report),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive report audit log: %w", err)
		}
	}
	return path, nil
}

// Prune deletes archived reports older than retentionDays and returns how
// many objects were removed.
func (a *Archiver) Prune(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := a.clock().AddDate(0, 0, -retentionDays)

	infos, err := a.lister.List(ctx, "reports/")
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune list: %w", err)
	}

	deleted := 0
	for _, info := range infos {
		if info.LastModified.IsZero() || !info.LastModified.Before(cutoff) {
			continue
		}
		if err := a.lister.Delete(ctx, info.Path); err != nil {
			return deleted, fmt.Errorf("s3blob: prune delete %s: %w", info.Path, err)
		}
		deleted++
	}

	if deleted > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.prune", map[string]any{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}); err != nil {
			return deleted, fmt.Errorf("s3blob: prune audit log: %w", err)
		}
	}
	return deleted, nil
}

// reportPath builds the object key for a settlement report, partitioned by
// the year-month of resolution.
//
//	reports/2025-01/0xabc...def.json
func reportPath(questionID common.Hash, now time.Time) string {
	return fmt.Sprintf("reports/%s/%s.json", now.UTC().Format("2006-01"), questionID.Hex())
}

// Compile-time interface check.
var _ domain.SettlementArchiver = (*Archiver)(nil)
