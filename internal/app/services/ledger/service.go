package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/audit"
	"github.com/veritrace/platform/internal/app/metrics"
	"github.com/veritrace/platform/internal/app/storage"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/pkg/logger"
)

// Service keeps the simulated audit ledger: a hash chain of records
// persisted through the store and mirrored to a local JSONL file.
type Service struct {
	store storage.AuditStore
	cfg   config.LedgerConfig
	log   *logger.Logger

	// mu serializes reads of the chain head against appends so two
	// concurrent records cannot claim the same predecessor.
	mu sync.Mutex
}

// New constructs a ledger service.
func New(store storage.AuditStore, cfg config.LedgerConfig, log *logger.Logger) *Service {
	if cfg.Author == "" {
		cfg.Author = config.Default().Ledger.Author
	}
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		store: store,
		cfg:   cfg,
		log:   log,
	}
}

// Record appends a transaction to the ledger. The transaction ID is the
// sha256 of the content hash, the record timestamp and the operation,
// and every record carries the transaction ID of its predecessor. An
// empty author falls back to the configured one.
func (s *Service) Record(ctx context.Context, op, contentHash, author string, metadata map[string]any) (audit.Record, error) {
	op = strings.TrimSpace(op)
	if op == "" {
		return audit.Record{}, domain.NewError(domain.KindLedger, "operation is required")
	}
	contentHash = strings.TrimSpace(contentHash)
	if contentHash == "" {
		return audit.Record{}, domain.NewError(domain.KindLedger, "content hash is required")
	}
	if author = strings.TrimSpace(author); author == "" {
		author = s.cfg.Author
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := ""
	var prevAt time.Time
	switch latest, err := s.store.LatestAuditRecord(ctx); {
	case err == nil:
		prev = latest.TransactionID
		prevAt = latest.RecordedAt
	case errors.Is(err, sql.ErrNoRows):
	default:
		return audit.Record{}, fmt.Errorf("read chain head: %w", err)
	}

	// Truncated to microseconds so the derivation survives a round
	// trip through timestamptz columns. Each record must sit strictly
	// after its predecessor to keep transaction IDs unique.
	ts := time.Now().UTC().Truncate(time.Microsecond)
	if !prevAt.IsZero() && !ts.After(prevAt) {
		ts = prevAt.Add(time.Microsecond)
	}
	rec := audit.Record{
		TransactionID:     deriveTransactionID(contentHash, ts, op),
		PrevTransactionID: prev,
		Operation:         op,
		ContentHash:       contentHash,
		HashAlgorithm:     audit.HashAlgorithm,
		Author:            author,
		Metadata:          metadata,
		RecordedAt:        ts,
	}

	stored, err := s.store.AppendAuditRecord(ctx, rec)
	if err != nil {
		return audit.Record{}, fmt.Errorf("append audit record: %w", err)
	}
	s.appendLogLine(stored)
	metrics.RecordLedgerAppend(op)

	s.log.WithField("transaction_id", stored.TransactionID).
		WithField("operation", op).
		Info("audit transaction recorded")
	return stored, nil
}

// Verify re-derives a record's transaction ID from its stored fields
// and checks the link to its predecessor.
func (s *Service) Verify(ctx context.Context, txID string) (audit.Verification, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return audit.Verification{}, domain.NewError(domain.KindLedger, "transaction id is required")
	}

	rec, err := s.store.GetAuditRecord(ctx, txID)
	if err != nil {
		return audit.Verification{}, err
	}

	v := verifyContent(rec)
	if !v.Valid || rec.PrevTransactionID == "" {
		return v, nil
	}
	if _, err := s.store.GetAuditRecord(ctx, rec.PrevTransactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Verification{
				TransactionID: rec.TransactionID,
				Reason:        "previous record is missing from the ledger",
			}, nil
		}
		return audit.Verification{}, err
	}
	return v, nil
}

// VerifyChain walks the latest records backwards, re-deriving every
// transaction ID and checking each link. A limit of zero or less walks
// the full ledger, in which case the oldest record must be a genesis
// record with no predecessor.
func (s *Service) VerifyChain(ctx context.Context, limit int) (audit.ChainVerification, error) {
	records, err := s.store.ListAuditRecords(ctx, "", limit)
	if err != nil {
		return audit.ChainVerification{}, err
	}

	out := audit.ChainVerification{Checked: len(records), Valid: true}
	for i, rec := range records {
		v := verifyContent(rec)
		if v.Valid {
			switch {
			case i+1 < len(records):
				if rec.PrevTransactionID != records[i+1].TransactionID {
					v = audit.Verification{
						TransactionID: rec.TransactionID,
						Reason:        "chain link does not match the previous record",
					}
				}
			case limit <= 0:
				if rec.PrevTransactionID != "" {
					v = audit.Verification{
						TransactionID: rec.TransactionID,
						Reason:        "genesis record points at a predecessor",
					}
				}
			}
		}
		if !v.Valid {
			out.Valid = false
			out.Broken = append(out.Broken, v)
		}
	}

	s.log.WithField("checked", out.Checked).
		WithField("valid", out.Valid).
		Info("ledger chain verified")
	return out, nil
}

// Transaction returns a ledger record by transaction ID.
func (s *Service) Transaction(ctx context.Context, txID string) (audit.Record, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return audit.Record{}, domain.NewError(domain.KindLedger, "transaction id is required")
	}
	return s.store.GetAuditRecord(ctx, txID)
}

// Records lists ledger records, newest first. operation narrows the
// list, limit caps it when positive and since drops older records.
func (s *Service) Records(ctx context.Context, operation string, limit int, since time.Time) ([]audit.Record, error) {
	records, err := s.store.ListAuditRecords(ctx, strings.TrimSpace(operation), limit)
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		return records, nil
	}
	kept := records[:0]
	for _, rec := range records {
		if !rec.RecordedAt.Before(since) {
			kept = append(kept, rec)
		}
	}
	return kept, nil
}

// HashFile returns the hex sha256 of a file, streamed from disk.
func (s *Service) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.NotFoundError(domain.KindLedger, fmt.Sprintf("file not found: %s", path))
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex sha256 of a byte slice.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func deriveTransactionID(contentHash string, ts time.Time, op string) string {
	sum := sha256.Sum256([]byte(contentHash + "|" + ts.Format(time.RFC3339Nano) + "|" + op))
	return hex.EncodeToString(sum[:])
}

func verifyContent(rec audit.Record) audit.Verification {
	want := deriveTransactionID(rec.ContentHash, rec.RecordedAt.UTC(), rec.Operation)
	if want != rec.TransactionID {
		return audit.Verification{
			TransactionID: rec.TransactionID,
			Reason:        "transaction id does not match the record contents",
		}
	}
	return audit.Verification{TransactionID: rec.TransactionID, Valid: true}
}

// appendLogLine mirrors a record to the JSONL audit log. The store is
// authoritative, so sink failures are logged and swallowed.
func (s *Service) appendLogLine(rec audit.Record) {
	if s.cfg.LogPath == "" {
		return
	}
	if err := appendJSONLine(s.cfg.LogPath, rec); err != nil {
		s.log.WithError(err).
			WithField("path", s.cfg.LogPath).
			Warn("audit log file write failed")
	}
}

func appendJSONLine(path string, rec audit.Record) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(rec)
}
