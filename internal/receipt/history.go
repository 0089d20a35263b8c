package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-tracker/internal/dates"
)

// spendingMonths is the number of calendar months covered by MonthlySpending,
// the current one included
const spendingMonths = 13

// ListReceipts returns the current user's receipts, most recent purchase
// first. Receipts with the same purchase time are ordered by when they were
// saved, newest first. Timestamps that cannot be read sort last.
func (s *Service) ListReceipts(ctx context.Context) ([]*Receipt, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	receipts, err := s.db.ListReceipts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	sortByPurchase(receipts, s.cfg.Location)
	return receipts, nil
}

func sortByPurchase(receipts []*Receipt, loc *time.Location) {
	type keyed struct {
		receipt *Receipt
		at      time.Time
		ok      bool
	}
	keys := make([]keyed, len(receipts))
	for i, r := range receipts {
		at, ok := dates.Parse(r.Timestamp, loc)
		keys[i] = keyed{receipt: r, at: at, ok: ok}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ok != b.ok {
			return a.ok
		}
		if a.ok && !a.at.Equal(b.at) {
			return a.at.After(b.at)
		}
		return a.receipt.CreatedAt.After(b.receipt.CreatedAt)
	})
	for i := range keys {
		receipts[i] = keys[i].receipt
	}
}

// GetReceipt retrieves one of the current user's receipts by ID
func (s *Service) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.UserID != userID {
		return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	return receipt, nil
}

// DeleteReceipt removes a receipt, its items and its image
func (s *Service) DeleteReceipt(ctx context.Context, id string) error {
	receipt, err := s.GetReceipt(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteReceipt(ctx, id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	s.deleteImage(ctx, receipt)
	return nil
}

// GetImage returns a stored image for the public file route
func (s *Service) GetImage(ctx context.Context, key string) ([]byte, error) {
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("getting image: %w", err)
	}
	return data, nil
}

func (s *Service) deleteImage(ctx context.Context, receipt *Receipt) {
	if receipt.ImageURL == "" {
		return
	}
	key, ok := s.storage.KeyFromURL(receipt.ImageURL)
	if !ok {
		return
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		// Log error but keep the database deletion
		slog.Warn("Failed to delete image", "receipt_id", receipt.ID, "key", key, "error", err)
	}
}

// ItemHistory returns every purchase of an item, oldest first
func (s *Service) ItemHistory(ctx context.Context, name string) ([]*ItemHistoryEntry, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrInvalidRequest)
	}
	entries, err := s.db.ListItemsByName(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("listing item history: %w", err)
	}
	return entries, nil
}

// MonthlySpending sums receipt totals per calendar month, from twelve
// months back through the current month. Months without receipts are zero.
func (s *Service) MonthlySpending(ctx context.Context) ([]MonthTotal, error) {
	receipts, err := s.ListReceipts(ctx)
	if err != nil {
		return nil, err
	}

	loc := s.cfg.Location
	now := s.timeSource.Now().In(loc)
	first := time.Date(now.Year(), now.Month()-(spendingMonths-1), 1, 0, 0, 0, 0, loc)

	sums := make([]decimal.Decimal, spendingMonths)
	for _, r := range receipts {
		t, ok := dates.Parse(r.Timestamp, loc)
		if !ok {
			continue
		}
		t = t.In(loc)
		idx := (t.Year()-first.Year())*12 + int(t.Month()) - int(first.Month())
		if idx < 0 || idx >= spendingMonths {
			continue
		}
		sums[idx] = sums[idx].Add(decimal.NewFromFloat(r.Total))
	}

	totals := make([]MonthTotal, spendingMonths)
	for i := range totals {
		month := first.AddDate(0, i, 0)
		totals[i] = MonthTotal{
			Month: month.Format("2006-01"),
			Label: month.Format("Jan"),
			Total: sums[i].Round(2).InexactFloat64(),
		}
	}
	return totals, nil
}

// SweepOrphans deletes receipts older than grace whose items were lost
// during a non-transactional save. It returns the number deleted.
func (s *Service) SweepOrphans(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.timeSource.Now().Add(-grace)
	orphans, err := s.db.ListOrphans(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing orphaned receipts: %w", err)
	}

	deleted := 0
	for _, r := range orphans {
		if err := s.db.DeleteReceipt(ctx, r.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("deleting orphaned receipt %s: %w", r.ID, err)
		}
		s.deleteImage(ctx, r)
		slog.Info("Deleted orphaned receipt", "receipt_id", r.ID, "item_count", r.ItemCount)
		deleted++
	}
	return deleted, nil
}

// RunSweeper calls SweepOrphans and ExpireDrafts every interval until ctx
// is done
func (s *Service) RunSweeper(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOrphans(ctx, grace); err != nil {
				slog.Error("Orphan sweep failed", "error", err)
			}
			s.ExpireDrafts()
		}
	}
}
