package receipt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	receiptsBucketName = "receipts"
	// Items live in one sub-bucket per receipt, keyed by insertion sequence.
	itemsBucketName = "items"
)

// DB defines the interface for database operations. Backends assign IDs
// and creation times on insert.
type DB interface {
	// InsertReceipt saves a receipt without its items
	InsertReceipt(ctx context.Context, receipt *Receipt) error

	// InsertItems saves items belonging to an existing receipt
	InsertItems(ctx context.Context, receiptID string, items []*Item) error

	// GetReceipt retrieves a receipt and its items by ID
	GetReceipt(ctx context.Context, id string) (*Receipt, error)

	// ListReceipts returns a user's receipts with items, most recently saved
	// first. The service reorders them by purchase time.
	ListReceipts(ctx context.Context, userID string) ([]*Receipt, error)

	// DeleteReceipt removes a receipt and its items
	DeleteReceipt(ctx context.Context, id string) error

	// ListItemsByName returns a user's purchases of an item, oldest first.
	// Names match exactly, case included.
	ListItemsByName(ctx context.Context, userID, name string) ([]*ItemHistoryEntry, error)

	// ListOrphans returns receipts created before cutoff that were saved
	// with items but have none stored
	ListOrphans(ctx context.Context, cutoff time.Time) ([]*Receipt, error)

	// Close closes the database connection
	Close() error
}

// TxDB is implemented by backends that can write a receipt and its items
// atomically
type TxDB interface {
	InsertReceiptWithItems(ctx context.Context, receipt *Receipt, items []*Item) error
}

// BoltDB implements DB and TxDB using BoltDB
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(receiptsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(itemsBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

// InsertReceipt saves a receipt
func (b *BoltDB) InsertReceipt(_ context.Context, receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return b.putReceipt(tx, receipt)
	})
}

// InsertItems saves items for an existing receipt
func (b *BoltDB) InsertItems(_ context.Context, receiptID string, items []*Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(receiptsBucketName)).Get([]byte(receiptID)) == nil {
			return fmt.Errorf("receipt %s: %w", receiptID, ErrNotFound)
		}
		return b.putItems(tx, receiptID, items)
	})
}

// InsertReceiptWithItems saves a receipt and its items in one transaction
func (b *BoltDB) InsertReceiptWithItems(_ context.Context, receipt *Receipt, items []*Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := b.putReceipt(tx, receipt); err != nil {
			return err
		}
		return b.putItems(tx, receipt.ID, items)
	})
}

func (b *BoltDB) putReceipt(tx *bbolt.Tx, receipt *Receipt) error {
	now := b.now().UTC()
	receipt.ID = uuid.NewString()
	receipt.CreatedAt = now
	receipt.UpdatedAt = now

	stored := *receipt
	stored.Items = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	return tx.Bucket([]byte(receiptsBucketName)).Put([]byte(receipt.ID), data)
}

func (b *BoltDB) putItems(tx *bbolt.Tx, receiptID string, items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	bucket, err := tx.Bucket([]byte(itemsBucketName)).CreateBucketIfNotExists([]byte(receiptID))
	if err != nil {
		return fmt.Errorf("creating item bucket: %w", err)
	}

	now := b.now().UTC()
	for _, item := range items {
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating item key: %w", err)
		}
		item.ID = uuid.NewString()
		item.ReceiptID = receiptID
		item.CreatedAt = now

		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := bucket.Put(key, data); err != nil {
			return err
		}
	}
	return nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(_ context.Context, id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(receiptsBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		items, err := readItems(tx, id)
		receipt.Items = items
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns a user's receipts, most recently saved first
func (b *BoltDB) ListReceipts(_ context.Context, userID string) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return forEachReceipt(tx, func(receipt *Receipt) error {
			if receipt.UserID != userID {
				return nil
			}
			items, err := readItems(tx, receipt.ID)
			if err != nil {
				return err
			}
			receipt.Items = items
			receipts = append(receipts, receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and its items
func (b *BoltDB) DeleteReceipt(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return err
		}
		err := tx.Bucket([]byte(itemsBucketName)).DeleteBucket([]byte(id))
		if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("deleting items: %w", err)
		}
		return nil
	})
}

// ListItemsByName returns every purchase of name by a user, oldest first
func (b *BoltDB) ListItemsByName(_ context.Context, userID, name string) ([]*ItemHistoryEntry, error) {
	entries := make([]*ItemHistoryEntry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return forEachReceipt(tx, func(receipt *Receipt) error {
			if receipt.UserID != userID {
				return nil
			}
			items, err := readItems(tx, receipt.ID)
			if err != nil {
				return err
			}
			for _, item := range items {
				if item.Name == name {
					entries = append(entries, &ItemHistoryEntry{Item: item, Receipt: receipt})
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Item.CreatedAt.Before(entries[j].Item.CreatedAt)
	})
	return entries, nil
}

// ListOrphans returns receipts missing the items they were saved with
func (b *BoltDB) ListOrphans(_ context.Context, cutoff time.Time) ([]*Receipt, error) {
	orphans := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		items := tx.Bucket([]byte(itemsBucketName))
		return forEachReceipt(tx, func(receipt *Receipt) error {
			if receipt.ItemCount == 0 || !receipt.CreatedAt.Before(cutoff) {
				return nil
			}
			if sub := items.Bucket([]byte(receipt.ID)); sub != nil && sub.Stats().KeyN > 0 {
				return nil
			}
			orphans = append(orphans, receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func forEachReceipt(tx *bbolt.Tx, fn func(*Receipt) error) error {
	return tx.Bucket([]byte(receiptsBucketName)).ForEach(func(k, v []byte) error {
		var receipt Receipt
		if err := json.Unmarshal(v, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		return fn(&receipt)
	})
}

func readItems(tx *bbolt.Tx, receiptID string) ([]*Item, error) {
	items := make([]*Item, 0)
	bucket := tx.Bucket([]byte(itemsBucketName)).Bucket([]byte(receiptID))
	if bucket == nil {
		return items, nil
	}
	err := bucket.ForEach(func(k, v []byte) error {
		var item Item
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("unmarshaling item: %w", err)
		}
		items = append(items, &item)
		return nil
	})
	return items, err
}
