package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id        TEXT NOT NULL,
	store_name     TEXT NOT NULL,
	receipt_uid    TEXT,
	street         TEXT,
	postal_code    TEXT,
	city           TEXT,
	"timestamp"    TEXT NOT NULL,
	total          DOUBLE PRECISION NOT NULL,
	tax_amount     DOUBLE PRECISION,
	quality_rating INTEGER,
	image_url      TEXT,
	item_count     INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS receipts_user_created_idx ON receipts (user_id, created_at DESC);
CREATE TABLE IF NOT EXISTS receipt_items (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	receipt_id TEXT NOT NULL REFERENCES receipts (id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	quantity   INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS receipt_items_receipt_idx ON receipt_items (receipt_id);
CREATE INDEX IF NOT EXISTS receipt_items_name_idx ON receipt_items (name);
`

const receiptColumns = `r.id, r.user_id, r.store_name, r.receipt_uid, r.street, r.postal_code, r.city,
	r."timestamp", r.total, r.tax_amount, r.quality_rating, r.image_url, r.item_count, r.created_at, r.updated_at`

const itemColumns = `i.id, i.receipt_id, i.name, i.price, i.quantity, i.created_at`

// querier is satisfied by both the pool and a transaction
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresDB implements DB and TxDB on a pgx connection pool
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB connects to dsn and creates the schema if needed
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "receipt-tracker"

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	slog.Info("Connected to postgres")
	return &PostgresDB{pool: pool}, nil
}

// InsertReceipt saves a receipt
func (p *PostgresDB) InsertReceipt(ctx context.Context, receipt *Receipt) error {
	return insertReceipt(ctx, p.pool, receipt)
}

// InsertItems saves items for an existing receipt
func (p *PostgresDB) InsertItems(ctx context.Context, receiptID string, items []*Item) error {
	return insertItems(ctx, p.pool, receiptID, items)
}

// InsertReceiptWithItems saves a receipt and its items in one transaction
func (p *PostgresDB) InsertReceiptWithItems(ctx context.Context, receipt *Receipt, items []*Item) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := insertReceipt(ctx, tx, receipt); err != nil {
			return err
		}
		return insertItems(ctx, tx, receipt.ID, items)
	})
}

func insertReceipt(ctx context.Context, q querier, r *Receipt) error {
	var street, postalCode, city *string
	if !r.Address.IsZero() {
		street, postalCode, city = nullable(r.Address.Street), nullable(r.Address.PostalCode), nullable(r.Address.City)
	}

	const query = `
		INSERT INTO receipts (user_id, store_name, receipt_uid, street, postal_code, city,
			"timestamp", total, tax_amount, quality_rating, image_url, item_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`
	err := q.QueryRow(ctx, query,
		r.UserID, r.StoreName, nullable(r.ReceiptUID), street, postalCode, city,
		r.Timestamp, r.Total, r.TaxAmount, r.QualityRating, nullable(r.ImageURL), r.ItemCount,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}
	return nil
}

func insertItems(ctx context.Context, q querier, receiptID string, items []*Item) error {
	if len(items) == 0 {
		return nil
	}

	const query = `
		INSERT INTO receipt_items (receipt_id, name, price, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(query, receiptID, item.Name, item.Price, item.Quantity)
	}

	results := q.SendBatch(ctx, batch)
	for _, item := range items {
		if err := results.QueryRow().Scan(&item.ID, &item.CreatedAt); err != nil {
			results.Close()
			return fmt.Errorf("inserting item %q: %w", item.Name, err)
		}
		item.ReceiptID = receiptID
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("inserting items: %w", err)
	}
	return nil
}

// GetReceipt retrieves a receipt by ID
func (p *PostgresDB) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts r WHERE r.id = $1`, id)
	receipt, err := scanReceipt(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying receipt: %w", err)
	}

	if err := p.attachItems(ctx, []*Receipt{receipt}); err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns a user's receipts, most recently saved first
func (p *PostgresDB) ListReceipts(ctx context.Context, userID string) ([]*Receipt, error) {
	receipts, err := p.queryReceipts(ctx,
		`SELECT `+receiptColumns+` FROM receipts r WHERE r.user_id = $1 ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	if err := p.attachItems(ctx, receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt; items go with it through the foreign key
func (p *PostgresDB) DeleteReceipt(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM receipts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListItemsByName returns every purchase of name by a user, oldest first
func (p *PostgresDB) ListItemsByName(ctx context.Context, userID, name string) ([]*ItemHistoryEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+itemColumns+`, `+receiptColumns+`
		FROM receipt_items i
		JOIN receipts r ON r.id = i.receipt_id
		WHERE r.user_id = $1 AND i.name = $2
		ORDER BY i.created_at ASC`, userID, name)
	if err != nil {
		return nil, fmt.Errorf("querying item history: %w", err)
	}
	defer rows.Close()

	entries := make([]*ItemHistoryEntry, 0)
	for rows.Next() {
		var item Item
		receipt, err := scanReceipt(rows.Scan,
			&item.ID, &item.ReceiptID, &item.Name, &item.Price, &item.Quantity, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning item history: %w", err)
		}
		entries = append(entries, &ItemHistoryEntry{Item: &item, Receipt: receipt})
	}
	return entries, rows.Err()
}

// ListOrphans returns receipts missing the items they were saved with
func (p *PostgresDB) ListOrphans(ctx context.Context, cutoff time.Time) ([]*Receipt, error) {
	return p.queryReceipts(ctx, `
		SELECT `+receiptColumns+` FROM receipts r
		WHERE r.item_count > 0 AND r.created_at < $1
		AND NOT EXISTS (SELECT 1 FROM receipt_items i WHERE i.receipt_id = r.id)`, cutoff)
}

// Close closes the pool
func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresDB) queryReceipts(ctx context.Context, query string, args ...any) ([]*Receipt, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

func (p *PostgresDB) attachItems(ctx context.Context, receipts []*Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	ids := make([]string, len(receipts))
	byID := make(map[string]*Receipt, len(receipts))
	for i, r := range receipts {
		ids[i] = r.ID
		r.Items = make([]*Item, 0)
		byID[r.ID] = r
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM receipt_items i WHERE i.receipt_id = ANY($1) ORDER BY i.created_at, i.id`, ids)
	if err != nil {
		return fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ReceiptID, &item.Name, &item.Price, &item.Quantity, &item.CreatedAt); err != nil {
			return fmt.Errorf("scanning item: %w", err)
		}
		if r, ok := byID[item.ReceiptID]; ok {
			r.Items = append(r.Items, &item)
		}
	}
	return rows.Err()
}

// scanReceipt reads receiptColumns followed by any extra destinations
func scanReceipt(scan func(dest ...any) error, extra ...any) (*Receipt, error) {
	var (
		r                                          Receipt
		uid, street, postalCode, city, imageURL *string
	)
	dest := append(extra, &r.ID, &r.UserID, &r.StoreName, &uid, &street, &postalCode, &city,
		&r.Timestamp, &r.Total, &r.TaxAmount, &r.QualityRating, &imageURL, &r.ItemCount, &r.CreatedAt, &r.UpdatedAt)
	if err := scan(dest...); err != nil {
		return nil, err
	}

	r.ReceiptUID = deref(uid)
	r.ImageURL = deref(imageURL)
	addr := &Address{Street: deref(street), PostalCode: deref(postalCode), City: deref(city)}
	if !addr.IsZero() {
		r.Address = addr
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
