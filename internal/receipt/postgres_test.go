package receipt

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PostgresDB", func() {
	var (
		ctx    context.Context
		db     *PostgresDB
		userID string
	)

	BeforeEach(func() {
		dsn := os.Getenv("RECEIPTS_TEST_DATABASE_URL")
		if dsn == "" {
			Skip("RECEIPTS_TEST_DATABASE_URL not set")
		}
		ctx = context.Background()
		var err error
		db, err = NewPostgresDB(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		// Each test works in its own user namespace so runs do not collide.
		userID = uuid.NewString()
	})

	AfterEach(func() {
		if db != nil {
			receipts, err := db.ListReceipts(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			for _, r := range receipts {
				Expect(db.DeleteReceipt(ctx, r.ID)).To(Succeed())
			}
			db.Close()
		}
	})

	It("round-trips a receipt with items", func() {
		tax := 0.42
		rating := 8
		r := &Receipt{
			UserID:        userID,
			StoreName:     "Edeka",
			ReceiptUID:    "A-123",
			Address:       &Address{Street: "Hauptstr. 1", City: "Berlin"},
			Timestamp:     "2024-02-01T13:30:00Z",
			Total:         5.67,
			TaxAmount:     &tax,
			QualityRating: &rating,
			ItemCount:     2,
		}
		Expect(db.InsertReceiptWithItems(ctx, r, []*Item{
			{Name: "Milch", Price: 1.19, Quantity: 1},
			{Name: "Brot", Price: 2.24, Quantity: 2},
		})).To(Succeed())

		saved, err := db.GetReceipt(ctx, r.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.StoreName).To(Equal("Edeka"))
		Expect(saved.Address).To(Equal(&Address{Street: "Hauptstr. 1", City: "Berlin"}))
		Expect(*saved.TaxAmount).To(Equal(0.42))
		Expect(*saved.QualityRating).To(Equal(8))
		Expect(saved.Items).To(HaveLen(2))
		Expect(saved.Items[0].Name).To(Equal("Milch"))
		Expect(saved.Items[1].Quantity).To(Equal(2))
	})

	It("reports missing receipts as not found", func() {
		_, err := db.GetReceipt(ctx, uuid.NewString())
		Expect(err).To(MatchError(ErrNotFound))
		Expect(db.DeleteReceipt(ctx, uuid.NewString())).To(MatchError(ErrNotFound))
	})

	It("finds receipts that lost their items", func() {
		r := &Receipt{UserID: userID, StoreName: "Rewe", Timestamp: "2024-02-01", Total: 1, ItemCount: 3}
		Expect(db.InsertReceipt(ctx, r)).To(Succeed())

		orphans, err := db.ListOrphans(ctx, time.Now().Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		ids := make([]string, 0, len(orphans))
		for _, o := range orphans {
			ids = append(ids, o.ID)
		}
		Expect(ids).To(ContainElement(r.ID))
	})

	It("lists item history oldest first", func() {
		first := &Receipt{UserID: userID, StoreName: "Edeka", Timestamp: "2024-01-01", Total: 1, ItemCount: 1}
		Expect(db.InsertReceiptWithItems(ctx, first, []*Item{{Name: "Milch", Price: 1.09, Quantity: 1}})).To(Succeed())
		second := &Receipt{UserID: userID, StoreName: "Rewe", Timestamp: "2024-02-01", Total: 1, ItemCount: 1}
		Expect(db.InsertReceiptWithItems(ctx, second, []*Item{{Name: "Milch", Price: 1.19, Quantity: 1}})).To(Succeed())

		history, err := db.ListItemsByName(ctx, userID, "Milch")
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))
		Expect(history[0].Receipt.StoreName).To(Equal("Edeka"))
		Expect(history[1].Item.Price).To(Equal(1.19))

		history, err = db.ListItemsByName(ctx, userID, "milch")
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(BeEmpty())
	})
})
