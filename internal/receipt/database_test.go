package receipt

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		ctx   context.Context
		db    *BoltDB
		clock time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())

		clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		db.now = func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newReceipt := func(userID, store string, itemCount int) *Receipt {
		return &Receipt{UserID: userID, StoreName: store, Timestamp: "2024-03-01", Total: 10, ItemCount: itemCount}
	}

	Describe("InsertReceipt", func() {
		var (
			receipt *Receipt
			err     error
		)

		BeforeEach(func() {
			receipt = newReceipt("user-1", "Edeka", 0)
		})

		JustBeforeEach(func() {
			err = db.InsertReceipt(ctx, receipt)
		})

		It("should assign an ID and timestamps", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(receipt.ID).NotTo(BeEmpty())
			Expect(receipt.CreatedAt).To(Equal(time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC)))
			Expect(receipt.UpdatedAt).To(Equal(receipt.CreatedAt))
		})

		It("should be readable afterwards", func() {
			saved, getErr := db.GetReceipt(ctx, receipt.ID)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(saved.StoreName).To(Equal("Edeka"))
			Expect(saved.Items).To(BeEmpty())
		})
	})

	Describe("InsertItems", func() {
		var (
			receiptID string
			items     []*Item
			err       error
		)

		BeforeEach(func() {
			r := newReceipt("user-1", "Edeka", 2)
			Expect(db.InsertReceipt(ctx, r)).To(Succeed())
			receiptID = r.ID
			items = []*Item{
				{Name: "Milch", Price: 1.19, Quantity: 1},
				{Name: "Brot", Price: 2.49, Quantity: 2},
			}
		})

		JustBeforeEach(func() {
			err = db.InsertItems(ctx, receiptID, items)
		})

		When("the receipt exists", func() {
			It("should store the items in order", func() {
				Expect(err).NotTo(HaveOccurred())
				saved, getErr := db.GetReceipt(ctx, receiptID)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Items).To(HaveLen(2))
				Expect(saved.Items[0].Name).To(Equal("Milch"))
				Expect(saved.Items[1].Name).To(Equal("Brot"))
				Expect(saved.Items[1].ReceiptID).To(Equal(receiptID))
				Expect(saved.Items[1].ID).NotTo(BeEmpty())
			})
		})

		When("the receipt does not exist", func() {
			BeforeEach(func() {
				receiptID = "missing"
			})

			It("should return ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("InsertReceiptWithItems", func() {
		It("should write both in one step", func() {
			r := newReceipt("user-1", "Rewe", 1)
			Expect(db.InsertReceiptWithItems(ctx, r, []*Item{{Name: "Käse", Price: 3.5, Quantity: 1}})).To(Succeed())

			saved, err := db.GetReceipt(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Items).To(HaveLen(1))
			Expect(saved.Items[0].Name).To(Equal("Käse"))
		})
	})

	Describe("GetReceipt", func() {
		When("the receipt does not exist", func() {
			It("should return ErrNotFound", func() {
				_, err := db.GetReceipt(ctx, "nope")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListReceipts", func() {
		BeforeEach(func() {
			Expect(db.InsertReceipt(ctx, newReceipt("user-1", "first", 0))).To(Succeed())
			Expect(db.InsertReceipt(ctx, newReceipt("user-2", "other user", 0))).To(Succeed())
			Expect(db.InsertReceipt(ctx, newReceipt("user-1", "second", 0))).To(Succeed())
		})

		It("should return only the user's receipts, most recently saved first", func() {
			receipts, err := db.ListReceipts(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(2))
			Expect(receipts[0].StoreName).To(Equal("second"))
			Expect(receipts[1].StoreName).To(Equal("first"))
		})

		It("should return an empty list for unknown users", func() {
			receipts, err := db.ListReceipts(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(BeEmpty())
		})
	})

	Describe("DeleteReceipt", func() {
		var receiptID string

		BeforeEach(func() {
			r := newReceipt("user-1", "Edeka", 1)
			Expect(db.InsertReceiptWithItems(ctx, r, []*Item{{Name: "Milch", Price: 1, Quantity: 1}})).To(Succeed())
			receiptID = r.ID
		})

		It("should remove the receipt and its items", func() {
			Expect(db.DeleteReceipt(ctx, receiptID)).To(Succeed())
			_, err := db.GetReceipt(ctx, receiptID)
			Expect(err).To(MatchError(ErrNotFound))

			history, err := db.ListItemsByName(ctx, "user-1", "Milch")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(BeEmpty())
		})

		It("should return ErrNotFound for unknown receipts", func() {
			Expect(db.DeleteReceipt(ctx, "missing")).To(MatchError(ErrNotFound))
		})
	})

	Describe("ListItemsByName", func() {
		BeforeEach(func() {
			older := newReceipt("user-1", "Edeka", 2)
			Expect(db.InsertReceiptWithItems(ctx, older, []*Item{
				{Name: "Milch", Price: 1.09, Quantity: 1},
				{Name: "Brot", Price: 2.49, Quantity: 1},
			})).To(Succeed())
			foreign := newReceipt("user-2", "Aldi", 1)
			Expect(db.InsertReceiptWithItems(ctx, foreign, []*Item{{Name: "Milch", Price: 0.99, Quantity: 1}})).To(Succeed())
			newer := newReceipt("user-1", "Rewe", 1)
			Expect(db.InsertReceiptWithItems(ctx, newer, []*Item{{Name: "Milch", Price: 1.19, Quantity: 2}})).To(Succeed())
		})

		It("should return the user's purchases oldest first with their receipts", func() {
			history, err := db.ListItemsByName(ctx, "user-1", "Milch")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].Item.Price).To(Equal(1.09))
			Expect(history[0].Receipt.StoreName).To(Equal("Edeka"))
			Expect(history[1].Item.Price).To(Equal(1.19))
			Expect(history[1].Receipt.StoreName).To(Equal("Rewe"))
		})

		It("should match the name exactly", func() {
			for _, name := range []string{"milch", "MILCH", "Milch ", "Mil"} {
				history, err := db.ListItemsByName(ctx, "user-1", name)
				Expect(err).NotTo(HaveOccurred())
				Expect(history).To(BeEmpty(), name)
			}
		})
	})

	Describe("ListOrphans", func() {
		var orphanID string

		BeforeEach(func() {
			orphan := newReceipt("user-1", "lost items", 3)
			Expect(db.InsertReceipt(ctx, orphan)).To(Succeed())
			orphanID = orphan.ID

			Expect(db.InsertReceipt(ctx, newReceipt("user-1", "no items", 0))).To(Succeed())

			complete := newReceipt("user-1", "complete", 1)
			Expect(db.InsertReceiptWithItems(ctx, complete, []*Item{{Name: "Milch", Price: 1, Quantity: 1}})).To(Succeed())
		})

		It("should return receipts missing their items", func() {
			orphans, err := db.ListOrphans(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
			Expect(err).NotTo(HaveOccurred())
			Expect(orphans).To(HaveLen(1))
			Expect(orphans[0].ID).To(Equal(orphanID))
		})

		It("should skip receipts newer than the cutoff", func() {
			orphans, err := db.ListOrphans(ctx, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
			Expect(err).NotTo(HaveOccurred())
			Expect(orphans).To(BeEmpty())
		})
	})
})
