package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-tracker/internal/auth"
	"github.com/zombor/receipt-tracker/internal/coerce"
	"github.com/zombor/receipt-tracker/internal/extraction"
	"github.com/zombor/receipt-tracker/internal/imageproc"
	"github.com/zombor/receipt-tracker/internal/receipt"
)

// modelScanner prepares the upload like a real provider and answers with
// fixed model output
type modelScanner struct {
	output string
}

func (m *modelScanner) ScanReceipt(_ context.Context, data []byte, contentType string) (*receipt.Draft, error) {
	if _, err := imageproc.ToPNG(data, contentType, imageproc.DefaultMaxDimension); err != nil {
		return nil, err
	}
	result, err := extraction.Parse([]byte(m.output))
	if err != nil {
		return nil, err
	}
	return result.Draft(), nil
}

func (m *modelScanner) Close() error {
	return nil
}

const edekaOutput = "```json\n" + `{
	"store": {"name": "EDEKA Müller"},
	"receipt_uid": "1234-5678",
	"address": {"street": "Hauptstraße 5", "postal_code": "80331", "city": "München"},
	"date": "15.03.24",
	"time": "18:42",
	"items": [
		{"name": "Bio Vollmilch", "price": 1.29, "quantity": 2},
		{"name": "Bananen", "price": 1.99},
		{"name": "Pfand"}
	],
	"total": 6.56,
	"taxAmount": 0.43,
	"quality_rating": 9
}` + "\n```"

func receiptPNG() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 80)))).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		tempDir     string
		storagePath string
		db          *receipt.BoltDB
		store       *receipt.LocalStorage
		scanner     *modelScanner
		service     *receipt.Service
		ctx         context.Context
		berlin      *time.Location
	)

	BeforeEach(func() {
		var err error
		tempDir = GinkgoT().TempDir()
		storagePath = filepath.Join(tempDir, "receipts")

		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = receipt.NewLocalStorage(storagePath, "http://localhost:8080")
		Expect(err).NotTo(HaveOccurred())

		scanner = &modelScanner{output: edekaOutput}
		berlin = time.FixedZone("CET", 3600)
		service = receipt.NewService(db, scanner, store, auth.ContextSession{}, receipt.Config{
			Location:          berlin,
			ScanTimeout:       5 * time.Second,
			SaveTimeout:       5 * time.Second,
			MaxImageDimension: 20,
		})
		ctx = auth.WithUser(context.Background(), "anna")
	})

	AfterEach(func() {
		db.Close()
	})

	It("scans, corrects and saves a receipt", func() {
		draft, err := service.Scan(ctx, receiptPNG(), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(draft.Generation).To(Equal("current"))
		Expect(draft.Items).To(HaveLen(3))
		Expect(draft.Items[2].Price.Present).To(BeFalse())

		index := 2
		_, err = service.EditDraft(ctx, draft.ID, receipt.DraftEdit{Field: "price", Item: &index, Text: "0,25"})
		Expect(err).NotTo(HaveOccurred())

		saved, err := service.SaveDraft(ctx, draft.ID, nil)
		Expect(err).NotTo(HaveOccurred())

		// 18:42 at UTC+1
		Expect(saved.Timestamp).To(Equal("2024-03-15T17:42:00Z"))
		Expect(saved.Address.City).To(Equal("München"))
		Expect(*saved.QualityRating).To(Equal(9))

		got, err := service.GetReceipt(ctx, saved.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Items).To(HaveLen(3))
		Expect(got.Items[0].Name).To(Equal("Bio Vollmilch"))
		Expect(got.Items[0].Quantity).To(Equal(2))
		Expect(got.Items[2].Price).To(Equal(0.25))

		key, ok := store.KeyFromURL(got.ImageURL)
		Expect(ok).To(BeTrue())
		data, err := os.ReadFile(filepath.Join(storagePath, key))
		Expect(err).NotTo(HaveOccurred())
		img, format, err := image.Decode(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("jpeg"))
		Expect(img.Bounds().Dy()).To(Equal(20))
	})

	It("saves a legacy result as a date-only receipt", func() {
		result, err := extraction.Parse([]byte(`{
			"store": {"name": "Aldi", "location": "Berlin"},
			"date": "02.01.2024",
			"items": [{"name": "Kaffee", "price": 4.99}],
			"total": 4.99
		}`))
		Expect(err).NotTo(HaveOccurred())

		saved, err := service.Save(ctx, result.Draft(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Timestamp).To(Equal("2024-01-02"))
		Expect(saved.TaxAmount).To(BeNil())
		Expect(saved.QualityRating).To(BeNil())
		Expect(saved.ImageURL).To(BeEmpty())

		history, err := service.ItemHistory(ctx, "Kaffee")
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(1))
		Expect(history[0].Receipt.StoreName).To(Equal("Aldi"))

		history, err = service.ItemHistory(ctx, "kaffee")
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(BeEmpty())
	})

	It("lists receipts by purchase time rather than save time", func() {
		for _, date := range []string{"01.06.24", "01.01.23"} {
			draft := &receipt.Draft{
				Generation: "current",
				StoreName:  "Rewe",
				Date:       date,
				Total:      coerce.NewField(1.0),
				Items:      []*receipt.DraftItem{{Name: "Brot", Price: coerce.NewField(1.0), Quantity: coerce.NewField(1)}},
			}
			_, err := service.Save(ctx, draft, nil)
			Expect(err).NotTo(HaveOccurred())
		}

		receipts, err := service.ListReceipts(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(HaveLen(2))
		Expect(receipts[0].Timestamp).To(Equal("2024-06-01"))
		Expect(receipts[1].Timestamp).To(Equal("2023-01-01"))
	})

	It("keeps images apart for receipts saved in the same millisecond", func() {
		fixed := time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC)
		service = receipt.NewServiceWithDeps(db, scanner, store, auth.ContextSession{}, receipt.Config{Location: berlin},
			&countingIDs{}, fixedClock{now: fixed})

		save := func(user string) *receipt.Receipt {
			userCtx := auth.WithUser(context.Background(), user)
			draft, err := service.Scan(userCtx, receiptPNG(), "image/png")
			Expect(err).NotTo(HaveOccurred())
			index := 2
			_, err = service.EditDraft(userCtx, draft.ID, receipt.DraftEdit{Field: "price", Item: &index, Text: "0,25"})
			Expect(err).NotTo(HaveOccurred())
			saved, err := service.SaveDraft(userCtx, draft.ID, nil)
			Expect(err).NotTo(HaveOccurred())
			return saved
		}
		first := save("anna")
		second := save("ben")
		Expect(first.ImageURL).NotTo(Equal(second.ImageURL))

		Expect(service.DeleteReceipt(auth.WithUser(context.Background(), "ben"), second.ID)).To(Succeed())

		key, ok := store.KeyFromURL(first.ImageURL)
		Expect(ok).To(BeTrue())
		_, err := os.Stat(filepath.Join(storagePath, key))
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a draft with an unpriced item and keeps nothing", func() {
		draft, err := service.Scan(ctx, receiptPNG(), "image/png")
		Expect(err).NotTo(HaveOccurred())

		_, err = service.SaveDraft(ctx, draft.ID, nil)
		Expect(err).To(MatchError(receipt.ErrInvalidDraft))

		receipts, err := service.ListReceipts(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(BeEmpty())

		entries, err := os.ReadDir(storagePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("serves the whole flow over HTTP", func() {
		server := receipt.NewServer(service, auth.Static{User: "anna"})
		ts := httptest.NewServer(server)
		defer ts.Close()

		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile("file", "kassenbon.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(receiptPNG())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ts.URL+"/api/scans", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var draft receipt.Draft
		Expect(json.NewDecoder(resp.Body).Decode(&draft)).To(Succeed())
		resp.Body.Close()

		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/drafts/"+draft.ID+"/items/2", nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err = http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		resp.Body.Close()

		resp, err = http.Post(ts.URL+"/api/drafts/"+draft.ID+"/save", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var saved receipt.Receipt
		Expect(json.NewDecoder(resp.Body).Decode(&saved)).To(Succeed())
		resp.Body.Close()
		Expect(saved.ImageURL).To(HavePrefix("http://localhost:8080/files/"))

		key, ok := store.KeyFromURL(saved.ImageURL)
		Expect(ok).To(BeTrue())
		resp, err = http.Get(ts.URL + "/files/" + key)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
		resp.Body.Close()
	})

	It("answers an upload that is not an image with Unsupported Media Type", func() {
		server := receipt.NewServer(service, auth.Static{User: "anna"})
		ts := httptest.NewServer(server)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/scans", "text/plain", strings.NewReader("not a receipt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
		resp.Body.Close()
	})
})

type countingIDs struct {
	n int
}

func (c *countingIDs) Generate() string {
	c.n++
	return fmt.Sprintf("draft-%d", c.n)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}
