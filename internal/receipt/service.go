package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/zombor/receipt-tracker/internal/dates"
	"github.com/zombor/receipt-tracker/internal/imageproc"
)

// Scanner extracts a draft from a receipt image
type Scanner interface {
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*Draft, error)
	Close() error
}

// Session resolves the authenticated user of a request
type Session interface {
	UserID(ctx context.Context) (string, bool)
}

// IDGenerator generates unique IDs for drafts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the tunables of a Service
type Config struct {
	// Location interprets receipt wall-clock times. Defaults to time.Local.
	Location *time.Location
	// ScanTimeout bounds a single extraction call. Zero means no limit.
	ScanTimeout time.Duration
	// SaveTimeout bounds the whole save sequence. Zero means no limit.
	SaveTimeout time.Duration
	// MaxImageDimension bounds stored images. Zero keeps the original size.
	MaxImageDimension int
	// DraftTTL is how long an unsaved draft is kept. Zero keeps drafts until
	// they are saved or discarded.
	DraftTTL time.Duration
	// MaxDraftsPerUser bounds the unsaved drafts of one user. Zero means no limit.
	MaxDraftsPerUser int
}

// Service handles receipt operations
type Service struct {
	db          DB
	scanner     Scanner
	storage     Storage
	session     Session
	idGenerator IDGenerator
	timeSource  TimeSource
	cfg         Config
	validate    *validator.Validate

	mu     sync.Mutex
	drafts map[string]*Draft
	saving map[string]struct{}
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner Scanner, storage Storage, session Session, cfg Config) *Service {
	return NewServiceWithDeps(db, scanner, storage, session, cfg, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner Scanner, storage Storage, session Session, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		session:     session,
		idGenerator: idGen,
		timeSource:  timeSrc,
		cfg:         cfg,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		drafts:      make(map[string]*Draft),
		saving:      make(map[string]struct{}),
	}
}

func (s *Service) userID(ctx context.Context) (string, error) {
	userID, ok := s.session.UserID(ctx)
	if !ok || userID == "" {
		return "", ErrNotAuthenticated
	}
	return userID, nil
}

// Scan extracts a receipt image into a new draft owned by the current user
func (s *Service) Scan(ctx context.Context, data []byte, contentType string) (*Draft, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	// Checked before the model call and again when the draft is stored
	s.mu.Lock()
	err = s.checkDraftLimit(userID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ScanTimeout)
		defer cancel()
	}

	draft, err := s.scanner.ScanReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	draft.ID = s.idGenerator.Generate()
	draft.UserID = userID
	draft.CreatedAt = s.timeSource.Now()
	draft.Image = &Image{Data: data, ContentType: contentType}

	s.mu.Lock()
	if err := s.checkDraftLimit(userID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.drafts[draft.ID] = draft
	s.mu.Unlock()

	slog.Info("Receipt scanned", "draft_id", draft.ID, "generation", draft.Generation, "items", len(draft.Items))
	return draft.clone(), nil
}

// checkDraftLimit must be called with s.mu held
func (s *Service) checkDraftLimit(userID string) error {
	if s.cfg.MaxDraftsPerUser <= 0 {
		return nil
	}
	count := 0
	for _, d := range s.drafts {
		if d.UserID == userID {
			count++
		}
	}
	if count >= s.cfg.MaxDraftsPerUser {
		return fmt.Errorf("%w: limit is %d", ErrTooManyDrafts, s.cfg.MaxDraftsPerUser)
	}
	return nil
}

// ExpireDrafts drops drafts created more than DraftTTL ago, except those
// being saved. It returns the number dropped.
func (s *Service) ExpireDrafts() int {
	if s.cfg.DraftTTL <= 0 {
		return 0
	}
	cutoff := s.timeSource.Now().Add(-s.cfg.DraftTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, d := range s.drafts {
		if _, busy := s.saving[id]; busy || !d.CreatedAt.Before(cutoff) {
			continue
		}
		delete(s.drafts, id)
		expired++
	}
	if expired > 0 {
		slog.Info("Expired unsaved drafts", "count", expired)
	}
	return expired
}

// GetDraft returns a copy of a draft
func (s *Service) GetDraft(ctx context.Context, id string) (*Draft, error) {
	var draft *Draft
	err := s.withDraft(ctx, id, func(d *Draft) error {
		draft = d.clone()
		return nil
	})
	return draft, err
}

// EditDraft applies an edit and returns the updated draft
func (s *Service) EditDraft(ctx context.Context, id string, edit DraftEdit) (*Draft, error) {
	var draft *Draft
	err := s.withDraft(ctx, id, func(d *Draft) error {
		if err := d.Apply(edit); err != nil {
			return err
		}
		draft = d.clone()
		return nil
	})
	return draft, err
}

// AddDraftItem appends an empty item
func (s *Service) AddDraftItem(ctx context.Context, id string) (*Draft, error) {
	var draft *Draft
	err := s.withDraft(ctx, id, func(d *Draft) error {
		d.AddItem()
		draft = d.clone()
		return nil
	})
	return draft, err
}

// RemoveDraftItem removes the item at index
func (s *Service) RemoveDraftItem(ctx context.Context, id string, index int) (*Draft, error) {
	var draft *Draft
	err := s.withDraft(ctx, id, func(d *Draft) error {
		if err := d.RemoveItem(index); err != nil {
			return err
		}
		draft = d.clone()
		return nil
	})
	return draft, err
}

// DiscardDraft drops a draft without saving it
func (s *Service) DiscardDraft(ctx context.Context, id string) error {
	return s.withDraft(ctx, id, func(d *Draft) error {
		delete(s.drafts, id)
		return nil
	})
}

// withDraft runs fn on the current user's draft while holding the lock.
// Drafts being saved are read-only.
func (s *Service) withDraft(ctx context.Context, id string, fn func(*Draft) error) error {
	userID, err := s.userID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[id]
	if !ok || draft.UserID != userID {
		return fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if _, busy := s.saving[id]; busy {
		return ErrSaveInProgress
	}
	return fn(draft)
}

// SaveDraft persists a stored draft and removes it on success. A second
// save of the same draft while the first is running fails with
// ErrSaveInProgress.
func (s *Service) SaveDraft(ctx context.Context, id string, override *DateTimeOverride) (*Receipt, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	stored, ok := s.drafts[id]
	if !ok || stored.UserID != userID {
		s.mu.Unlock()
		return nil, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if _, busy := s.saving[id]; busy {
		s.mu.Unlock()
		return nil, ErrSaveInProgress
	}
	s.saving[id] = struct{}{}
	draft := stored.clone()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.saving, id)
		s.mu.Unlock()
	}()

	receipt, err := s.save(ctx, userID, draft, override)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.drafts, id)
	s.mu.Unlock()
	return receipt, nil
}

// Save persists a draft that was never stored with the service. When the
// draft has an ID it takes part in the same in-flight guard as SaveDraft.
func (s *Service) Save(ctx context.Context, draft *Draft, override *DateTimeOverride) (*Receipt, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	if draft.ID != "" {
		s.mu.Lock()
		if _, busy := s.saving[draft.ID]; busy {
			s.mu.Unlock()
			return nil, ErrSaveInProgress
		}
		s.saving[draft.ID] = struct{}{}
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			delete(s.saving, draft.ID)
			s.mu.Unlock()
		}()
	}

	return s.save(ctx, userID, draft, override)
}

// save uploads the image, then writes the receipt and its items. A failed
// upload aborts before anything is written. When the backend has no
// transaction support and the item write fails, the receipt stays behind
// with ItemCount set; SweepOrphans removes it later.
func (s *Service) save(ctx context.Context, userID string, draft *Draft, override *DateTimeOverride) (*Receipt, error) {
	if s.cfg.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SaveTimeout)
		defer cancel()
	}

	now := s.timeSource.Now()
	receipt, items, err := s.buildReceipt(userID, draft, override, now)
	if err != nil {
		return nil, err
	}

	var objectKey string
	if draft.Image != nil {
		objectKey, err = s.upload(ctx, draft.Image, now)
		if err != nil {
			slog.Error("Failed to upload receipt image", "draft_id", draft.ID, "error", err)
			return nil, err
		}
		receipt.ImageURL = s.storage.PublicURL(objectKey)
	}

	if tx, ok := s.db.(TxDB); ok {
		if err := tx.InsertReceiptWithItems(ctx, receipt, items); err != nil {
			s.discardUpload(objectKey)
			slog.Error("Failed to save receipt", "draft_id", draft.ID, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	} else {
		if err := s.db.InsertReceipt(ctx, receipt); err != nil {
			s.discardUpload(objectKey)
			slog.Error("Failed to save receipt", "draft_id", draft.ID, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if len(items) > 0 {
			if err := s.db.InsertItems(ctx, receipt.ID, items); err != nil {
				slog.Error("Receipt saved without its items",
					"receipt_id", receipt.ID,
					"item_count", len(items),
					"error", err,
				)
				return nil, fmt.Errorf("%w: saving items of receipt %s: %w", ErrPersistence, receipt.ID, err)
			}
		}
	}

	receipt.Items = items
	slog.Info("Receipt saved",
		"receipt_id", receipt.ID,
		"store", receipt.StoreName,
		"timestamp", receipt.Timestamp,
		"items", len(items),
	)
	return receipt, nil
}

func (s *Service) upload(ctx context.Context, image *Image, now time.Time) (string, error) {
	data, err := imageproc.ToJPEG(image.Data, image.ContentType, s.cfg.MaxImageDimension)
	if err != nil {
		return "", fmt.Errorf("%w: preparing image: %w", ErrUpload, err)
	}
	name := fmt.Sprintf("%d-%s.jpg", now.UnixMilli(), uuid.NewString())
	key, err := s.storage.Save(ctx, name, data, "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return key, nil
}

// discardUpload removes an image whose receipt was never written. It runs
// on its own context because the save context may already be done.
func (s *Service) discardUpload(key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.storage.Delete(ctx, key); err != nil {
		slog.Warn("Failed to delete orphaned image", "key", key, "error", err)
	}
}

// buildReceipt validates a draft and converts it to the persisted form
func (s *Service) buildReceipt(userID string, draft *Draft, override *DateTimeOverride, now time.Time) (*Receipt, []*Item, error) {
	date, clock := draft.Date, draft.Time
	if override != nil {
		if override.Date != "" {
			date = override.Date
		}
		if override.Time != "" {
			clock = override.Time
		}
	}

	items := make([]*Item, 0, len(draft.Items))
	for i, di := range draft.Items {
		if !di.Price.Present {
			return nil, nil, fmt.Errorf("%w: item %d (%q) has no price", ErrInvalidDraft, i, di.Name)
		}
		quantity := 1
		if di.Quantity.Present && di.Quantity.Value >= 1 {
			quantity = di.Quantity.Value
		}
		item := &Item{
			Name:     strings.TrimSpace(di.Name),
			Price:    di.Price.Value,
			Quantity: quantity,
		}
		if err := s.validate.Struct(item); err != nil {
			return nil, nil, fmt.Errorf("%w: item %d: %w", ErrInvalidDraft, i, err)
		}
		items = append(items, item)
	}

	var address *Address
	if !draft.Address.IsZero() {
		addr := *draft.Address
		address = &addr
	}

	receipt := &Receipt{
		UserID:        userID,
		StoreName:     strings.TrimSpace(draft.StoreName),
		ReceiptUID:    strings.TrimSpace(draft.ReceiptUID),
		Address:       address,
		Timestamp:     dates.Canonical(date, clock, s.cfg.Location, now),
		Total:         draft.Total.Value,
		TaxAmount:     draft.TaxAmount.Ptr(),
		QualityRating: draft.QualityRating.Ptr(),
		ItemCount:     len(items),
	}
	if err := s.validate.Struct(receipt); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidDraft, describeValidation(verrs))
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidDraft, err)
	}
	return receipt, items, nil
}

func describeValidation(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, ", ")
}
