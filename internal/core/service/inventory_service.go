package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/rules"
	"github.com/rl1809/pharma-dispatch/internal/port"
)

const tracerName = "github.com/rl1809/pharma-dispatch/internal/core/service"

type WithdrawRequest struct {
	RequestID    string
	RFIDCode     string
	Quantity     int
	Area         string
	Notes        string
	AllowExpired bool
}

type WithdrawResult struct {
	Batch          *domain.Batch
	RemainingStock int
	TotalStock     int
	Warnings       []domain.Warning
}

type ReaderEventResult struct {
	Action   domain.StockAction
	Batch    *domain.Batch
	Warnings []domain.Warning
}

type Option func(*InventoryService)

// WithCache enables request-id idempotency.
func WithCache(cache port.CacheRepository) Option {
	return func(s *InventoryService) { s.cache = cache }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *InventoryService) { s.logger = logger }
}

// WithMaxRetries bounds how often a conflicting transaction is re-run.
func WithMaxRetries(n uint) Option {
	return func(s *InventoryService) { s.maxRetries = n }
}

// WithTracerProvider replaces the global tracer provider for this service.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *InventoryService) { s.tracer = tp.Tracer(tracerName) }
}

// InventoryService runs every operation as one transaction, retried as a
// whole when the store reports port.ErrTxConflict. Notifications are queued
// after commit and never block or fail the caller.
type InventoryService struct {
	store      port.Store
	cache      port.CacheRepository
	rules      rules.RuleSet
	logger     *log.Logger
	maxRetries uint
	tracer     trace.Tracer

	ledger        *Ledger
	resolver      *Resolver
	prescriptions *Prescriptions
	dispatcher    *Dispatcher

	mu         sync.RWMutex
	closed     bool
	eventQueue chan domain.Notification
}

func NewInventoryService(store port.Store, ruleSet rules.RuleSet, queueSize int, opts ...Option) *InventoryService {
	ledger := NewLedger(ruleSet)
	prescriptions := NewPrescriptions(ruleSet)

	s := &InventoryService{
		store:         store,
		rules:         ruleSet,
		logger:        log.New(io.Discard, "", 0),
		maxRetries:    5,
		tracer:        otel.Tracer(tracerName),
		ledger:        ledger,
		resolver:      NewResolver(ruleSet, ledger),
		prescriptions: prescriptions,
		dispatcher:    NewDispatcher(ruleSet, ledger, prescriptions),
		eventQueue:    make(chan domain.Notification, queueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IntakeByRFID registers stock under an RFID tag. A tag whose active batch
// belongs to another product yields an IntakeRejected result together with
// an RFID_CONFLICT error; nothing is written in that case.
func (s *InventoryService) IntakeByRFID(ctx context.Context, actor domain.Actor, req IntakeRequest) (result *IntakeResult, err error) {
	ctx, span := s.startSpan(ctx, "IntakeByRFID",
		attribute.String("rfid.code", req.RFIDCode),
		attribute.Int64("product.id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
	)
	defer func() { endSpan(span, err) }()

	release, err := s.claim(ctx, "intake", req.RequestID)
	if err != nil {
		return nil, err
	}

	result, err = inTx(ctx, s, func(ctx context.Context, tx port.Tx) (*IntakeResult, error) {
		return s.resolver.Resolve(ctx, tx, actor, req)
	})
	if err != nil {
		release()
		return nil, err
	}

	if result.Outcome == IntakeRejected {
		release()
		return result, domain.RFIDConflict(req.RFIDCode, *result.Conflict)
	}

	notification := domain.Notification{
		Type:      domain.NotificationBatchCreated,
		ActorID:   actor.ID,
		ProductID: result.Batch.ProductID,
		BatchID:   result.Batch.ID,
		Quantity:  req.Quantity,
		Remaining: result.Batch.Quantity,
	}
	if result.Outcome == IntakeMerged {
		notification.Type = domain.NotificationBatchMerged
	}
	s.emit(notification)

	return result, nil
}

// WithdrawByRFID removes stock from the tag's active batch.
func (s *InventoryService) WithdrawByRFID(ctx context.Context, actor domain.Actor, req WithdrawRequest) (result *WithdrawResult, err error) {
	ctx, span := s.startSpan(ctx, "WithdrawByRFID",
		attribute.String("rfid.code", req.RFIDCode),
		attribute.Int("quantity", req.Quantity),
	)
	defer func() { endSpan(span, err) }()

	release, err := s.claim(ctx, "withdraw", req.RequestID)
	if err != nil {
		return nil, err
	}

	result, err = inTx(ctx, s, func(ctx context.Context, tx port.Tx) (*WithdrawResult, error) {
		return s.withdraw(ctx, tx, actor, req)
	})
	if err != nil {
		release()
		return nil, err
	}

	s.emitWithdrawal(actor, req.Quantity, result.Batch, result.Warnings)
	return result, nil
}

// HandleReaderEvent applies a quantity delta detected by an RFID reader to
// the tag's active batch. A reader cannot create batches: an unknown tag is
// not found.
func (s *InventoryService) HandleReaderEvent(ctx context.Context, actor domain.Actor, rfidCode string, delta int) (result *ReaderEventResult, err error) {
	ctx, span := s.startSpan(ctx, "HandleReaderEvent",
		attribute.String("rfid.code", rfidCode),
		attribute.Int("delta", delta),
	)
	defer func() { endSpan(span, err) }()

	if delta == 0 {
		return nil, domain.InvalidQuantity("delta", 0, s.rules.MinQuantity, s.rules.MaxQuantity)
	}

	if delta < 0 {
		withdrawn, err := s.WithdrawByRFID(ctx, actor, WithdrawRequest{
			RFIDCode: rfidCode,
			Quantity: -delta,
			Area:     "reader",
			Notes:    "rfid reader event",
		})
		if err != nil {
			return nil, err
		}
		return &ReaderEventResult{Action: domain.StockActionRemove, Batch: withdrawn.Batch, Warnings: withdrawn.Warnings}, nil
	}

	batch, err := inTx(ctx, s, func(ctx context.Context, tx port.Tx) (*domain.Batch, error) {
		if !s.rules.ValidRFID(rfidCode) {
			return nil, domain.InvalidRFID(rfidCode)
		}
		if err := s.rules.ValidateQuantity("delta", delta); err != nil {
			return nil, err
		}
		active, err := tx.LockActiveBatchByRFID(ctx, rfidCode)
		if err != nil {
			return nil, fmt.Errorf("lock active batch: %w", err)
		}
		if active == nil {
			return nil, domain.ActiveBatchNotFound(rfidCode)
		}
		return s.ledger.Increment(ctx, tx, active.ID, delta, Movement{
			Area:    "reader",
			Notes:   "rfid reader event",
			ActorID: actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(domain.Notification{
		Type:      domain.NotificationBatchMerged,
		ActorID:   actor.ID,
		ProductID: batch.ProductID,
		BatchID:   batch.ID,
		Quantity:  delta,
		Remaining: batch.Quantity,
	})
	return &ReaderEventResult{Action: domain.StockActionAdd, Batch: batch}, nil
}

func (s *InventoryService) CreatePrescription(ctx context.Context, actor domain.Actor, req CreatePrescriptionRequest) (prescription *domain.Prescription, err error) {
	ctx, span := s.startSpan(ctx, "CreatePrescription",
		attribute.Int64("patient.id", req.PatientID),
		attribute.Int("items", len(req.Items)),
	)
	defer func() { endSpan(span, err) }()

	prescription, err = inTx(ctx, s, func(ctx context.Context, tx port.Tx) (*domain.Prescription, error) {
		return s.prescriptions.Create(ctx, tx, actor, req)
	})
	if err != nil {
		return nil, err
	}

	s.emit(domain.Notification{
		Type:           domain.NotificationPrescriptionCreated,
		ActorID:        actor.ID,
		PrescriptionID: prescription.ID,
	})
	return prescription, nil
}

func (s *InventoryService) CancelPrescription(ctx context.Context, actor domain.Actor, prescriptionID int64) (prescription *domain.Prescription, err error) {
	ctx, span := s.startSpan(ctx, "CancelPrescription", attribute.Int64("prescription.id", prescriptionID))
	defer func() { endSpan(span, err) }()

	prescription, err = inTx(ctx, s, func(ctx context.Context, tx port.Tx) (*domain.Prescription, error) {
		return s.prescriptions.Cancel(ctx, tx, actor, prescriptionID)
	})
	if err != nil {
		return nil, err
	}

	s.emit(domain.Notification{
		Type:           domain.NotificationPrescriptionCancelled,
		ActorID:        actor.ID,
		PrescriptionID: prescription.ID,
	})
	return prescription, nil
}

func (s *InventoryService) DispatchItem(ctx context.Context, actor domain.Actor, req DispatchRequest) (result *DispatchResult, err error) {
	ctx, span := s.startSpan(ctx, "DispatchItem",
		attribute.Int64("prescription.id", req.PrescriptionID),
		attribute.Int64("item.id", req.ItemID),
		attribute.Int64("batch.id", req.BatchID),
		attribute.Int("quantity", req.Quantity),
	)
	defer func() { endSpan(span, err) }()

	release, err := s.claim(ctx, "dispatch", req.RequestID)
	if err != nil {
		return nil, err
	}

	result, err = inTx(ctx, s, func(ctx context.Context, tx port.Tx) (*DispatchResult, error) {
		return s.dispatcher.Dispatch(ctx, tx, actor, req)
	})
	if err != nil {
		release()
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("dispensed", result.DispensedQuantity),
		attribute.Bool("partial", result.Partial),
	)

	s.emit(domain.Notification{
		Type:           domain.NotificationItemDispatched,
		ActorID:        actor.ID,
		ProductID:      result.Item.ProductID,
		BatchID:        req.BatchID,
		PrescriptionID: result.Prescription.ID,
		ItemID:         result.Item.ID,
		Quantity:       result.DispensedQuantity,
		Remaining:      result.Item.Remaining(),
	})
	s.emitLowStock(actor, result.Warnings)

	return result, nil
}

func (s *InventoryService) GetPrescription(ctx context.Context, prescriptionID int64) (*domain.Prescription, error) {
	return inTx(ctx, s, func(ctx context.Context, tx port.Tx) (*domain.Prescription, error) {
		prescription, err := tx.GetPrescription(ctx, prescriptionID)
		if err != nil {
			return nil, fmt.Errorf("get prescription: %w", err)
		}
		if prescription == nil {
			return nil, domain.PrescriptionNotFound(prescriptionID)
		}
		return prescription, nil
	})
}

// TotalStock sums the quantity of every batch of a product.
func (s *InventoryService) TotalStock(ctx context.Context, productID int64) (int, error) {
	return inTx(ctx, s, func(ctx context.Context, tx port.Tx) (int, error) {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return 0, fmt.Errorf("get product: %w", err)
		}
		if product == nil {
			return 0, domain.ProductNotFound(productID)
		}
		return s.ledger.TotalStock(ctx, tx, productID)
	})
}

// ExpiringBatches lists non-empty batches whose expiry falls within the next
// withinDays days, already expired ones included. withinDays <= 0 uses the
// warning window.
func (s *InventoryService) ExpiringBatches(ctx context.Context, withinDays int) ([]domain.Batch, error) {
	withinDays = s.ExpiryWindow(withinDays)
	cutoff := s.rules.Today().AddDate(0, 0, withinDays+1)

	return inTx(ctx, s, func(ctx context.Context, tx port.Tx) ([]domain.Batch, error) {
		batches, err := tx.ListExpiringBatches(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("list expiring batches: %w", err)
		}
		return batches, nil
	})
}

// ExpiryWindow is the number of days ExpiringBatches looks ahead for a
// requested withinDays.
func (s *InventoryService) ExpiryWindow(withinDays int) int {
	if withinDays <= 0 {
		return s.rules.WarningExpiryDays
	}
	return withinDays
}

func (s *InventoryService) GetEventQueue() <-chan domain.Notification {
	return s.eventQueue
}

// Close stops accepting notifications and closes the queue so workers can
// drain it. Safe to call more than once.
func (s *InventoryService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.eventQueue)
}

func (s *InventoryService) withdraw(ctx context.Context, tx port.Tx, actor domain.Actor, req WithdrawRequest) (*WithdrawResult, error) {
	if !s.rules.ValidRFID(req.RFIDCode) {
		return nil, domain.InvalidRFID(req.RFIDCode)
	}
	if err := s.rules.ValidateQuantity("quantity", req.Quantity); err != nil {
		return nil, err
	}

	active, err := tx.LockActiveBatchByRFID(ctx, req.RFIDCode)
	if err != nil {
		return nil, fmt.Errorf("lock active batch: %w", err)
	}
	if active == nil {
		return nil, domain.ActiveBatchNotFound(req.RFIDCode)
	}

	notes := req.Notes
	if notes == "" {
		notes = "rfid withdrawal " + req.RFIDCode
	}
	dec, err := s.ledger.Decrement(ctx, tx, active.ID, req.Quantity, Movement{
		Area:         req.Area,
		Notes:        notes,
		ActorID:      actor.ID,
		AllowExpired: req.AllowExpired,
	})
	if err != nil {
		return nil, err
	}

	return &WithdrawResult{
		Batch:          dec.Batch,
		RemainingStock: dec.Batch.Quantity,
		TotalStock:     dec.Total,
		Warnings:       dec.Warnings,
	}, nil
}

// inTx runs fn in one store transaction, re-running the whole transaction
// with exponential backoff while the store reports a conflict.
func inTx[T any](ctx context.Context, s *InventoryService, fn func(ctx context.Context, tx port.Tx) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		var out T
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			v, err := fn(ctx, tx)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, port.ErrTxConflict) {
			return out, err
		}
		return out, backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Printf("transaction attempt %d conflicted, retrying in %s: %v", attempt, next, err)
		}),
	)
}

// claim reserves requestID for op. The returned release undoes the claim
// and must be called when the operation did not commit.
func (s *InventoryService) claim(ctx context.Context, op, requestID string) (func(), error) {
	if s.cache == nil || requestID == "" {
		return func() {}, nil
	}

	key := fmt.Sprintf("idempotency:%s:%s", op, requestID)
	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return nil, domain.DuplicateRequest(requestID)
	}

	return func() {
		if err := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Printf("failed to release idempotency key %s: %v", key, err)
		}
	}, nil
}

func (s *InventoryService) emitWithdrawal(actor domain.Actor, quantity int, batch *domain.Batch, warnings []domain.Warning) {
	s.emit(domain.Notification{
		Type:      domain.NotificationStockWithdrawn,
		ActorID:   actor.ID,
		ProductID: batch.ProductID,
		BatchID:   batch.ID,
		Quantity:  quantity,
		Remaining: batch.Quantity,
	})
	s.emitLowStock(actor, warnings)
}

func (s *InventoryService) emitLowStock(actor domain.Actor, warnings []domain.Warning) {
	for _, w := range warnings {
		if w.Kind != domain.WarningLowStock {
			continue
		}
		s.emit(domain.Notification{
			Type:      domain.NotificationLowStock,
			ActorID:   actor.ID,
			ProductID: w.ProductID,
			Remaining: w.Total,
		})
	}
}

// emit never blocks: a full queue drops the notification.
func (s *InventoryService) emit(n domain.Notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = s.rules.Now().UTC()
	}

	select {
	case s.eventQueue <- n:
	default:
		s.logger.Printf("notification queue full, dropping %s %s", n.Type, n.ID)
	}
}

func (s *InventoryService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "InventoryService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if derr, ok := domain.AsError(err); ok {
			span.SetAttributes(
				attribute.String("error.kind", string(derr.Kind)),
				attribute.String("error.code", string(derr.Code)),
			)
		}
	}
	span.End()
}
