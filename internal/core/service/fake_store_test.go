package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/port"
)

// memState is one consistent snapshot of the store.
type memState struct {
	products      map[int64]domain.Product
	batches       map[int64]domain.Batch
	prescriptions map[int64]domain.Prescription
	events        []domain.DispatchEvent
	nextID        int64
}

func (s *memState) clone() *memState {
	c := &memState{
		products:      make(map[int64]domain.Product, len(s.products)),
		batches:       make(map[int64]domain.Batch, len(s.batches)),
		prescriptions: make(map[int64]domain.Prescription, len(s.prescriptions)),
		events:        append([]domain.DispatchEvent(nil), s.events...),
		nextID:        s.nextID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.prescriptions {
		c.prescriptions[k] = copyPrescription(v)
	}
	return c
}

func copyPrescription(p domain.Prescription) domain.Prescription {
	p.Items = append([]domain.PrescriptionItem(nil), p.Items...)
	return p
}

// memStore serializes transactions, which gives the same isolation as row
// locks held to commit. A transaction works on a clone that replaces the
// state only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state *memState

	conflicts int    // leading WithinTx calls failing with port.ErrTxConflict
	failOn    string // Tx method that fails with errInjected
	attempts  int
}

var errInjected = errors.New("injected failure")

func newMemStore() *memStore {
	return &memStore{state: &memState{
		products:      map[int64]domain.Product{},
		batches:       map[int64]domain.Batch{},
		prescriptions: map[int64]domain.Prescription{},
		nextID:        100,
	}}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.conflicts > 0 {
		m.conflicts--
		return port.ErrTxConflict
	}

	work := m.state.clone()
	if err := fn(ctx, &memTx{s: work, failOn: m.failOn}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) addProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
}

func (m *memStore) addBatch(b domain.Batch) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextID++
	b.ID = m.state.nextID
	m.state.batches[b.ID] = b
	return b.ID
}

func (m *memStore) addPrescription(p domain.Prescription) domain.Prescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextID++
	p.ID = m.state.nextID
	if p.Status == "" {
		p.Status = domain.PrescriptionStatusPending
	}
	for i := range p.Items {
		m.state.nextID++
		p.Items[i].ID = m.state.nextID
		p.Items[i].PrescriptionID = p.ID
	}
	m.state.prescriptions[p.ID] = copyPrescription(p)
	return p
}

func (m *memStore) batch(id int64) domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.batches[id]
}

func (m *memStore) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.batches)
}

func (m *memStore) prescription(id int64) domain.Prescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyPrescription(m.state.prescriptions[id])
}

func (m *memStore) events() []domain.DispatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DispatchEvent(nil), m.state.events...)
}

type memTx struct {
	s      *memState
	failOn string
}

func (t *memTx) fail(method string) error {
	if t.failOn == method {
		return errInjected
	}
	return nil
}

func (t *memTx) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memTx) LockBatch(ctx context.Context, batchID int64) (*domain.Batch, error) {
	b, ok := t.s.batches[batchID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t *memTx) LockActiveBatchByRFID(ctx context.Context, code string) (*domain.Batch, error) {
	for _, b := range t.s.batches {
		if b.RFIDCode == code && b.Quantity > 0 {
			return &b, nil
		}
	}
	return nil, nil
}

func (t *memTx) FindBatchByLot(ctx context.Context, productID int64, lot string) (*domain.Batch, error) {
	for _, b := range t.s.batches {
		if b.ProductID == productID && b.LotNumber == lot {
			return &b, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertBatch(ctx context.Context, batch *domain.Batch) error {
	if err := t.fail("InsertBatch"); err != nil {
		return err
	}
	for _, b := range t.s.batches {
		if batch.RFIDCode != "" && b.RFIDCode == batch.RFIDCode && b.Quantity > 0 && batch.Quantity > 0 {
			return port.ErrTxConflict
		}
	}
	t.s.nextID++
	batch.ID = t.s.nextID
	t.s.batches[batch.ID] = *batch
	return nil
}

func (t *memTx) UpdateBatchQuantity(ctx context.Context, batch domain.Batch, quantity int, updatedAt time.Time) error {
	if err := t.fail("UpdateBatchQuantity"); err != nil {
		return err
	}
	stored, ok := t.s.batches[batch.ID]
	if !ok || stored.Version != batch.Version {
		return port.ErrTxConflict
	}
	if quantity < 0 {
		return errors.New("quantity check violated")
	}
	stored.Quantity = quantity
	stored.Version++
	stored.UpdatedAt = updatedAt
	t.s.batches[batch.ID] = stored
	return nil
}

func (t *memTx) TotalStock(ctx context.Context, productID int64) (int, error) {
	total := 0
	for _, b := range t.s.batches {
		if b.ProductID == productID {
			total += b.Quantity
		}
	}
	return total, nil
}

func (t *memTx) EarliestActiveBatch(ctx context.Context, productID, excludeID int64, notBefore time.Time) (*domain.Batch, error) {
	var earliest *domain.Batch
	for _, b := range t.s.batches {
		if b.ProductID != productID || b.ID == excludeID || b.Quantity <= 0 || b.ExpiryDate.Before(notBefore) {
			continue
		}
		if earliest == nil || b.ExpiryDate.Before(earliest.ExpiryDate) {
			b := b
			earliest = &b
		}
	}
	return earliest, nil
}

func (t *memTx) ListExpiringBatches(ctx context.Context, before time.Time) ([]domain.Batch, error) {
	var out []domain.Batch
	for _, b := range t.s.batches {
		if b.Quantity > 0 && b.ExpiryDate.Before(before) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiryDate.Before(out[j].ExpiryDate)
	})
	return out, nil
}

func (t *memTx) AppendEvent(ctx context.Context, event *domain.DispatchEvent) error {
	if err := t.fail("AppendEvent"); err != nil {
		return err
	}
	t.s.nextID++
	event.ID = t.s.nextID
	t.s.events = append(t.s.events, *event)
	return nil
}

func (t *memTx) InsertPrescription(ctx context.Context, p *domain.Prescription) error {
	if err := t.fail("InsertPrescription"); err != nil {
		return err
	}
	t.s.nextID++
	p.ID = t.s.nextID
	for i := range p.Items {
		t.s.nextID++
		p.Items[i].ID = t.s.nextID
		p.Items[i].PrescriptionID = p.ID
	}
	t.s.prescriptions[p.ID] = copyPrescription(*p)
	return nil
}

func (t *memTx) GetPrescription(ctx context.Context, prescriptionID int64) (*domain.Prescription, error) {
	p, ok := t.s.prescriptions[prescriptionID]
	if !ok {
		return nil, nil
	}
	p = copyPrescription(p)
	return &p, nil
}

func (t *memTx) LockPrescription(ctx context.Context, prescriptionID int64) (*domain.Prescription, error) {
	return t.GetPrescription(ctx, prescriptionID)
}

func (t *memTx) UpdateItemDispensed(ctx context.Context, itemID int64, dispensed int) error {
	if err := t.fail("UpdateItemDispensed"); err != nil {
		return err
	}
	for id, p := range t.s.prescriptions {
		for i := range p.Items {
			if p.Items[i].ID != itemID {
				continue
			}
			if dispensed < 0 || dispensed > p.Items[i].QuantityRequired {
				return errors.New("dispensed check violated")
			}
			p.Items[i].QuantityDispensed = dispensed
			t.s.prescriptions[id] = p
			return nil
		}
	}
	return errors.New("item not found")
}

func (t *memTx) UpdatePrescriptionStatus(ctx context.Context, prescriptionID int64, status domain.PrescriptionStatus, updatedAt time.Time) error {
	if err := t.fail("UpdatePrescriptionStatus"); err != nil {
		return err
	}
	p, ok := t.s.prescriptions[prescriptionID]
	if !ok {
		return errors.New("prescription not found")
	}
	p.Status = status
	p.UpdatedAt = updatedAt
	t.s.prescriptions[prescriptionID] = p
	return nil
}

// memCache is an in-memory port.CacheRepository.
type memCache struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemCache() *memCache {
	return &memCache{keys: map[string]bool{}}
}

func (c *memCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key]
}
