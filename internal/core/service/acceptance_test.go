package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/rl1809/pharma-dispatch/internal/adapter/storage"
	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/rules"
	"github.com/rl1809/pharma-dispatch/internal/core/service"
	"github.com/rl1809/pharma-dispatch/internal/port"
)

var (
	admin      = domain.Actor{ID: 1, Role: domain.RoleAdmin}
	doctor     = domain.Actor{ID: 2, Role: domain.RoleDoctor}
	pharmacist = domain.Actor{ID: 3, Role: domain.RolePharmacist}
	nurse      = domain.Actor{ID: 4, Role: domain.RoleNurse}
)

type acceptanceContext struct {
	t     *testing.T
	now   time.Time
	store *storage.SQLStore
	svc   *service.InventoryService

	batches       map[string]int64
	prescriptions map[string]*domain.Prescription

	intake     *service.IntakeResult
	dispatch   *service.DispatchResult
	concurrent []int
	err        error
}

func (c *acceptanceContext) reset() error {
	db, err := storage.OpenSQLite(filepath.Join(c.t.TempDir(), "acceptance.db"))
	if err != nil {
		return err
	}
	c.store = storage.NewSQLiteStore(db)
	if err := c.store.Migrate(context.Background()); err != nil {
		db.Close()
		return err
	}

	c.now = time.Now().UTC()
	ruleSet := rules.Default().WithClock(func() time.Time { return c.now })
	c.svc = service.NewInventoryService(c.store, ruleSet, 1000)
	c.t.Cleanup(func() {
		c.svc.Close()
		db.Close()
	})

	c.batches = map[string]int64{}
	c.prescriptions = map[string]*domain.Prescription{}
	c.intake, c.dispatch, c.concurrent, c.err = nil, nil, nil, nil
	return nil
}

func parseDay(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

func (c *acceptanceContext) todayIs(date string) error {
	day, err := parseDay(date)
	if err != nil {
		return err
	}
	c.now = day.Add(14*time.Hour + 30*time.Minute)
	return nil
}

func (c *acceptanceContext) productWithMinimumStock(id int64, name string, minStock int) error {
	return c.store.CreateProduct(context.Background(), &domain.Product{ID: id, Name: name, MinStock: minStock})
}

func (c *acceptanceContext) unitsReceivedUnderTag(quantity int, productID int64, tag, expiry string) error {
	expiryDate, err := parseDay(expiry)
	if err != nil {
		return err
	}
	c.intake, c.err = c.svc.IntakeByRFID(context.Background(), admin, service.IntakeRequest{
		RFIDCode: tag, ProductID: productID, Quantity: quantity, ExpiryDate: expiryDate,
	})
	return nil
}

func (c *acceptanceContext) unitsWithdrawnUnderTag(quantity int, tag string) error {
	_, c.err = c.svc.WithdrawByRFID(context.Background(), nurse, service.WithdrawRequest{
		RFIDCode: tag, Quantity: quantity, Area: "ward",
	})
	return nil
}

func (c *acceptanceContext) batchHoldsAndExpires(name string, productID int64, quantity int, expiry string) error {
	if err := c.unitsReceivedUnderTag(quantity, productID, "TAG-"+name, expiry); err != nil {
		return err
	}
	if c.err != nil {
		return fmt.Errorf("receive batch %s: %w", name, c.err)
	}
	c.batches[name] = c.intake.Batch.ID
	return nil
}

func (c *acceptanceContext) prescriptionIssuedRequires(name, issued string, quantity int, productID int64) error {
	issueDate, err := parseDay(issued)
	if err != nil {
		return err
	}
	p, err := c.svc.CreatePrescription(context.Background(), doctor, service.CreatePrescriptionRequest{
		PatientID: 11,
		IssueDate: issueDate,
		Items:     []service.CreateItemRequest{{ProductID: productID, Quantity: quantity}},
	})
	if err != nil {
		return fmt.Errorf("create prescription %s: %w", name, err)
	}
	c.prescriptions[name] = p
	return nil
}

func (c *acceptanceContext) dispatchRequest(quantity int, batch, prescription string) (service.DispatchRequest, error) {
	batchID, ok := c.batches[batch]
	if !ok {
		return service.DispatchRequest{}, fmt.Errorf("unknown batch %q", batch)
	}
	p, ok := c.prescriptions[prescription]
	if !ok {
		return service.DispatchRequest{}, fmt.Errorf("unknown prescription %q", prescription)
	}
	return service.DispatchRequest{
		PrescriptionID: p.ID,
		ItemID:         p.Items[0].ID,
		BatchID:        batchID,
		Quantity:       quantity,
	}, nil
}

func (c *acceptanceContext) pharmacistDispatches(quantity int, batch, prescription string) error {
	req, err := c.dispatchRequest(quantity, batch, prescription)
	if err != nil {
		return err
	}
	c.dispatch, c.err = c.svc.DispatchItem(context.Background(), pharmacist, req)
	return nil
}

func (c *acceptanceContext) pharmacistConcurrentlyDispatches(quantity int, batch, first, second string) error {
	var reqs []service.DispatchRequest
	for _, name := range []string{first, second} {
		req, err := c.dispatchRequest(quantity, batch, name)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, req := range reqs {
		wg.Add(1)
		go func(req service.DispatchRequest) {
			defer wg.Done()
			res, err := c.svc.DispatchItem(context.Background(), pharmacist, req)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			c.concurrent = append(c.concurrent, res.DispensedQuantity)
		}(req)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (c *acceptanceContext) doctorCancels(prescription string) error {
	p, ok := c.prescriptions[prescription]
	if !ok {
		return fmt.Errorf("unknown prescription %q", prescription)
	}
	_, c.err = c.svc.CancelPrescription(context.Background(), doctor, p.ID)
	return nil
}

func (c *acceptanceContext) intakeOutcomeIs(outcome string) error {
	if c.err != nil {
		return fmt.Errorf("intake failed: %w", c.err)
	}
	if string(c.intake.Outcome) != outcome {
		return fmt.Errorf("expected outcome %s, got %s", outcome, c.intake.Outcome)
	}
	return nil
}

func (c *acceptanceContext) failsWith(code string) error {
	de, ok := domain.AsError(c.err)
	if !ok {
		return fmt.Errorf("expected %s error, got %v", code, c.err)
	}
	if string(de.Code) != code {
		return fmt.Errorf("expected %s, got %s (%v)", code, de.Code, de)
	}
	return nil
}

func (c *acceptanceContext) conflictingBatchBelongsTo(productID int64, quantity int) error {
	de, ok := domain.AsError(c.err)
	if !ok || de.Conflict == nil {
		return fmt.Errorf("expected conflict details, got %v", c.err)
	}
	if de.Conflict.ProductID != productID || de.Conflict.Quantity != quantity {
		return fmt.Errorf("expected product %d holding %d, got %+v", productID, quantity, de.Conflict)
	}
	return nil
}

func (c *acceptanceContext) tagHasOneActiveBatch(tag string, quantity int) error {
	return c.store.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		batch, err := tx.LockActiveBatchByRFID(ctx, tag)
		if err != nil {
			return err
		}
		if batch == nil {
			return fmt.Errorf("no active batch for %s", tag)
		}
		if batch.Quantity != quantity {
			return fmt.Errorf("expected %d in active batch, got %d", quantity, batch.Quantity)
		}
		return nil
	})
}

func (c *acceptanceContext) productHasTotalStock(productID int64, total int) error {
	got, err := c.svc.TotalStock(context.Background(), productID)
	if err != nil {
		return err
	}
	if got != total {
		return fmt.Errorf("expected total stock %d, got %d", total, got)
	}
	return nil
}

func (c *acceptanceContext) dispensedQuantityIs(quantity int) error {
	if c.err != nil {
		return fmt.Errorf("dispatch failed: %w", c.err)
	}
	if c.dispatch.DispensedQuantity != quantity {
		return fmt.Errorf("expected %d dispensed, got %d", quantity, c.dispatch.DispensedQuantity)
	}
	return nil
}

func (c *acceptanceContext) dispatchIsPartial() error {
	if c.dispatch == nil || !c.dispatch.Partial {
		return errors.New("expected a partial dispatch")
	}
	return nil
}

func (c *acceptanceContext) dispatchIsNotPartial() error {
	if c.dispatch == nil || c.dispatch.Partial {
		return errors.New("expected a complete dispatch")
	}
	return nil
}

func (c *acceptanceContext) prescriptionHasDispensed(name string, dispensed int, status string) error {
	p, ok := c.prescriptions[name]
	if !ok {
		return fmt.Errorf("unknown prescription %q", name)
	}
	stored, err := c.svc.GetPrescription(context.Background(), p.ID)
	if err != nil {
		return err
	}
	if got := stored.Items[0].QuantityDispensed; got != dispensed {
		return fmt.Errorf("expected %d dispensed, got %d", dispensed, got)
	}
	if string(stored.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, stored.Status)
	}
	return nil
}

func (c *acceptanceContext) batchHolds(name string, quantity int) error {
	batchID, ok := c.batches[name]
	if !ok {
		return fmt.Errorf("unknown batch %q", name)
	}
	return c.store.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		batch, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Quantity != quantity {
			return fmt.Errorf("expected batch %s to hold %d, got %d", name, quantity, batch.Quantity)
		}
		return nil
	})
}

func (c *acceptanceContext) concurrentDispatchesDispensed(a, b int) error {
	got := append([]int(nil), c.concurrent...)
	sort.Sort(sort.Reverse(sort.IntSlice(got)))
	if len(got) != 2 || got[0] != a || got[1] != b {
		return fmt.Errorf("expected dispatches of %d and %d, got %v", a, b, got)
	}
	return nil
}

func initializeScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		tc := &acceptanceContext{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			return ctx, tc.reset()
		})

		// Given steps
		ctx.Step(`^today is "([^"]*)"$`, tc.todayIs)
		ctx.Step(`^product (\d+) "([^"]*)" with minimum stock (\d+)$`, tc.productWithMinimumStock)
		ctx.Step(`^batch "([^"]*)" of product (\d+) holds (\d+) and expires "([^"]*)"$`, tc.batchHoldsAndExpires)
		ctx.Step(`^prescription "([^"]*)" issued "([^"]*)" requires (\d+) of product (\d+)$`, tc.prescriptionIssuedRequires)

		// When steps
		ctx.Step(`^(\d+) units of product (\d+) are received under tag "([^"]*)" expiring "([^"]*)"$`, tc.unitsReceivedUnderTag)
		ctx.Step(`^(\d+) units are withdrawn under tag "([^"]*)"$`, tc.unitsWithdrawnUnderTag)
		ctx.Step(`^the pharmacist dispatches (\d+) from batch "([^"]*)" for prescription "([^"]*)"$`, tc.pharmacistDispatches)
		ctx.Step(`^the pharmacist concurrently dispatches (\d+) from batch "([^"]*)" for prescriptions "([^"]*)" and "([^"]*)"$`, tc.pharmacistConcurrentlyDispatches)
		ctx.Step(`^the doctor cancels prescription "([^"]*)"$`, tc.doctorCancels)

		// Then steps
		ctx.Step(`^the intake outcome is "([^"]*)"$`, tc.intakeOutcomeIs)
		ctx.Step(`^the (?:intake|withdrawal|dispatch|cancellation) fails with "([^"]*)"$`, tc.failsWith)
		ctx.Step(`^the conflicting batch belongs to product (\d+) and holds (\d+)$`, tc.conflictingBatchBelongsTo)
		ctx.Step(`^tag "([^"]*)" has one active batch holding (\d+)$`, tc.tagHasOneActiveBatch)
		ctx.Step(`^product (\d+) has total stock (\d+)$`, tc.productHasTotalStock)
		ctx.Step(`^the dispensed quantity is (\d+)$`, tc.dispensedQuantityIs)
		ctx.Step(`^the dispatch is partial$`, tc.dispatchIsPartial)
		ctx.Step(`^the dispatch is not partial$`, tc.dispatchIsNotPartial)
		ctx.Step(`^prescription "([^"]*)" has (\d+) dispensed and status "([^"]*)"$`, tc.prescriptionHasDispensed)
		ctx.Step(`^batch "([^"]*)" holds (\d+)$`, tc.batchHolds)
		ctx.Step(`^the concurrent dispatches dispensed (\d+) and (\d+)$`, tc.concurrentDispatchesDispensed)
	}
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
