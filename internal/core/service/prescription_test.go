package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
)

func createRequest(items ...CreateItemRequest) CreatePrescriptionRequest {
	return CreatePrescriptionRequest{PatientID: 11, Notes: "after meals", Items: items}
}

func TestCreatePrescription(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePrescription(context.Background(), doctorActor, createRequest(
		CreateItemRequest{ProductID: amoxicillin, Quantity: 21, Instructions: "1 tablet every 8h"},
		CreateItemRequest{ProductID: gauze, Quantity: 2},
	))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if p.ID == 0 || p.Status != domain.PrescriptionStatusPending {
		t.Errorf("unexpected prescription: %+v", p)
	}
	if p.DoctorID != doctorActor.ID || p.CreatedBy != doctorActor.ID {
		t.Errorf("expected doctor and creator %d, got %d/%d", doctorActor.ID, p.DoctorID, p.CreatedBy)
	}
	if !p.IssueDate.Equal(day(0)) {
		t.Errorf("expected issue date today, got %v", p.IssueDate)
	}
	if len(p.Items) != 2 || p.Items[0].ID == 0 || p.Items[0].PrescriptionID != p.ID {
		t.Fatalf("unexpected items: %+v", p.Items)
	}
	if p.Items[0].QuantityRequired != 21 || p.Items[0].QuantityDispensed != 0 {
		t.Errorf("unexpected first item: %+v", p.Items[0])
	}

	stored := f.store.prescription(p.ID)
	if len(stored.Items) != 2 {
		t.Errorf("expected stored items, got %+v", stored)
	}

	got := drain(f.svc)
	if len(got) != 1 || got[0].Type != domain.NotificationPrescriptionCreated || got[0].PrescriptionID != p.ID {
		t.Errorf("unexpected notifications: %+v", got)
	}
}

func TestCreatePrescription_AdminNamesDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := createRequest(CreateItemRequest{ProductID: gauze, Quantity: 1})
	_, err := f.svc.CreatePrescription(ctx, adminActor, req)
	derr := expectCode(t, err, domain.ErrMissingField)
	if derr.Field != "doctor_id" {
		t.Errorf("expected doctor_id, got %q", derr.Field)
	}

	req.DoctorID = 42
	req.IssueDate = day(-3)
	p, err := f.svc.CreatePrescription(ctx, adminActor, req)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if p.DoctorID != 42 || p.CreatedBy != adminActor.ID || !p.IssueDate.Equal(day(-3)) {
		t.Errorf("unexpected prescription: %+v", p)
	}
}

func TestCreatePrescription_Rejections(t *testing.T) {
	tooMany := make([]CreateItemRequest, 21)
	for i := range tooMany {
		tooMany[i] = CreateItemRequest{ProductID: gauze, Quantity: 1}
	}

	tests := []struct {
		name  string
		actor domain.Actor
		req   func(*CreatePrescriptionRequest)
		want  *domain.Error
		check func(t *testing.T, derr *domain.Error)
	}{
		{
			name:  "nurse",
			actor: nurseActor,
			want:  domain.ErrRoleNotAllowed,
			check: func(t *testing.T, derr *domain.Error) {
				if derr.Role != domain.RoleNurse || derr.Action != domain.ActionCreatePrescription {
					t.Errorf("unexpected context: %+v", derr)
				}
			},
		},
		{name: "pharmacist", actor: pharmacistActor, want: domain.ErrRoleNotAllowed},
		{
			name:  "missing patient",
			actor: doctorActor,
			req:   func(r *CreatePrescriptionRequest) { r.PatientID = 0 },
			want:  domain.ErrMissingField,
		},
		{
			name:  "future issue date",
			actor: doctorActor,
			req:   func(r *CreatePrescriptionRequest) { r.IssueDate = day(2) },
			want:  domain.ErrIssueDateInFuture,
			check: func(t *testing.T, derr *domain.Error) {
				if derr.Days != 2 {
					t.Errorf("expected 2 days ahead, got %d", derr.Days)
				}
			},
		},
		{
			name:  "no items",
			actor: doctorActor,
			req:   func(r *CreatePrescriptionRequest) { r.Items = nil },
			want:  domain.ErrNoItems,
		},
		{
			name:  "too many items",
			actor: doctorActor,
			req:   func(r *CreatePrescriptionRequest) { r.Items = tooMany },
			want:  domain.ErrTooManyItems,
			check: func(t *testing.T, derr *domain.Error) {
				if derr.Limit != 20 {
					t.Errorf("expected limit 20, got %d", derr.Limit)
				}
			},
		},
		{
			name:  "invalid item quantity",
			actor: doctorActor,
			req:   func(r *CreatePrescriptionRequest) { r.Items[1].Quantity = 0 },
			want:  domain.ErrInvalidQuantity,
			check: func(t *testing.T, derr *domain.Error) {
				if derr.Field != "items[1].quantity" {
					t.Errorf("expected field items[1].quantity, got %q", derr.Field)
				}
			},
		},
		{
			name:  "unknown product",
			actor: doctorActor,
			req:   func(r *CreatePrescriptionRequest) { r.Items[1].ProductID = 404 },
			want:  domain.ErrProductNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := createRequest(
				CreateItemRequest{ProductID: amoxicillin, Quantity: 10},
				CreateItemRequest{ProductID: gauze, Quantity: 3},
			)
			if tt.req != nil {
				tt.req(&req)
			}

			_, err := f.svc.CreatePrescription(context.Background(), tt.actor, req)
			derr := expectCode(t, err, tt.want)
			if tt.check != nil {
				tt.check(t, derr)
			}
			if f.store.attempts != 1 || len(f.store.state.prescriptions) != 0 {
				t.Error("expected nothing persisted")
			}
		})
	}
}

func TestCreatePrescription_RollbackOnInsertFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failOn = "InsertPrescription"

	_, err := f.svc.CreatePrescription(context.Background(), doctorActor, createRequest(CreateItemRequest{ProductID: gauze, Quantity: 1}))
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if got := drain(f.svc); len(got) != 0 {
		t.Errorf("expected no notifications, got %+v", got)
	}
}

func TestCancelPrescription(t *testing.T) {
	f := newFixture(t)
	p := f.prescribe(day(-1), item(amoxicillin, 10))

	got, err := f.svc.CancelPrescription(context.Background(), doctorActor, p.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got.Status != domain.PrescriptionStatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if stored := f.store.prescription(p.ID); stored.Status != domain.PrescriptionStatusCancelled {
		t.Errorf("expected stored status cancelled, got %s", stored.Status)
	}

	_, err = f.svc.CancelPrescription(context.Background(), doctorActor, p.ID)
	derr := expectCode(t, err, domain.ErrPrescriptionClosed)
	if derr.Status != domain.PrescriptionStatusCancelled {
		t.Errorf("expected status in error, got %+v", derr)
	}
}

func TestCancelPrescription_BlockedAfterDispense(t *testing.T) {
	f := newFixture(t)
	batchID := f.store.addBatch(domain.Batch{ProductID: amoxicillin, Quantity: 50, ExpiryDate: day(90)})
	p := f.prescribe(day(0), item(amoxicillin, 10), item(gauze, 2))
	ctx := context.Background()

	if _, err := f.svc.DispatchItem(ctx, pharmacistActor, DispatchRequest{
		PrescriptionID: p.ID, ItemID: p.Items[0].ID, BatchID: batchID, Quantity: 3,
	}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	_, err := f.svc.CancelPrescription(ctx, adminActor, p.ID)
	derr := expectCode(t, err, domain.ErrAlreadyDispensed)
	if derr.Dispensed != 3 {
		t.Errorf("expected 3 dispensed, got %d", derr.Dispensed)
	}
	if stored := f.store.prescription(p.ID); stored.Status != domain.PrescriptionStatusPartial {
		t.Errorf("expected status to stay partial, got %s", stored.Status)
	}
}

func TestCancelPrescription_Rejections(t *testing.T) {
	f := newFixture(t)
	p := f.prescribe(day(0), item(amoxicillin, 10))
	ctx := context.Background()

	_, err := f.svc.CancelPrescription(ctx, pharmacistActor, p.ID)
	expectCode(t, err, domain.ErrRoleNotAllowed)

	_, err = f.svc.CancelPrescription(ctx, doctorActor, 404)
	expectCode(t, err, domain.ErrPrescriptionNotFound)

	fulfilled := f.store.addPrescription(domain.Prescription{
		PatientID: 11, DoctorID: doctorActor.ID, IssueDate: day(0),
		Status: domain.PrescriptionStatusFulfilled,
		Items:  []domain.PrescriptionItem{{ProductID: gauze, QuantityRequired: 1, QuantityDispensed: 1}},
	})
	_, err = f.svc.CancelPrescription(ctx, doctorActor, fulfilled.ID)
	expectCode(t, err, domain.ErrPrescriptionClosed)
}
