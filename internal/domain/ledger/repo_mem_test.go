package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemStore_RollbackOnError(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	err := s.Update(ctx, func(tx Tx) error {
		return tx.InsertMedicine(ctx, &Medicine{Name: "Aspirin", Description: "75mg", Quantity: 10})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	boom := errors.New("boom")
	err = s.Update(ctx, func(tx Tx) error {
		m, err := tx.GetMedicine(ctx, 1)
		if err != nil {
			return err
		}
		m.Quantity = 0
		m.StageTimestamps.Set(StageAtSupplier, time.Now())
		if err := tx.UpdateMedicine(ctx, m); err != nil {
			return err
		}
		if err := tx.InsertMedicine(ctx, &Medicine{Name: "Ibuprofen", Description: "200mg"}); err != nil {
			return err
		}
		if err := tx.InsertRole(ctx, &RoleRecord{Class: Supplier, Account: "0xs1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	s.View(ctx, func(tx Tx) error {
		m, err := tx.GetMedicine(ctx, 1)
		if err != nil {
			t.Fatalf("GetMedicine: %v", err)
		}
		if m.Quantity != 10 || m.StageTimestamps.Supplied != nil {
			t.Errorf("expected untouched medicine, got %+v", m)
		}
		if n, _ := tx.CountMedicines(ctx); n != 1 {
			t.Errorf("expected 1 medicine, got %d", n)
		}
		if n, _ := tx.CountRoles(ctx, Supplier); n != 0 {
			t.Errorf("expected no suppliers, got %d", n)
		}
		return nil
	})

	// The failed insert did not consume an id.
	s.Update(ctx, func(tx Tx) error {
		m := &Medicine{Name: "Ibuprofen", Description: "200mg"}
		if err := tx.InsertMedicine(ctx, m); err != nil {
			return err
		}
		if m.ID != 2 {
			t.Errorf("expected id 2, got %d", m.ID)
		}
		return nil
	})
}

func TestMemStore_ReturnedRowsAreCopies(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.Update(ctx, func(tx Tx) error {
		m := &Medicine{Name: "Aspirin", Description: "75mg", Quantity: 10}
		m.StageTimestamps.Set(StageOrdered, time.Now())
		if err := tx.InsertMedicine(ctx, m); err != nil {
			return err
		}
		// Mutating the caller's value after insert must not leak into the table.
		m.Quantity = 99
		return nil
	})

	s.View(ctx, func(tx Tx) error {
		m, _ := tx.GetMedicine(ctx, 1)
		if m.Quantity != 10 {
			t.Errorf("expected 10, got %d", m.Quantity)
		}
		*m.StageTimestamps.Ordered = time.Time{}
		again, _ := tx.GetMedicine(ctx, 1)
		if again.StageTimestamps.Ordered.IsZero() {
			t.Error("timestamps shared between reads")
		}
		return nil
	})
}

func TestMemStore_ViewIsReadOnly(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	err := s.View(ctx, func(tx Tx) error {
		return tx.InsertHospital(ctx, &Hospital{Name: "City"})
	})
	if err == nil {
		t.Fatal("expected write in view to fail")
	}
	s.View(ctx, func(tx Tx) error {
		if n, _ := tx.CountHospitals(ctx); n != 0 {
			t.Errorf("expected no hospitals, got %d", n)
		}
		return nil
	})
}

func TestMemStore_PendingRequests(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.Update(ctx, func(tx Tx) error {
		for _, q := range []int64{5, 7, 5} {
			if err := tx.InsertRequest(ctx, &PendingRequest{HospitalID: 1, MedicineID: 1, Quantity: q}); err != nil {
				return err
			}
		}
		r, err := tx.FindPendingRequest(ctx, 1, 1, 5)
		if err != nil {
			return err
		}
		if r.ID != 1 {
			t.Errorf("expected oldest match 1, got %d", r.ID)
		}
		r.Fulfilled = true
		return tx.UpdateRequest(ctx, r)
	})

	s.View(ctx, func(tx Tx) error {
		rows, _ := tx.ListPendingRequests(ctx)
		if len(rows) != 2 || rows[0].ID != 2 || rows[1].ID != 3 {
			t.Errorf("unexpected pending rows %+v", rows)
		}
		r, _ := tx.FindPendingRequest(ctx, 1, 1, 5)
		if r == nil || r.ID != 3 {
			t.Errorf("expected request 3 to match next, got %+v", r)
		}
		if _, err := tx.FindPendingRequest(ctx, 2, 1, 5); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
}

func TestMemStore_CanceledContext(t *testing.T) {
	s := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Update(ctx, func(tx Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("expected canceled update to skip fn, got err=%v called=%v", err, called)
	}
}
