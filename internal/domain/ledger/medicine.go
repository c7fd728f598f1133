package ledger

import (
	"context"
	"fmt"
	"strings"
)

// AddMedicine records a new batch at StageOrdered.
func (l *Ledger) AddMedicine(ctx context.Context, caller string, in MedicineInput) (*Medicine, error) {
	var out *Medicine
	err := l.exec(ctx, "add_medicine", 0, func(ctx context.Context, o *op) error {
		if !l.isOwner(caller) {
			return ErrUnauthorized
		}
		ok, err := rolesConfigured(ctx, o.tx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRolesNotConfigured
		}

		name, desc := strings.TrimSpace(in.Name), strings.TrimSpace(in.Description)
		if name == "" {
			return ErrNameRequired
		}
		if desc == "" {
			return ErrDescriptionRequired
		}
		if in.Quantity < 0 {
			return fmt.Errorf("%w: quantity %d is negative", ErrInvalidQuantity, in.Quantity)
		}
		if in.Price < 0 {
			return fmt.Errorf("%w: price %d is negative", ErrInvalidInput, in.Price)
		}
		batch := strings.TrimSpace(in.BatchNumber)
		if err := within(MaxNameLen, "name", name); err != nil {
			return err
		}
		if err := within(MaxBatchLen, "batch_number", batch); err != nil {
			return err
		}
		dup, err := o.tx.MedicineExists(ctx, name, desc)
		if err != nil {
			return fmt.Errorf("check duplicate medicine: %w", err)
		}
		if dup {
			return ErrDuplicateMedicine
		}

		m := &Medicine{
			Name:        name,
			Description: desc,
			Quantity:    in.Quantity,
			ExpiryDate:  in.ExpiryDate,
			BatchNumber: batch,
			Price:       in.Price,
			Stage:       StageOrdered,
		}
		m.StageTimestamps.Set(StageOrdered, o.now)
		if err := o.tx.InsertMedicine(ctx, m); err != nil {
			return fmt.Errorf("insert medicine: %w", err)
		}

		e := stageEvent(EventMedicineAdded, m.ID, StageOrdered, o.now)
		e.Data = map[string]any{"name": m.Name, "description": m.Description}
		o.emit(e)
		out = m.Clone()
		return nil
	})
	return out, err
}

// UpdateQuantity overwrites the stock count of a batch. Stage and
// timestamps are untouched.
func (l *Ledger) UpdateQuantity(ctx context.Context, caller string, medicineID, quantity int64) (*Medicine, error) {
	var out *Medicine
	err := l.exec(ctx, "update_quantity", medicineID, func(ctx context.Context, o *op) error {
		if !l.isOwner(caller) {
			return ErrUnauthorized
		}
		if quantity < 0 {
			return fmt.Errorf("%w: quantity %d is negative", ErrInvalidQuantity, quantity)
		}
		m, err := o.tx.GetMedicine(ctx, medicineID)
		if err != nil {
			return err
		}
		if m.Stage.Terminal() {
			return fmt.Errorf("%w: medicine %d is %s", ErrWrongStage, m.ID, m.Stage)
		}

		prev := m.Quantity
		m.Quantity = quantity
		if err := o.tx.UpdateMedicine(ctx, m); err != nil {
			return fmt.Errorf("update medicine: %w", err)
		}
		e := newEvent(EventQuantityUpdated, o.now)
		e.MedicineID = m.ID
		e.Data = map[string]any{"previous": prev, "quantity": quantity}
		o.emit(e)
		out = m
		return nil
	})
	return out, err
}

func (l *Ledger) GetMedicine(ctx context.Context, id int64) (*Medicine, error) {
	var out *Medicine
	err := l.view(ctx, "get_medicine", func(ctx context.Context, tx Tx) error {
		m, err := tx.GetMedicine(ctx, id)
		out = m
		return err
	})
	return out, err
}

// ListMedicines returns one page of batches in id order and the total count.
func (l *Ledger) ListMedicines(ctx context.Context, limit, offset int) ([]*Medicine, int64, error) {
	var (
		out   []*Medicine
		total int64
	)
	err := l.view(ctx, "list_medicines", func(ctx context.Context, tx Tx) error {
		var err error
		if total, err = tx.CountMedicines(ctx); err != nil {
			return err
		}
		out, err = tx.ListMedicines(ctx, limit, offset)
		return err
	})
	return out, total, err
}

func (l *Ledger) CountMedicines(ctx context.Context) (int64, error) {
	var n int64
	err := l.view(ctx, "count_medicines", func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.CountMedicines(ctx)
		return err
	})
	return n, err
}

// StageLabel returns the human readable stage of a batch.
func (l *Ledger) StageLabel(ctx context.Context, id int64) (string, error) {
	m, err := l.GetMedicine(ctx, id)
	if err != nil {
		return "", err
	}
	return m.Stage.Label(), nil
}

func (l *Ledger) BatchNumber(ctx context.Context, id int64) (string, error) {
	m, err := l.GetMedicine(ctx, id)
	if err != nil {
		return "", err
	}
	return m.BatchNumber, nil
}

func (l *Ledger) Price(ctx context.Context, id int64) (int64, error) {
	m, err := l.GetMedicine(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.Price, nil
}

// CheckExpiry reports whether the batch is at or past its expiry date. It
// never changes the stage.
func (l *Ledger) CheckExpiry(ctx context.Context, id int64) (bool, error) {
	m, err := l.GetMedicine(ctx, id)
	if err != nil {
		return false, err
	}
	return m.Expired(l.now()), nil
}

// Trace assembles the traced record of a batch: the medicine, the registry
// entries behind each populated reference and the stage durations.
func (l *Ledger) Trace(ctx context.Context, id int64) (*Trace, error) {
	var out *Trace
	err := l.view(ctx, "trace", func(ctx context.Context, tx Tx) error {
		m, err := tx.GetMedicine(ctx, id)
		if err != nil {
			return err
		}
		t := &Trace{
			Medicine:   m,
			StageLabel: m.Stage.Label(),
			Durations:  stageDurations(m.StageTimestamps),
		}
		for _, class := range RoleClasses {
			ref := m.RoleRef(class)
			if ref == 0 {
				continue
			}
			r, err := tx.GetRole(ctx, class, ref)
			if err != nil {
				return fmt.Errorf("resolve %s %d: %w", class, ref, err)
			}
			switch class {
			case Supplier:
				t.Supplier = r
			case Manufacturer:
				t.Manufacturer = r
			case Distributor:
				t.Distributor = r
			case Retailer:
				t.Retailer = r
			}
		}
		out = t
		return nil
	})
	return out, err
}
