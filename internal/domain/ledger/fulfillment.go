package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// RequestMedicine enqueues a hospital demand. Any caller may request; stock
// is only checked when the owner transfers.
func (l *Ledger) RequestMedicine(ctx context.Context, caller string, hospitalID, medicineID, quantity int64, urgent bool) (*PendingRequest, error) {
	var out *PendingRequest
	err := l.exec(ctx, "request_medicine", medicineID, func(ctx context.Context, o *op) error {
		if quantity <= 0 {
			return fmt.Errorf("%w: requested quantity %d", ErrInvalidQuantity, quantity)
		}
		if _, err := o.tx.GetHospital(ctx, hospitalID); err != nil {
			return err
		}
		m, err := o.tx.GetMedicine(ctx, medicineID)
		if err != nil {
			return err
		}
		if m.Stage.Terminal() {
			return fmt.Errorf("%w: medicine %d is %s", ErrWrongStage, m.ID, m.Stage)
		}

		r := &PendingRequest{
			HospitalID:  hospitalID,
			MedicineID:  medicineID,
			Quantity:    quantity,
			Urgent:      urgent,
			RequestedAt: o.now,
		}
		if err := o.tx.InsertRequest(ctx, r); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		e := newEvent(EventMedicineRequested, o.now)
		e.MedicineID = medicineID
		e.Data = map[string]any{
			"request_id":   r.ID,
			"hospital_id":  hospitalID,
			"quantity":     quantity,
			"urgent":       urgent,
			"requested_by": NormalizeAccount(caller),
		}
		o.emit(e)
		out = r
		return nil
	})
	return out, err
}

// Pending is a snapshot of the unfulfilled request queue in enqueue order.
type Pending struct {
	requests []PendingRequest
}

// Len returns the number of pending requests.
func (p Pending) Len() int {
	return len(p.requests)
}

// All iterates the snapshot. It may be ranged over any number of times.
func (p Pending) All() iter.Seq[PendingRequest] {
	return func(yield func(PendingRequest) bool) {
		for _, r := range p.requests {
			if !yield(r) {
				return
			}
		}
	}
}

// PendingColumns is the parallel array form of a pending snapshot.
type PendingColumns struct {
	HospitalIDs []int64 `json:"hospitalIDs"`
	MedicineIDs []int64 `json:"medicineIDs"`
	Quantities  []int64 `json:"quantities"`
	UrgentFlags []bool  `json:"urgentFlags"`
}

func (p Pending) Columns() PendingColumns {
	n := len(p.requests)
	c := PendingColumns{
		HospitalIDs: make([]int64, 0, n),
		MedicineIDs: make([]int64, 0, n),
		Quantities:  make([]int64, 0, n),
		UrgentFlags: make([]bool, 0, n),
	}
	for r := range p.All() {
		c.HospitalIDs = append(c.HospitalIDs, r.HospitalID)
		c.MedicineIDs = append(c.MedicineIDs, r.MedicineID)
		c.Quantities = append(c.Quantities, r.Quantity)
		c.UrgentFlags = append(c.UrgentFlags, r.Urgent)
	}
	return c
}

// PendingRequests snapshots the unfulfilled queue.
func (l *Ledger) PendingRequests(ctx context.Context) (Pending, error) {
	var p Pending
	err := l.view(ctx, "pending_requests", func(ctx context.Context, tx Tx) error {
		rows, err := tx.ListPendingRequests(ctx)
		if err != nil {
			return err
		}
		p.requests = make([]PendingRequest, 0, len(rows))
		for _, r := range rows {
			p.requests = append(p.requests, *r)
		}
		return nil
	})
	return p, err
}

// TransferMedicine ships stock to a hospital against its oldest matching
// pending request. The batch stage does not change.
func (l *Ledger) TransferMedicine(ctx context.Context, caller string, hospitalID, medicineID, quantity int64) (*Medicine, error) {
	var out *Medicine
	err := l.exec(ctx, "transfer_medicine", medicineID, func(ctx context.Context, o *op) error {
		if !l.isOwner(caller) {
			return ErrUnauthorized
		}
		if quantity <= 0 {
			return fmt.Errorf("%w: transfer quantity %d", ErrInvalidQuantity, quantity)
		}
		m, err := o.tx.GetMedicine(ctx, medicineID)
		if err != nil {
			return err
		}
		if m.Stage.Terminal() {
			return fmt.Errorf("%w: medicine %d is %s", ErrWrongStage, m.ID, m.Stage)
		}
		if m.Quantity < quantity {
			return fmt.Errorf("%w: medicine %d has %d, requested %d", ErrInsufficientStock, m.ID, m.Quantity, quantity)
		}
		req, err := o.tx.FindPendingRequest(ctx, hospitalID, medicineID, quantity)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: no pending request from hospital %d for %d of medicine %d", ErrNotFound, hospitalID, quantity, medicineID)
			}
			return fmt.Errorf("find request: %w", err)
		}

		m.Quantity -= quantity
		if err := o.tx.UpdateMedicine(ctx, m); err != nil {
			return fmt.Errorf("update medicine: %w", err)
		}
		at := o.now
		req.Fulfilled = true
		req.FulfilledAt = &at
		if err := o.tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("update request: %w", err)
		}

		e := newEvent(EventMedicineTransferred, o.now)
		e.MedicineID = m.ID
		e.Data = map[string]any{
			"request_id":  req.ID,
			"hospital_id": hospitalID,
			"quantity":    quantity,
			"remaining":   m.Quantity,
		}
		o.emit(e)
		out = m
		return nil
	})
	return out, err
}

// InitiateReturn opens the reverse logistics branch for a sold batch that
// has expired.
func (l *Ledger) InitiateReturn(ctx context.Context, caller string, medicineID int64) (*Medicine, error) {
	var out *Medicine
	err := l.exec(ctx, "initiate_return", medicineID, func(ctx context.Context, o *op) error {
		if !l.isOwner(caller) {
			return ErrUnauthorized
		}
		m, err := o.tx.GetMedicine(ctx, medicineID)
		if err != nil {
			return err
		}
		if m.Stage != StageSold {
			return wrongStage(m.ID, m.Stage, StageSold)
		}
		if !m.Expired(o.now) {
			return fmt.Errorf("%w: medicine %d expires at %d", ErrNotExpired, m.ID, m.ExpiryDate)
		}
		m.Stage = StageReturnInitiated
		m.StageTimestamps.Set(StageReturnInitiated, o.now)
		if err := o.tx.UpdateMedicine(ctx, m); err != nil {
			return fmt.Errorf("update medicine: %w", err)
		}
		o.emit(stageEvent(EventReturnInitiated, m.ID, m.Stage, o.now))
		out = m
		return nil
	})
	return out, err
}

// ConfirmDestruction closes a returned batch. A destroyed batch accepts no
// further commands.
func (l *Ledger) ConfirmDestruction(ctx context.Context, caller string, medicineID int64) (*Medicine, error) {
	var out *Medicine
	err := l.exec(ctx, "confirm_destruction", medicineID, func(ctx context.Context, o *op) error {
		if !l.isOwner(caller) {
			return ErrUnauthorized
		}
		m, err := o.tx.GetMedicine(ctx, medicineID)
		if err != nil {
			return err
		}
		if m.Stage != StageReturnInitiated {
			return wrongStage(m.ID, m.Stage, StageReturnInitiated)
		}
		m.Stage = StageDestroyed
		m.StageTimestamps.Set(StageDestroyed, o.now)
		if err := o.tx.UpdateMedicine(ctx, m); err != nil {
			return fmt.Errorf("update medicine: %w", err)
		}
		o.emit(stageEvent(EventMedicineDestroyed, m.ID, m.Stage, o.now))
		out = m
		return nil
	})
	return out, err
}

// TimeSpentInStages returns one entry per consecutive stage pair.
func (l *Ledger) TimeSpentInStages(ctx context.Context, medicineID int64) ([]StageDuration, error) {
	m, err := l.GetMedicine(ctx, medicineID)
	if err != nil {
		return nil, err
	}
	return stageDurations(m.StageTimestamps), nil
}

// stageDurations pairs every stage with its successor. Pairs with an unset
// endpoint are reported as not reached with a zero duration.
func stageDurations(ts StageTimestamps) []StageDuration {
	out := make([]StageDuration, 0, StageCount-1)
	for s := Stage(0); s+1 < StageCount; s++ {
		d := StageDuration{From: s, To: s + 1}
		from, to := ts.At(s), ts.At(s+1)
		if from != nil && to != nil {
			d.Reached = true
			d.Duration = to.Sub(*from)
			d.Seconds = int64(d.Duration.Seconds())
		}
		out = append(out, d)
	}
	return out
}
