package ledger

import (
	"context"
	"fmt"
	"sort"
)

// Transition is one forward step of the supply pipeline.
type Transition struct {
	Name  string
	From  Stage
	To    Stage
	Role  RoleClass
	Event EventType

	// recordedOnly limits the step to the role holder already recorded on
	// the batch.
	recordedOnly bool
}

var transitions = map[string]Transition{
	"supply":      {Name: "supply", From: StageOrdered, To: StageAtSupplier, Role: Supplier, Event: EventMedicineSupplied},
	"manufacture": {Name: "manufacture", From: StageAtSupplier, To: StageAtManufacturer, Role: Manufacturer, Event: EventMedicineManufactured},
	"distribute":  {Name: "distribute", From: StageAtManufacturer, To: StageAtDistributor, Role: Distributor, Event: EventMedicineDistributed},
	"retail":      {Name: "retail", From: StageAtDistributor, To: StageAtRetailer, Role: Retailer, Event: EventMedicineRetailed},
	"sold":        {Name: "sold", From: StageAtRetailer, To: StageSold, Role: Retailer, Event: EventMedicineSold, recordedOnly: true},
}

// LookupTransition finds a transition by name.
func LookupTransition(name string) (Transition, bool) {
	t, ok := transitions[name]
	return t, ok
}

// TransitionNames lists the transitions in pipeline order.
func TransitionNames() []string {
	names := make([]string, 0, len(transitions))
	for name := range transitions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return transitions[names[i]].From < transitions[names[j]].From
	})
	return names
}

// Advance applies t to a batch on behalf of caller. The caller must hold
// t.Role; the batch must be in t.From.
func (l *Ledger) Advance(ctx context.Context, caller string, t Transition, medicineID int64) (*Medicine, error) {
	var out *Medicine
	err := l.exec(ctx, t.Name, medicineID, func(ctx context.Context, o *op) error {
		role, err := callerRole(ctx, o.tx, t.Role, caller)
		if err != nil {
			return err
		}
		m, err := o.tx.GetMedicine(ctx, medicineID)
		if err != nil {
			return err
		}
		if m.Stage != t.From {
			return wrongStage(m.ID, m.Stage, t.From)
		}

		if t.recordedOnly {
			recorded, err := o.tx.GetRole(ctx, t.Role, m.RoleRef(t.Role))
			if err != nil {
				return fmt.Errorf("resolve recorded %s: %w", t.Role, err)
			}
			if recorded.Account != role.Account {
				return fmt.Errorf("%w: medicine %d is held by %s %d", ErrUnauthorized, m.ID, t.Role, recorded.ID)
			}
		} else {
			m.setRoleRef(t.Role, role.ID)
		}
		m.Stage = t.To
		m.StageTimestamps.Set(t.To, o.now)

		if err := o.tx.UpdateMedicine(ctx, m); err != nil {
			return fmt.Errorf("update medicine: %w", err)
		}
		e := stageEvent(t.Event, m.ID, t.To, o.now)
		e.Data = map[string]any{"role": t.Role.String(), "role_id": role.ID}
		o.emit(e)
		out = m
		return nil
	})
	return out, err
}

func (l *Ledger) advance(ctx context.Context, name, caller string, medicineID int64) (*Medicine, error) {
	return l.Advance(ctx, caller, transitions[name], medicineID)
}

// Supply moves an ordered batch to the raw material supplier.
func (l *Ledger) Supply(ctx context.Context, caller string, medicineID int64) (*Medicine, error) {
	return l.advance(ctx, "supply", caller, medicineID)
}

func (l *Ledger) Manufacture(ctx context.Context, caller string, medicineID int64) (*Medicine, error) {
	return l.advance(ctx, "manufacture", caller, medicineID)
}

func (l *Ledger) Distribute(ctx context.Context, caller string, medicineID int64) (*Medicine, error) {
	return l.advance(ctx, "distribute", caller, medicineID)
}

func (l *Ledger) Retail(ctx context.Context, caller string, medicineID int64) (*Medicine, error) {
	return l.advance(ctx, "retail", caller, medicineID)
}

// MarkSold records the consumer sale. Only the retailer that received the
// batch may sell it.
func (l *Ledger) MarkSold(ctx context.Context, caller string, medicineID int64) (*Medicine, error) {
	return l.advance(ctx, "sold", caller, medicineID)
}
