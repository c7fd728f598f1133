package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a notification emitted after a committed command.
type EventType string

const (
	EventRoleAdded            EventType = "RoleAdded"
	EventHospitalAdded        EventType = "HospitalAdded"
	EventMedicineAdded        EventType = "MedicineAdded"
	EventQuantityUpdated      EventType = "QuantityUpdated"
	EventMedicineSupplied     EventType = "MedicineSupplied"
	EventMedicineManufactured EventType = "MedicineManufactured"
	EventMedicineDistributed  EventType = "MedicineDistributed"
	EventMedicineRetailed     EventType = "MedicineRetailed"
	EventMedicineSold         EventType = "MedicineSold"
	EventReturnInitiated      EventType = "ReturnInitiated"
	EventMedicineDestroyed    EventType = "MedicineDestroyed"
	EventMedicineRequested    EventType = "MedicineRequested"
	EventMedicineTransferred  EventType = "MedicineTransferred"
)

// Event is a ledger notification. Seq is assigned by the journal that
// persists it; Stage is set for every stage change.
type Event struct {
	Seq        uint64         `json:"seq,omitempty"`
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	MedicineID int64          `json:"medicine_id,omitempty"`
	Stage      *Stage         `json:"stage,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	At         time.Time      `json:"at"`
}

// Publisher receives the events of each committed command, in order.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events []Event) error

func (f PublisherFunc) Publish(ctx context.Context, events []Event) error {
	return f(ctx, events)
}

func newEvent(t EventType, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, At: at}
}

func stageEvent(t EventType, medicineID int64, s Stage, at time.Time) Event {
	e := newEvent(t, at)
	e.MedicineID = medicineID
	e.Stage = &s
	return e
}
