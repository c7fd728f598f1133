package ledger

import (
	"fmt"
	"strings"
	"time"
)

// RoleClass is one of the four registrable supply-chain roles.
type RoleClass uint8

const (
	Supplier RoleClass = iota + 1
	Manufacturer
	Distributor
	Retailer
)

// RoleClasses lists every role class in pipeline order.
var RoleClasses = []RoleClass{Supplier, Manufacturer, Distributor, Retailer}

func (r RoleClass) String() string {
	switch r {
	case Supplier:
		return "supplier"
	case Manufacturer:
		return "manufacturer"
	case Distributor:
		return "distributor"
	case Retailer:
		return "retailer"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Valid reports whether r is one of the four known classes.
func (r RoleClass) Valid() bool {
	return r >= Supplier && r <= Retailer
}

// ParseRoleClass accepts the long names and the short contract aliases
// (rms, man, dis, ret).
func ParseRoleClass(s string) (RoleClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "supplier", "suppliers", "rms":
		return Supplier, nil
	case "manufacturer", "manufacturers", "man":
		return Manufacturer, nil
	case "distributor", "distributors", "dis":
		return Distributor, nil
	case "retailer", "retailers", "ret":
		return Retailer, nil
	}
	return 0, fmt.Errorf("%w: unknown role class %q", ErrInvalidInput, s)
}

func (r RoleClass) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RoleClass) UnmarshalText(b []byte) error {
	c, err := ParseRoleClass(string(b))
	if err != nil {
		return err
	}
	*r = c
	return nil
}

// RoleRecord is an immutable registry entry for a supplier, manufacturer,
// distributor or retailer.
type RoleRecord struct {
	ID        int64     `json:"id"`
	Class     RoleClass `json:"class"`
	Account   string    `json:"account"`
	Name      string    `json:"name"`
	Place     string    `json:"place"`
	CreatedAt time.Time `json:"created_at"`
}

// Hospital is a registered demand point for medicine requests.
type Hospital struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Account   string    `json:"account"`
	CreatedAt time.Time `json:"created_at"`
}

// Stage is the position of a batch in the supply pipeline. The ordinal
// values are part of the external contract.
type Stage uint8

const (
	StageOrdered Stage = iota
	StageAtSupplier
	StageAtManufacturer
	StageAtDistributor
	StageAtRetailer
	StageSold
	StageReturnInitiated
	StageDestroyed
)

// StageCount is the number of defined stages.
const StageCount = 8

var stageNames = [StageCount]string{
	"Ordered",
	"AtSupplier",
	"AtManufacturer",
	"AtDistributor",
	"AtRetailer",
	"Sold",
	"ReturnInitiated",
	"Destroyed",
}

var stageLabels = [StageCount]string{
	"Medicine Ordered",
	"Raw Material Supply Stage",
	"Manufacturing Stage",
	"Distribution Stage",
	"Retail Stage",
	"Medicine Sold",
	"Return Initiated",
	"Medicine Destroyed",
}

func (s Stage) String() string {
	if int(s) < StageCount {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// Label is the human readable description shown by clients.
func (s Stage) Label() string {
	if int(s) < StageCount {
		return stageLabels[s]
	}
	return "Unknown"
}

// Terminal reports whether no operation may mutate a batch in this stage.
func (s Stage) Terminal() bool {
	return s == StageDestroyed
}

// StageTimestamps records when a batch entered each stage. A nil field
// means the stage has not been reached.
type StageTimestamps struct {
	Ordered         *time.Time `json:"ordered,omitempty"`
	Supplied        *time.Time `json:"supplied,omitempty"`
	Manufactured    *time.Time `json:"manufactured,omitempty"`
	Distributed     *time.Time `json:"distributed,omitempty"`
	Retailed        *time.Time `json:"retailed,omitempty"`
	Sold            *time.Time `json:"sold,omitempty"`
	ReturnInitiated *time.Time `json:"return_initiated,omitempty"`
	Destroyed       *time.Time `json:"destroyed,omitempty"`
}

func (ts *StageTimestamps) field(s Stage) **time.Time {
	switch s {
	case StageOrdered:
		return &ts.Ordered
	case StageAtSupplier:
		return &ts.Supplied
	case StageAtManufacturer:
		return &ts.Manufactured
	case StageAtDistributor:
		return &ts.Distributed
	case StageAtRetailer:
		return &ts.Retailed
	case StageSold:
		return &ts.Sold
	case StageReturnInitiated:
		return &ts.ReturnInitiated
	case StageDestroyed:
		return &ts.Destroyed
	}
	return nil
}

// At returns the time the stage was entered, or nil.
func (ts StageTimestamps) At(s Stage) *time.Time {
	f := ts.field(s)
	if f == nil {
		return nil
	}
	return *f
}

// Set records t as the entry time of s.
func (ts *StageTimestamps) Set(s Stage, t time.Time) {
	if f := ts.field(s); f != nil {
		v := t
		*f = &v
	}
}

// Reached counts stages with a recorded entry time.
func (ts StageTimestamps) Reached() int {
	n := 0
	for s := Stage(0); s < StageCount; s++ {
		if ts.At(s) != nil {
			n++
		}
	}
	return n
}

func (ts StageTimestamps) clone() StageTimestamps {
	var out StageTimestamps
	for s := Stage(0); s < StageCount; s++ {
		if t := ts.At(s); t != nil {
			out.Set(s, *t)
		}
	}
	return out
}

// Medicine is the canonical record of a medicine batch.
type Medicine struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Quantity        int64           `json:"quantity"`
	ExpiryDate      int64           `json:"expiry_date"`
	BatchNumber     string          `json:"batch_number"`
	Price           int64           `json:"price"`
	Stage           Stage           `json:"stage"`
	StageTimestamps StageTimestamps `json:"stage_timestamps"`
	SupplierID      int64           `json:"supplier_id"`
	ManufacturerID  int64           `json:"manufacturer_id"`
	DistributorID   int64           `json:"distributor_id"`
	RetailerID      int64           `json:"retailer_id"`
}

// Expired reports whether now is at or past the expiry date.
func (m *Medicine) Expired(now time.Time) bool {
	return now.Unix() >= m.ExpiryDate
}

// RoleRef returns the registry id captured for class, 0 when unset.
func (m *Medicine) RoleRef(class RoleClass) int64 {
	switch class {
	case Supplier:
		return m.SupplierID
	case Manufacturer:
		return m.ManufacturerID
	case Distributor:
		return m.DistributorID
	case Retailer:
		return m.RetailerID
	}
	return 0
}

func (m *Medicine) setRoleRef(class RoleClass, id int64) {
	switch class {
	case Supplier:
		m.SupplierID = id
	case Manufacturer:
		m.ManufacturerID = id
	case Distributor:
		m.DistributorID = id
	case Retailer:
		m.RetailerID = id
	}
}

// Clone returns a deep copy.
func (m *Medicine) Clone() *Medicine {
	c := *m
	c.StageTimestamps = m.StageTimestamps.clone()
	return &c
}

// MedicineInput carries the fields supplied by addMedicine.
type MedicineInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	ExpiryDate  int64  `json:"expiry_date"`
	BatchNumber string `json:"batch_number"`
	Price       int64  `json:"price"`
}

// PendingRequest is a hospital demand entry. Fulfilled requests are kept
// for history but leave the pending set.
type PendingRequest struct {
	ID          int64      `json:"id"`
	HospitalID  int64      `json:"hospital_id"`
	MedicineID  int64      `json:"medicine_id"`
	Quantity    int64      `json:"quantity"`
	Urgent      bool       `json:"urgent"`
	Fulfilled   bool       `json:"fulfilled"`
	RequestedAt time.Time  `json:"requested_at"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
}

// StageDuration is the time spent between two consecutive stages.
// Reached is false when either endpoint has not been recorded yet.
type StageDuration struct {
	From     Stage         `json:"from"`
	To       Stage         `json:"to"`
	Reached  bool          `json:"reached"`
	Duration time.Duration `json:"-"`
	Seconds  int64         `json:"seconds"`
}

// Trace is the full traced record of one batch.
type Trace struct {
	Medicine     *Medicine       `json:"medicine"`
	StageLabel   string          `json:"stage_label"`
	Supplier     *RoleRecord     `json:"supplier,omitempty"`
	Manufacturer *RoleRecord     `json:"manufacturer,omitempty"`
	Distributor  *RoleRecord     `json:"distributor,omitempty"`
	Retailer     *RoleRecord     `json:"retailer,omitempty"`
	Durations    []StageDuration `json:"durations"`
}
