package ledger

import (
	"context"
)

// Store owns the ledger tables. Update runs fn atomically: if fn returns an
// error nothing it wrote becomes visible. View runs fn against the last
// committed state.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the table set visible inside one store transaction. Getters return
// ErrNotFound (wrapped) when the row does not exist.
type Tx interface {
	// Registry
	InsertRole(ctx context.Context, r *RoleRecord) error
	GetRole(ctx context.Context, class RoleClass, id int64) (*RoleRecord, error)
	FindRoleByAccount(ctx context.Context, class RoleClass, account string) (*RoleRecord, error)
	CountRoles(ctx context.Context, class RoleClass) (int64, error)
	ListRoles(ctx context.Context, class RoleClass) ([]*RoleRecord, error)

	InsertHospital(ctx context.Context, h *Hospital) error
	GetHospital(ctx context.Context, id int64) (*Hospital, error)
	CountHospitals(ctx context.Context) (int64, error)
	ListHospitals(ctx context.Context) ([]*Hospital, error)

	// Medicines
	InsertMedicine(ctx context.Context, m *Medicine) error
	GetMedicine(ctx context.Context, id int64) (*Medicine, error)
	UpdateMedicine(ctx context.Context, m *Medicine) error
	MedicineExists(ctx context.Context, name, description string) (bool, error)
	CountMedicines(ctx context.Context) (int64, error)
	ListMedicines(ctx context.Context, limit, offset int) ([]*Medicine, error)

	// Hospital requests
	InsertRequest(ctx context.Context, r *PendingRequest) error
	FindPendingRequest(ctx context.Context, hospitalID, medicineID, quantity int64) (*PendingRequest, error)
	UpdateRequest(ctx context.Context, r *PendingRequest) error
	ListPendingRequests(ctx context.Context) ([]*PendingRequest, error)
}

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*PGStore)(nil)
	_ Tx    = (*memTx)(nil)
	_ Tx    = (*pgTx)(nil)
)
