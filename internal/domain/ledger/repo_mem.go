package ledger

import (
	"context"
	"errors"
	"sync"
)

var errReadOnly = errors.New("write attempted in read-only transaction")

// memState is one committed version of the tables. Rows are never mutated
// in place: writers replace the slot with a fresh copy, so versions can
// share row pointers.
type memState struct {
	roles     map[RoleClass][]*RoleRecord
	hospitals []*Hospital
	medicines []*Medicine
	requests  []*PendingRequest
}

func (s *memState) fork() *memState {
	next := &memState{
		roles:     make(map[RoleClass][]*RoleRecord, len(s.roles)),
		hospitals: append([]*Hospital(nil), s.hospitals...),
		medicines: append([]*Medicine(nil), s.medicines...),
		requests:  append([]*PendingRequest(nil), s.requests...),
	}
	for class, rows := range s.roles {
		next.roles[class] = append([]*RoleRecord(nil), rows...)
	}
	return next
}

// MemStore keeps the ledger in process memory. Each Update works on a forked
// copy that replaces the committed state only when fn succeeds.
type MemStore struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemStore() *MemStore {
	return &MemStore{state: &memState{roles: make(map[RoleClass][]*RoleRecord)}}
}

func (s *MemStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.fork()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{state: s.state, readOnly: true})
}

type memTx struct {
	state    *memState
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

// -- Registry --

func (t *memTx) InsertRole(_ context.Context, r *RoleRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	rows := t.state.roles[r.Class]
	r.ID = int64(len(rows)) + 1
	row := *r
	t.state.roles[r.Class] = append(rows, &row)
	return nil
}

func (t *memTx) GetRole(_ context.Context, class RoleClass, id int64) (*RoleRecord, error) {
	rows := t.state.roles[class]
	if id < 1 || id > int64(len(rows)) {
		return nil, notFound(class.String(), id)
	}
	row := *rows[id-1]
	return &row, nil
}

func (t *memTx) FindRoleByAccount(_ context.Context, class RoleClass, account string) (*RoleRecord, error) {
	for _, r := range t.state.roles[class] {
		if r.Account == account {
			row := *r
			return &row, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CountRoles(_ context.Context, class RoleClass) (int64, error) {
	return int64(len(t.state.roles[class])), nil
}

func (t *memTx) ListRoles(_ context.Context, class RoleClass) ([]*RoleRecord, error) {
	rows := t.state.roles[class]
	out := make([]*RoleRecord, 0, len(rows))
	for _, r := range rows {
		row := *r
		out = append(out, &row)
	}
	return out, nil
}

func (t *memTx) InsertHospital(_ context.Context, h *Hospital) error {
	if err := t.writable(); err != nil {
		return err
	}
	h.ID = int64(len(t.state.hospitals)) + 1
	row := *h
	t.state.hospitals = append(t.state.hospitals, &row)
	return nil
}

func (t *memTx) GetHospital(_ context.Context, id int64) (*Hospital, error) {
	if id < 1 || id > int64(len(t.state.hospitals)) {
		return nil, notFound("hospital", id)
	}
	row := *t.state.hospitals[id-1]
	return &row, nil
}

func (t *memTx) CountHospitals(_ context.Context) (int64, error) {
	return int64(len(t.state.hospitals)), nil
}

func (t *memTx) ListHospitals(_ context.Context) ([]*Hospital, error) {
	out := make([]*Hospital, 0, len(t.state.hospitals))
	for _, h := range t.state.hospitals {
		row := *h
		out = append(out, &row)
	}
	return out, nil
}

// -- Medicines --

func (t *memTx) InsertMedicine(_ context.Context, m *Medicine) error {
	if err := t.writable(); err != nil {
		return err
	}
	m.ID = int64(len(t.state.medicines)) + 1
	t.state.medicines = append(t.state.medicines, m.Clone())
	return nil
}

func (t *memTx) GetMedicine(_ context.Context, id int64) (*Medicine, error) {
	if id < 1 || id > int64(len(t.state.medicines)) {
		return nil, notFound("medicine", id)
	}
	return t.state.medicines[id-1].Clone(), nil
}

func (t *memTx) UpdateMedicine(_ context.Context, m *Medicine) error {
	if err := t.writable(); err != nil {
		return err
	}
	if m.ID < 1 || m.ID > int64(len(t.state.medicines)) {
		return notFound("medicine", m.ID)
	}
	t.state.medicines[m.ID-1] = m.Clone()
	return nil
}

func (t *memTx) MedicineExists(_ context.Context, name, description string) (bool, error) {
	for _, m := range t.state.medicines {
		if m.Name == name && m.Description == description {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CountMedicines(_ context.Context) (int64, error) {
	return int64(len(t.state.medicines)), nil
}

func (t *memTx) ListMedicines(_ context.Context, limit, offset int) ([]*Medicine, error) {
	rows := t.state.medicines
	if offset >= len(rows) {
		return nil, nil
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Medicine, 0, end-offset)
	for _, m := range rows[offset:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

// -- Requests --

func (t *memTx) InsertRequest(_ context.Context, r *PendingRequest) error {
	if err := t.writable(); err != nil {
		return err
	}
	r.ID = int64(len(t.state.requests)) + 1
	row := *r
	t.state.requests = append(t.state.requests, &row)
	return nil
}

func (t *memTx) FindPendingRequest(_ context.Context, hospitalID, medicineID, quantity int64) (*PendingRequest, error) {
	for _, r := range t.state.requests {
		if !r.Fulfilled && r.HospitalID == hospitalID && r.MedicineID == medicineID && r.Quantity == quantity {
			row := *r
			return &row, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateRequest(_ context.Context, r *PendingRequest) error {
	if err := t.writable(); err != nil {
		return err
	}
	if r.ID < 1 || r.ID > int64(len(t.state.requests)) {
		return notFound("request", r.ID)
	}
	row := *r
	t.state.requests[r.ID-1] = &row
	return nil
}

func (t *memTx) ListPendingRequests(_ context.Context) ([]*PendingRequest, error) {
	var out []*PendingRequest
	for _, r := range t.state.requests {
		if !r.Fulfilled {
			row := *r
			out = append(out, &row)
		}
	}
	return out, nil
}
