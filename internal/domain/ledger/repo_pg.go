package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ledgerLockKey serializes ledger writers across server processes.
const ledgerLockKey int64 = 0x6d65647361666172

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore keeps the ledger in PostgreSQL. Every Update runs in one
// transaction holding the ledger advisory lock, so ids stay dense.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *PGStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin ledger read: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct{ q queryable }

func (t *pgTx) nextID(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := t.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func missing(err error, what string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(what, id)
	}
	return err
}

// -- Registry --

const roleCols = `id, class, account, name, place, created_at`

func scanRole(row pgx.Row) (*RoleRecord, error) {
	var (
		r     RoleRecord
		class int16
	)
	if err := row.Scan(&r.ID, &class, &r.Account, &r.Name, &r.Place, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Class = RoleClass(class)
	return &r, nil
}

func (t *pgTx) InsertRole(ctx context.Context, r *RoleRecord) error {
	id, err := t.nextID(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM role_record WHERE class = $1`, int16(r.Class))
	if err != nil {
		return err
	}
	r.ID = id
	_, err = t.q.Exec(ctx, `
		INSERT INTO role_record (id, class, account, name, place, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, int16(r.Class), r.Account, r.Name, r.Place, r.CreatedAt)
	return err
}

func (t *pgTx) GetRole(ctx context.Context, class RoleClass, id int64) (*RoleRecord, error) {
	r, err := scanRole(t.q.QueryRow(ctx, `SELECT `+roleCols+` FROM role_record WHERE class = $1 AND id = $2`, int16(class), id))
	if err != nil {
		return nil, missing(err, class.String(), id)
	}
	return r, nil
}

func (t *pgTx) FindRoleByAccount(ctx context.Context, class RoleClass, account string) (*RoleRecord, error) {
	r, err := scanRole(t.q.QueryRow(ctx, `
		SELECT `+roleCols+` FROM role_record
		WHERE class = $1 AND account = $2
		ORDER BY id LIMIT 1`, int16(class), account))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (t *pgTx) CountRoles(ctx context.Context, class RoleClass) (int64, error) {
	var n int64
	err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM role_record WHERE class = $1`, int16(class)).Scan(&n)
	return n, err
}

func (t *pgTx) ListRoles(ctx context.Context, class RoleClass) ([]*RoleRecord, error) {
	rows, err := t.q.Query(ctx, `SELECT `+roleCols+` FROM role_record WHERE class = $1 ORDER BY id`, int16(class))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RoleRecord
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const hospitalCols = `id, name, location, account, created_at`

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	err := row.Scan(&h.ID, &h.Name, &h.Location, &h.Account, &h.CreatedAt)
	return &h, err
}

func (t *pgTx) InsertHospital(ctx context.Context, h *Hospital) error {
	id, err := t.nextID(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM hospital`)
	if err != nil {
		return err
	}
	h.ID = id
	_, err = t.q.Exec(ctx, `
		INSERT INTO hospital (id, name, location, account, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.Name, h.Location, h.Account, h.CreatedAt)
	return err
}

func (t *pgTx) GetHospital(ctx context.Context, id int64) (*Hospital, error) {
	h, err := scanHospital(t.q.QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospital WHERE id = $1`, id))
	if err != nil {
		return nil, missing(err, "hospital", id)
	}
	return h, nil
}

func (t *pgTx) CountHospitals(ctx context.Context) (int64, error) {
	var n int64
	err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM hospital`).Scan(&n)
	return n, err
}

func (t *pgTx) ListHospitals(ctx context.Context) ([]*Hospital, error) {
	rows, err := t.q.Query(ctx, `SELECT `+hospitalCols+` FROM hospital ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

// -- Medicines --

const medicineCols = `id, name, description, quantity, expiry_date, batch_number, price, stage,
	ordered_at, supplied_at, manufactured_at, distributed_at, retailed_at, sold_at,
	return_initiated_at, destroyed_at,
	supplier_id, manufacturer_id, distributor_id, retailer_id`

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var (
		m     Medicine
		stage int16
	)
	ts := &m.StageTimestamps
	err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Quantity, &m.ExpiryDate,
		&m.BatchNumber, &m.Price, &stage,
		&ts.Ordered, &ts.Supplied, &ts.Manufactured, &ts.Distributed, &ts.Retailed,
		&ts.Sold, &ts.ReturnInitiated, &ts.Destroyed,
		&m.SupplierID, &m.ManufacturerID, &m.DistributorID, &m.RetailerID)
	if err != nil {
		return nil, err
	}
	m.Stage = Stage(stage)
	return &m, nil
}

func (t *pgTx) InsertMedicine(ctx context.Context, m *Medicine) error {
	id, err := t.nextID(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM medicine`)
	if err != nil {
		return err
	}
	m.ID = id
	ts := m.StageTimestamps
	_, err = t.q.Exec(ctx, `
		INSERT INTO medicine (`+medicineCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		m.ID, m.Name, m.Description, m.Quantity, m.ExpiryDate, m.BatchNumber, m.Price, int16(m.Stage),
		ts.Ordered, ts.Supplied, ts.Manufactured, ts.Distributed, ts.Retailed,
		ts.Sold, ts.ReturnInitiated, ts.Destroyed,
		m.SupplierID, m.ManufacturerID, m.DistributorID, m.RetailerID)
	return err
}

func (t *pgTx) GetMedicine(ctx context.Context, id int64) (*Medicine, error) {
	m, err := scanMedicine(t.q.QueryRow(ctx, `SELECT `+medicineCols+` FROM medicine WHERE id = $1`, id))
	if err != nil {
		return nil, missing(err, "medicine", id)
	}
	return m, nil
}

func (t *pgTx) UpdateMedicine(ctx context.Context, m *Medicine) error {
	ts := m.StageTimestamps
	tag, err := t.q.Exec(ctx, `
		UPDATE medicine SET quantity=$2, stage=$3,
			ordered_at=$4, supplied_at=$5, manufactured_at=$6, distributed_at=$7,
			retailed_at=$8, sold_at=$9, return_initiated_at=$10, destroyed_at=$11,
			supplier_id=$12, manufacturer_id=$13, distributor_id=$14, retailer_id=$15
		WHERE id = $1`,
		m.ID, m.Quantity, int16(m.Stage),
		ts.Ordered, ts.Supplied, ts.Manufactured, ts.Distributed,
		ts.Retailed, ts.Sold, ts.ReturnInitiated, ts.Destroyed,
		m.SupplierID, m.ManufacturerID, m.DistributorID, m.RetailerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("medicine", m.ID)
	}
	return nil
}

func (t *pgTx) MedicineExists(ctx context.Context, name, description string) (bool, error) {
	var ok bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM medicine WHERE name = $1 AND description = $2)`,
		name, description).Scan(&ok)
	return ok, err
}

func (t *pgTx) CountMedicines(ctx context.Context) (int64, error) {
	var n int64
	err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM medicine`).Scan(&n)
	return n, err
}

func (t *pgTx) ListMedicines(ctx context.Context, limit, offset int) ([]*Medicine, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = t.q.Query(ctx, `SELECT `+medicineCols+` FROM medicine ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = t.q.Query(ctx, `SELECT `+medicineCols+` FROM medicine ORDER BY id OFFSET $1`, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// -- Requests --

const requestCols = `id, hospital_id, medicine_id, quantity, urgent, fulfilled, requested_at, fulfilled_at`

func scanRequest(row pgx.Row) (*PendingRequest, error) {
	var r PendingRequest
	err := row.Scan(&r.ID, &r.HospitalID, &r.MedicineID, &r.Quantity, &r.Urgent,
		&r.Fulfilled, &r.RequestedAt, &r.FulfilledAt)
	return &r, err
}

func (t *pgTx) InsertRequest(ctx context.Context, r *PendingRequest) error {
	id, err := t.nextID(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM medicine_request`)
	if err != nil {
		return err
	}
	r.ID = id
	_, err = t.q.Exec(ctx, `
		INSERT INTO medicine_request (`+requestCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.HospitalID, r.MedicineID, r.Quantity, r.Urgent, r.Fulfilled, r.RequestedAt, r.FulfilledAt)
	return err
}

func (t *pgTx) FindPendingRequest(ctx context.Context, hospitalID, medicineID, quantity int64) (*PendingRequest, error) {
	r, err := scanRequest(t.q.QueryRow(ctx, `
		SELECT `+requestCols+` FROM medicine_request
		WHERE NOT fulfilled AND hospital_id = $1 AND medicine_id = $2 AND quantity = $3
		ORDER BY id LIMIT 1`, hospitalID, medicineID, quantity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t *pgTx) UpdateRequest(ctx context.Context, r *PendingRequest) error {
	tag, err := t.q.Exec(ctx, `UPDATE medicine_request SET fulfilled=$2, fulfilled_at=$3 WHERE id = $1`,
		r.ID, r.Fulfilled, r.FulfilledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("request", r.ID)
	}
	return nil
}

func (t *pgTx) ListPendingRequests(ctx context.Context) ([]*PendingRequest, error) {
	rows, err := t.q.Query(ctx, `SELECT `+requestCols+` FROM medicine_request WHERE NOT fulfilled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PendingRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
