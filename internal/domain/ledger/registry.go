package ledger

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Column widths of the ledger schema, in characters.
const (
	MaxAccountLen = 128
	MaxNameLen    = 255
	MaxBatchLen   = 128
)

// AddRole registers account under class. Only the owner may register roles.
func (l *Ledger) AddRole(ctx context.Context, caller string, class RoleClass, account, name, place string) (*RoleRecord, error) {
	var out *RoleRecord
	err := l.exec(ctx, "add_"+class.String(), 0, func(ctx context.Context, o *op) error {
		if !l.isOwner(caller) {
			return ErrUnauthorized
		}
		if !class.Valid() {
			return fmt.Errorf("%w: unknown role class %d", ErrInvalidInput, class)
		}
		account := NormalizeAccount(account)
		name, place := strings.TrimSpace(name), strings.TrimSpace(place)
		if err := required("account", account, "name", name, "place", place); err != nil {
			return err
		}
		if err := within(MaxAccountLen, "account", account); err != nil {
			return err
		}
		if err := within(MaxNameLen, "name", name, "place", place); err != nil {
			return err
		}

		r := &RoleRecord{Class: class, Account: account, Name: name, Place: place, CreatedAt: o.now}
		if err := o.tx.InsertRole(ctx, r); err != nil {
			return fmt.Errorf("insert %s: %w", class, err)
		}
		e := newEvent(EventRoleAdded, o.now)
		e.Data = map[string]any{"class": class.String(), "id": r.ID, "account": r.Account, "name": r.Name}
		o.emit(e)
		out = r
		return nil
	})
	return out, err
}

func (l *Ledger) AddSupplier(ctx context.Context, caller, account, name, place string) (*RoleRecord, error) {
	return l.AddRole(ctx, caller, Supplier, account, name, place)
}

func (l *Ledger) AddManufacturer(ctx context.Context, caller, account, name, place string) (*RoleRecord, error) {
	return l.AddRole(ctx, caller, Manufacturer, account, name, place)
}

func (l *Ledger) AddDistributor(ctx context.Context, caller, account, name, place string) (*RoleRecord, error) {
	return l.AddRole(ctx, caller, Distributor, account, name, place)
}

func (l *Ledger) AddRetailer(ctx context.Context, caller, account, name, place string) (*RoleRecord, error) {
	return l.AddRole(ctx, caller, Retailer, account, name, place)
}

// AddHospital registers a demand point. Owner only.
func (l *Ledger) AddHospital(ctx context.Context, caller, name, location, account string) (*Hospital, error) {
	var out *Hospital
	err := l.exec(ctx, "add_hospital", 0, func(ctx context.Context, o *op) error {
		if !l.isOwner(caller) {
			return ErrUnauthorized
		}
		account := NormalizeAccount(account)
		name, location := strings.TrimSpace(name), strings.TrimSpace(location)
		if err := required("name", name, "location", location, "account", account); err != nil {
			return err
		}
		if err := within(MaxNameLen, "name", name, "location", location); err != nil {
			return err
		}
		if err := within(MaxAccountLen, "account", account); err != nil {
			return err
		}

		h := &Hospital{Name: name, Location: location, Account: account, CreatedAt: o.now}
		if err := o.tx.InsertHospital(ctx, h); err != nil {
			return fmt.Errorf("insert hospital: %w", err)
		}
		e := newEvent(EventHospitalAdded, o.now)
		e.Data = map[string]any{"id": h.ID, "account": h.Account, "name": h.Name}
		o.emit(e)
		out = h
		return nil
	})
	return out, err
}

func (l *Ledger) GetRole(ctx context.Context, class RoleClass, id int64) (*RoleRecord, error) {
	var out *RoleRecord
	err := l.view(ctx, "get_role", func(ctx context.Context, tx Tx) error {
		r, err := tx.GetRole(ctx, class, id)
		out = r
		return err
	})
	return out, err
}

func (l *Ledger) CountRoles(ctx context.Context, class RoleClass) (int64, error) {
	var n int64
	err := l.view(ctx, "count_roles", func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.CountRoles(ctx, class)
		return err
	})
	return n, err
}

func (l *Ledger) ListRoles(ctx context.Context, class RoleClass) ([]*RoleRecord, error) {
	var out []*RoleRecord
	err := l.view(ctx, "list_roles", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListRoles(ctx, class)
		return err
	})
	return out, err
}

func (l *Ledger) GetHospital(ctx context.Context, id int64) (*Hospital, error) {
	var out *Hospital
	err := l.view(ctx, "get_hospital", func(ctx context.Context, tx Tx) error {
		h, err := tx.GetHospital(ctx, id)
		out = h
		return err
	})
	return out, err
}

func (l *Ledger) CountHospitals(ctx context.Context) (int64, error) {
	var n int64
	err := l.view(ctx, "count_hospitals", func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.CountHospitals(ctx)
		return err
	})
	return n, err
}

func (l *Ledger) ListHospitals(ctx context.Context) ([]*Hospital, error) {
	var out []*Hospital
	err := l.view(ctx, "list_hospitals", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListHospitals(ctx)
		return err
	})
	return out, err
}

// rolesConfigured reports whether every role class has at least one member.
func rolesConfigured(ctx context.Context, tx Tx) (bool, error) {
	for _, class := range RoleClasses {
		n, err := tx.CountRoles(ctx, class)
		if err != nil {
			return false, fmt.Errorf("count %s: %w", class, err)
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// callerRole resolves caller to its record in class, or ErrUnauthorized.
func callerRole(ctx context.Context, tx Tx, class RoleClass, caller string) (*RoleRecord, error) {
	account := NormalizeAccount(caller)
	if account == "" {
		return nil, ErrUnauthorized
	}
	r, err := tx.FindRoleByAccount(ctx, class, account)
	if err != nil {
		if IsRejection(err) {
			return nil, fmt.Errorf("%w: %s is not a registered %s", ErrUnauthorized, account, class)
		}
		return nil, fmt.Errorf("find %s: %w", class, err)
	}
	return r, nil
}

// required takes field/value pairs and rejects the first empty value.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, pairs[i])
		}
	}
	return nil
}

// within rejects any field longer than limit characters.
func within(limit int, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if n := utf8.RuneCountInString(pairs[i+1]); n > limit {
			return fmt.Errorf("%w: %s is %d characters, limit %d", ErrInvalidInput, pairs[i], n, limit)
		}
	}
	return nil
}
