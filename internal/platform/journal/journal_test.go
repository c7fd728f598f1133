package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsafar/supplychain/internal/domain/ledger"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal")
	j, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return j, path
}

func evt(typ ledger.EventType, medicineID int64) ledger.Event {
	return ledger.Event{ID: string(typ), Type: typ, MedicineID: medicineID, At: time.Unix(1700000000, 0).UTC()}
}

func TestPublishAssignsSequence(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()
	ctx := context.Background()

	if err := j.Publish(ctx, []ledger.Event{evt(ledger.EventRoleAdded, 0), evt(ledger.EventMedicineAdded, 1)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := j.Publish(ctx, []ledger.Event{evt(ledger.EventMedicineSupplied, 1)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if j.Seq() != 3 {
		t.Fatalf("expected seq 3, got %d", j.Seq())
	}

	all, err := j.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	for i, e := range all {
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, e.Seq)
		}
	}
	if all[2].Type != ledger.EventMedicineSupplied {
		t.Errorf("expected last event MedicineSupplied, got %s", all[2].Type)
	}
}

func TestListFromAndLimit(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()
	ctx := context.Background()

	var batch []ledger.Event
	for i := 0; i < 5; i++ {
		batch = append(batch, evt(ledger.EventQuantityUpdated, 1))
	}
	if err := j.Publish(ctx, batch); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := j.List(ctx, 3, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Seq != 3 || got[1].Seq != 4 {
		t.Errorf("expected seqs 3,4, got %d,%d", got[0].Seq, got[1].Seq)
	}

	none, err := j.List(ctx, 99, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no events past the end, got %d", len(none))
	}
}

func TestForMedicine(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()
	ctx := context.Background()

	err := j.Publish(ctx, []ledger.Event{
		evt(ledger.EventMedicineAdded, 1),
		evt(ledger.EventMedicineAdded, 2),
		evt(ledger.EventHospitalAdded, 0),
		evt(ledger.EventMedicineSupplied, 1),
		evt(ledger.EventMedicineAdded, 10),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := j.ForMedicine(ctx, 1)
	if err != nil {
		t.Fatalf("ForMedicine: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for medicine 1, got %d", len(got))
	}
	if got[0].Type != ledger.EventMedicineAdded || got[1].Type != ledger.EventMedicineSupplied {
		t.Errorf("unexpected order: %s, %s", got[0].Type, got[1].Type)
	}
}

func TestReopenKeepsSequence(t *testing.T) {
	j, path := openTemp(t)
	ctx := context.Background()
	if err := j.Publish(ctx, []ledger.Event{evt(ledger.EventRoleAdded, 0), evt(ledger.EventRoleAdded, 0)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	if j2.Seq() != 2 {
		t.Fatalf("expected seq 2 after reopen, got %d", j2.Seq())
	}
	if err := j2.Publish(ctx, []ledger.Event{evt(ledger.EventHospitalAdded, 0)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	all, err := j2.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[2].Seq != 3 {
		t.Errorf("expected 3 events ending at seq 3, got %d", len(all))
	}
}

func TestPublishCanceledContext(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := j.Publish(ctx, []ledger.Event{evt(ledger.EventRoleAdded, 0)}); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if j.Seq() != 0 {
		t.Errorf("expected seq 0, got %d", j.Seq())
	}
}

func TestJournalIsPublisher(t *testing.T) {
	var _ ledger.Publisher = (*Journal)(nil)
}

func TestPing(t *testing.T) {
	j, _ := openTemp(t)
	if err := j.Ping(context.Background()); err != nil {
		t.Fatalf("Ping on open journal: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := j.Ping(context.Background()); err == nil {
		t.Error("expected Ping to fail on a closed journal")
	}
}

// hangUpStore cancels the request once the command has committed.
type hangUpStore struct {
	ledger.Store
	cancel context.CancelFunc
}

func (s hangUpStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	err := s.Store.Update(ctx, fn)
	s.cancel()
	return err
}

func TestJournalRecordsCommitAfterClientHangUp(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := ledger.New(hangUpStore{Store: ledger.NewMemStore(), cancel: cancel}, "0xowner", ledger.WithPublisher(j))
	if _, err := l.AddSupplier(ctx, "0xowner", "0xs1", "Acme", "Pune"); err != nil {
		t.Fatalf("AddSupplier: %v", err)
	}
	if j.Seq() != 1 {
		t.Fatalf("expected the committed event in the journal, seq = %d", j.Seq())
	}
	all, err := j.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].Type != ledger.EventRoleAdded {
		t.Errorf("unexpected journal contents %+v", all)
	}
}
