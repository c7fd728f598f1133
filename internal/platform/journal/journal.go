// Package journal persists committed ledger events in LevelDB.
//
// Keys:
//
//	evt_<seq>             event JSON, seq zero-padded to 20 digits
//	med_<id>_<seq>        index entry per medicine, empty value
//	seq_latest            last assigned sequence number
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/medsafar/supplychain/internal/domain/ledger"
)

const (
	eventPrefix = "evt_"
	indexPrefix = "med_"
	seqKey      = "seq_latest"
)

// Journal is an append-only event log. It implements ledger.Publisher.
type Journal struct {
	mu     sync.Mutex
	db     *leveldb.DB
	seq    uint64
	logger zerolog.Logger
}

// Open opens or creates the journal at path.
func Open(path string, logger zerolog.Logger) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	j := &Journal{db: db, logger: logger}
	seq, err := j.latest()
	if err != nil {
		db.Close()
		return nil, err
	}
	j.seq = seq
	logger.Info().Str("path", path).Uint64("seq", seq).Msg("event journal opened")
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Ping reports whether the underlying database is still usable.
func (j *Journal) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := j.db.GetProperty("leveldb.stats"); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

func (j *Journal) latest() (uint64, error) {
	v, err := j.db.Get([]byte(seqKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", seqKey, err)
	}
	seq, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", seqKey, err)
	}
	return seq, nil
}

// Seq returns the sequence number of the last appended event.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", eventPrefix, seq))
}

func indexKey(medicineID int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d_%020d", indexPrefix, medicineID, seq))
}

func medicinePrefix(medicineID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d_", indexPrefix, medicineID))
}

// Publish appends events atomically, assigning consecutive sequence numbers.
func (j *Journal) Publish(ctx context.Context, events []ledger.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	batch := new(leveldb.Batch)
	seq := j.seq
	for _, e := range events {
		seq++
		e.Seq = seq
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		batch.Put(eventKey(seq), data)
		if e.MedicineID != 0 {
			batch.Put(indexKey(e.MedicineID, seq), nil)
		}
	}
	batch.Put([]byte(seqKey), []byte(strconv.FormatUint(seq, 10)))

	if err := j.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	j.logger.Debug().Uint64("from", j.seq+1).Uint64("to", seq).Msg("events journaled")
	j.seq = seq
	return nil
}

// List returns up to limit events with sequence number >= from, in order.
// A limit of 0 returns everything.
func (j *Journal) List(ctx context.Context, from uint64, limit int) ([]ledger.Event, error) {
	iter := j.db.NewIterator(util.BytesPrefix([]byte(eventPrefix)), nil)
	defer iter.Release()

	var out []ledger.Event
	for ok := iter.Seek(eventKey(from)); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e ledger.Event
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, iter.Error()
}

// ForMedicine returns the events of one batch in order.
func (j *Journal) ForMedicine(ctx context.Context, medicineID int64) ([]ledger.Event, error) {
	prefix := medicinePrefix(medicineID)
	iter := j.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []ledger.Event
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq, err := strconv.ParseUint(string(iter.Key()[len(prefix):]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse index %s: %w", iter.Key(), err)
		}
		data, err := j.db.Get(eventKey(seq), nil)
		if err != nil {
			return nil, fmt.Errorf("read event %d: %w", seq, err)
		}
		var e ledger.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", seq, err)
		}
		out = append(out, e)
	}
	return out, iter.Error()
}
