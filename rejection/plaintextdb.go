// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package rejection

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/katzenpost/kemtiming/internal/instrument"
)

// MaxQueueLength is the number of writes queued while another handle holds
// the store, before writers start blocking.
const MaxQueueLength = 100

const (
	metadataBucket = "metadata"
	versionKey     = "version"

	plaintextsSuffix = "/plaintexts"
	iterIndexSuffix  = "/iterindex"
	countsSuffix     = "/counts"
)

// ErrNotFound is returned when no stored plaintext matches a query.
var ErrNotFound = errors.New("rejection: no matching plaintext")

// Record is a stored plaintext.
type Record struct {
	ID        uint64 `cbor:"-"`
	Iter      uint32 `cbor:"1,keyasint"`
	Plaintext []byte `cbor:"2,keyasint"`
}

// IterCount summarises one rejection count bucket.
type IterCount struct {
	Iter uint32

	// Encountered is the number of plaintexts seen with Iter rejections,
	// stored or not, as of the last SaveIterCounts.
	Encountered uint64

	// Saved is the number of stored plaintexts with Iter rejections.
	Saved uint64
}

type writeOp func(tx *bolt.Tx) error

type queuedOp struct {
	op    writeOp
	owner *PlaintextDB
}

// store is the database shared by every PlaintextDB handle.
type store struct {
	db *bolt.DB

	// mu is held for the duration of every write transaction.
	mu sync.Mutex

	// qMu guards queue and the queueErr of every handle.
	qMu   sync.Mutex
	queue []queuedOp
}

// PlaintextDB is a handle on a bbolt backed store of plaintexts keyed by
// the number of rejections they induce under one KEM.  Handles are cheap;
// give every goroutine its own through Clone.  Caches are per handle.
type PlaintextDB struct {
	s     *store
	kem   string
	limit uint32

	countBelow map[uint32]bool
	counts     map[uint32]uint64

	lastIter *uint32
	lastID   uint64

	// queueErr collects failures of writes this handle queued, until its
	// next write or Flush.
	queueErr error
}

// Open creates or loads the plaintext database at path and returns a handle
// for the KEM named kem that stores at most limit plaintexts per rejection
// count.
func Open(path, kem string, limit uint32) (*PlaintextDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	p := &PlaintextDB{
		s:     &store{db: db},
		kem:   kem,
		limit: limit,
	}
	p.reset()

	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if err := p.createBuckets(tx); err != nil {
			return err
		}
		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("rejection: incompatible database version: %d", uint(b[0]))
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *PlaintextDB) reset() {
	p.countBelow = make(map[uint32]bool)
	p.counts = make(map[uint32]uint64)
	p.lastIter = nil
}

// Clone returns a new handle on the same store with empty caches.
func (p *PlaintextDB) Clone() *PlaintextDB {
	c := &PlaintextDB{
		s:     p.s,
		kem:   p.kem,
		limit: p.limit,
	}
	c.reset()
	return c
}

// Close flushes queued writes and closes the store.  Every handle becomes
// unusable.
func (p *PlaintextDB) Close() error {
	err := p.Flush()
	if cerr := p.s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func (p *PlaintextDB) bucketName(suffix string) []byte {
	return []byte(p.kem + suffix)
}

func (p *PlaintextDB) createBuckets(tx *bolt.Tx) error {
	for _, suffix := range []string{plaintextsSuffix, iterIndexSuffix, countsSuffix} {
		if _, err := tx.CreateBucketIfNotExists(p.bucketName(suffix)); err != nil {
			return err
		}
	}
	return nil
}

func (p *PlaintextDB) buckets(tx *bolt.Tx) (pts, index, counts *bolt.Bucket) {
	return tx.Bucket(p.bucketName(plaintextsSuffix)),
		tx.Bucket(p.bucketName(iterIndexSuffix)),
		tx.Bucket(p.bucketName(countsSuffix))
}

func idKey(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

func iterKey(iter uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], iter)
	return k[:]
}

func indexKey(iter uint32, id uint64) []byte {
	var k [12]byte
	binary.BigEndian.PutUint32(k[:4], iter)
	binary.BigEndian.PutUint64(k[4:], id)
	return k[:]
}

func splitIndexKey(k []byte) (uint32, uint64) {
	return binary.BigEndian.Uint32(k[:4]), binary.BigEndian.Uint64(k[4:])
}

// modify runs op in a write transaction if the store is free, together
// with every queued write.  If another handle is writing, op is queued
// instead, unless the queue is full, in which case modify waits.  A queued
// write that fails is reported by the next modify or Flush of its handle.
func (p *PlaintextDB) modify(op writeOp) error {
	s := p.s
	if !s.mu.TryLock() {
		s.qMu.Lock()
		if len(s.queue) < MaxQueueLength {
			s.queue = append(s.queue, queuedOp{op: op, owner: p})
			n := len(s.queue)
			s.qMu.Unlock()
			instrument.WriteQueue(n)
			return nil
		}
		s.qMu.Unlock()
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	return p.commit(op)
}

// commit drains the queue, applies it followed by op, and returns the
// error of op joined with the queued failures of p.  Callers hold mu.
func (p *PlaintextDB) commit(op writeOp) error {
	s := p.s
	s.qMu.Lock()
	queued := s.queue
	s.queue = nil
	s.qMu.Unlock()
	instrument.WriteQueue(0)

	s.apply(queued)
	var err error
	if op != nil {
		err = s.db.Update(op)
	}

	s.qMu.Lock()
	defer s.qMu.Unlock()
	err = errors.Join(p.queueErr, err)
	p.queueErr = nil
	return err
}

// apply runs the queued writes in one transaction.  Should any of them
// fail, they are retried one transaction each so that a failure only drops
// its own write, and the error is handed to the handle that queued it.
func (s *store) apply(queued []queuedOp) {
	if len(queued) == 0 {
		return
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, q := range queued {
			if err := q.op(tx); err != nil {
				return err
			}
		}
		return nil
	}); err == nil {
		return
	}
	for _, q := range queued {
		if err := s.db.Update(q.op); err != nil {
			s.qMu.Lock()
			q.owner.queueErr = errors.Join(q.owner.queueErr, err)
			s.qMu.Unlock()
		}
	}
}

// Flush applies every queued write.  It returns the failures of writes
// queued by this handle.
func (p *PlaintextDB) Flush() error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.commit(nil)
}

// QueueLength returns the number of queued writes.
func (p *PlaintextDB) QueueLength() int {
	p.s.qMu.Lock()
	defer p.s.qMu.Unlock()
	return len(p.s.queue)
}

func (p *PlaintextDB) insert(pt []byte, iter uint32) writeOp {
	rec := Record{Iter: iter, Plaintext: append([]byte{}, pt...)}
	return func(tx *bolt.Tx) error {
		pts, index, _ := p.buckets(tx)
		seq, err := pts.NextSequence()
		if err != nil {
			return err
		}
		blob, err := cbor.Marshal(&rec)
		if err != nil {
			return err
		}
		if err := pts.Put(idKey(seq), blob); err != nil {
			return err
		}
		return index.Put(indexKey(iter, seq), nil)
	}
}

// Add records that pt induces iter rejections, and stores it while fewer
// than the limit of plaintexts with iter rejections are stored.  Once a
// count has been seen at the limit this handle stops checking it.
func (p *PlaintextDB) Add(pt []byte, iter uint32) error {
	below, err := p.below(iter)
	if err != nil {
		return err
	}
	if below {
		if err := p.modify(p.insert(pt, iter)); err != nil {
			return err
		}
	}
	p.counts[iter]++
	return nil
}

func (p *PlaintextDB) below(iter uint32) (bool, error) {
	if cached, ok := p.countBelow[iter]; ok && !cached {
		return false, nil
	}
	n, err := p.Count(iter)
	if err != nil {
		return false, err
	}
	below := n < uint64(p.limit)
	p.countBelow[iter] = below
	return below, nil
}

// SaveIterCounts adds the in-memory encounter counters of this handle to
// the stored totals and zeroes them.
func (p *PlaintextDB) SaveIterCounts() error {
	if len(p.counts) == 0 {
		return nil
	}
	pending := p.counts
	p.counts = make(map[uint32]uint64)
	return p.modify(func(tx *bolt.Tx) error {
		_, _, counts := p.buckets(tx)
		for iter, n := range pending {
			k := iterKey(iter)
			var total uint64
			if v := counts.Get(k); v != nil {
				if err := cbor.Unmarshal(v, &total); err != nil {
					return err
				}
			}
			blob, err := cbor.Marshal(total + n)
			if err != nil {
				return err
			}
			if err := counts.Put(k, blob); err != nil {
				return err
			}
		}
		return nil
	})
}

// PendingCounts returns a copy of the unsaved encounter counters.
func (p *PlaintextDB) PendingCounts() map[uint32]uint64 {
	out := make(map[uint32]uint64, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

// Count returns the number of stored plaintexts with iter rejections.
func (p *PlaintextDB) Count(iter uint32) (uint64, error) {
	var n uint64
	err := p.s.db.View(func(tx *bolt.Tx) error {
		_, index, _ := p.buckets(tx)
		prefix := iterKey(iter)
		c := index.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// IterMinMax returns the smallest and largest stored rejection counts.  ok
// is false for an empty store.
func (p *PlaintextDB) IterMinMax() (lo, hi uint32, ok bool, err error) {
	err = p.s.db.View(func(tx *bolt.Tx) error {
		_, index, _ := p.buckets(tx)
		c := index.Cursor()
		first, _ := c.First()
		if first == nil {
			return nil
		}
		last, _ := c.Last()
		lo, _ = splitIndexKey(first)
		hi, _ = splitIndexKey(last)
		ok = true
		return nil
	})
	return
}

// IterCounts returns, in ascending order, every rejection count that was
// either encountered or stored.
func (p *PlaintextDB) IterCounts() ([]IterCount, error) {
	m := make(map[uint32]*IterCount)
	get := func(iter uint32) *IterCount {
		ic, ok := m[iter]
		if !ok {
			ic = &IterCount{Iter: iter}
			m[iter] = ic
		}
		return ic
	}
	err := p.s.db.View(func(tx *bolt.Tx) error {
		_, index, counts := p.buckets(tx)
		if err := index.ForEach(func(k, _ []byte) error {
			iter, _ := splitIndexKey(k)
			get(iter).Saved++
			return nil
		}); err != nil {
			return err
		}
		return counts.ForEach(func(k, v []byte) error {
			var n uint64
			if err := cbor.Unmarshal(v, &n); err != nil {
				return err
			}
			get(binary.BigEndian.Uint32(k)).Encountered = n
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]IterCount, 0, len(m))
	for _, ic := range m {
		out = append(out, *ic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iter < out[j].Iter })
	return out, nil
}

// SavedCounts is IterCounts restricted to counts with stored plaintexts.
func (p *PlaintextDB) SavedCounts() ([]IterCount, error) {
	all, err := p.IterCounts()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ic := range all {
		if ic.Saved > 0 {
			out = append(out, ic)
		}
	}
	return out, nil
}

// Clear removes every plaintext and counter of this KEM and resets the
// caches of this handle.
func (p *PlaintextDB) Clear() error {
	p.reset()
	return p.modify(func(tx *bolt.Tx) error {
		for _, suffix := range []string{plaintextsSuffix, iterIndexSuffix, countsSuffix} {
			if err := tx.DeleteBucket(p.bucketName(suffix)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
		}
		return p.createBuckets(tx)
	})
}

func decodeRecord(id uint64, v []byte) (*Record, error) {
	rec := new(Record)
	if err := cbor.Unmarshal(v, rec); err != nil {
		return nil, err
	}
	rec.ID = id
	return rec, nil
}

func (p *PlaintextDB) get(tx *bolt.Tx, id uint64) (*Record, error) {
	pts, _, _ := p.buckets(tx)
	v := pts.Get(idKey(id))
	if v == nil {
		return nil, ErrNotFound
	}
	return decodeRecord(id, v)
}

// MinMax returns the stored plaintext with the most rejections, or the
// fewest if max is false.  Ties go to the newest, or the oldest.
func (p *PlaintextDB) MinMax(max bool) (*Record, error) {
	var rec *Record
	err := p.s.db.View(func(tx *bolt.Tx) error {
		_, index, _ := p.buckets(tx)
		c := index.Cursor()
		var k []byte
		if max {
			k, _ = c.Last()
		} else {
			k, _ = c.First()
		}
		if k == nil {
			return ErrNotFound
		}
		_, id := splitIndexKey(k)
		var err error
		rec, err = p.get(tx, id)
		return err
	})
	return rec, err
}

// Next returns the stored plaintext with the smallest id above prev.  Pass
// 0 to start from the beginning.
func (p *PlaintextDB) Next(prev uint64) (*Record, error) {
	if prev == math.MaxUint64 {
		return nil, ErrNotFound
	}
	var rec *Record
	err := p.s.db.View(func(tx *bolt.Tx) error {
		pts, _, _ := p.buckets(tx)
		k, v := pts.Cursor().Seek(idKey(prev + 1))
		if k == nil {
			return ErrNotFound
		}
		var err error
		rec, err = decodeRecord(binary.BigEndian.Uint64(k), v)
		return err
	})
	return rec, err
}

// NextIter returns a stored plaintext with iter rejections.  Successive
// calls with the same iter walk the matching plaintexts from the newest to
// the oldest without repeating one; reset or a different iter starts over.
func (p *PlaintextDB) NextIter(iter uint32, reset bool) (*Record, error) {
	prev := uint64(math.MaxUint64)
	if !reset && p.lastIter != nil && *p.lastIter == iter {
		prev = p.lastID
	}
	var rec *Record
	err := p.s.db.View(func(tx *bolt.Tx) error {
		_, index, _ := p.buckets(tx)
		c := index.Cursor()
		k, _ := c.Seek(indexKey(iter, prev))
		if k == nil {
			k, _ = c.Last()
		} else {
			k, _ = c.Prev()
		}
		if k == nil {
			return ErrNotFound
		}
		kIter, id := splitIndexKey(k)
		if kIter != iter || id >= prev {
			return ErrNotFound
		}
		var err error
		rec, err = p.get(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.lastIter = &rec.Iter
	p.lastID = rec.ID
	return rec, nil
}

// UpdateIter changes the rejection count of the plaintext id.
func (p *PlaintextDB) UpdateIter(id uint64, iter uint32) error {
	return p.modify(func(tx *bolt.Tx) error {
		pts, index, _ := p.buckets(tx)
		rec, err := p.get(tx, id)
		if err != nil {
			return err
		}
		if err := index.Delete(indexKey(rec.Iter, id)); err != nil {
			return err
		}
		rec.Iter = iter
		blob, err := cbor.Marshal(rec)
		if err != nil {
			return err
		}
		if err := pts.Put(idKey(id), blob); err != nil {
			return err
		}
		return index.Put(indexKey(iter, id), nil)
	})
}

// Reindex recomputes the rejection count of every stored plaintext with
// fn and returns how many changed, keyed by a description of the change.
func (p *PlaintextDB) Reindex(fn func(pt []byte) (uint32, error)) (map[string]int, error) {
	changes := make(map[string]int)
	var prev uint64
	for {
		rec, err := p.Next(prev)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return changes, err
		}
		prev = rec.ID
		iter, err := fn(rec.Plaintext)
		if err != nil {
			return changes, err
		}
		if iter == rec.Iter {
			changes["No change"]++
			continue
		}
		changes[fmt.Sprintf("Changed plaintext number of iterations from %d to %d", rec.Iter, iter)]++
		if err := p.UpdateIter(rec.ID, iter); err != nil {
			return changes, err
		}
	}
	return changes, p.Flush()
}
