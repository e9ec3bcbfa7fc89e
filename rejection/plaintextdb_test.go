// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package rejection

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, limit uint32) (*PlaintextDB, string) {
	path := filepath.Join(t.TempDir(), "plaintexts.db")
	db, err := Open(path, "fake-rs", limit)
	require.NoError(t, err)
	return db, path
}

func pt(b byte) []byte {
	return []byte{b, 0, 0, 0, 0, 0, 0, 0}
}

func TestPlaintextDBCap(t *testing.T) {
	require := require.New(t)
	db, _ := openTestDB(t, 3)
	defer db.Close()

	for i := 0; i < 10; i++ {
		require.NoError(db.Add(pt(byte(i)), 7))
	}
	require.NoError(db.Add(pt(42), 8))

	n, err := db.Count(7)
	require.NoError(err)
	require.Equal(uint64(3), n)
	n, err = db.Count(8)
	require.NoError(err)
	require.Equal(uint64(1), n)

	require.Equal(map[uint32]uint64{7: 10, 8: 1}, db.PendingCounts())
	require.NoError(db.SaveIterCounts())
	require.Empty(db.PendingCounts())
	require.NoError(db.Add(pt(1), 7))
	require.NoError(db.SaveIterCounts())

	counts, err := db.IterCounts()
	require.NoError(err)
	require.Equal([]IterCount{
		{Iter: 7, Encountered: 11, Saved: 3},
		{Iter: 8, Encountered: 1, Saved: 1},
	}, counts)

	lo, hi, ok, err := db.IterMinMax()
	require.NoError(err)
	require.True(ok)
	require.Equal(uint32(7), lo)
	require.Equal(uint32(8), hi)
}

func TestPlaintextDBPersists(t *testing.T) {
	require := require.New(t)
	db, path := openTestDB(t, 10)
	require.NoError(db.Add(pt(1), 3))
	require.NoError(db.SaveIterCounts())
	require.NoError(db.Close())

	db, err := Open(path, "fake-rs", 10)
	require.NoError(err)
	defer db.Close()
	counts, err := db.SavedCounts()
	require.NoError(err)
	require.Equal([]IterCount{{Iter: 3, Encountered: 1, Saved: 1}}, counts)

	// Other KEMs live in their own buckets.
	other := db.Clone()
	other.kem = "other"
	require.NoError(other.s.db.Update(other.createBuckets))
	n, err := other.Count(3)
	require.NoError(err)
	require.Zero(n)
}

func TestPlaintextDBRoundRobin(t *testing.T) {
	require := require.New(t)
	db, _ := openTestDB(t, 10)
	defer db.Close()

	for i := byte(1); i <= 3; i++ {
		require.NoError(db.Add(pt(i), 5))
	}
	require.NoError(db.Add(pt(9), 6))

	var got []byte
	for {
		rec, err := db.NextIter(5, false)
		if err != nil {
			require.ErrorIs(err, ErrNotFound)
			break
		}
		require.Equal(uint32(5), rec.Iter)
		got = append(got, rec.Plaintext[0])
	}
	require.Equal([]byte{3, 2, 1}, got)

	rec, err := db.NextIter(5, true)
	require.NoError(err)
	require.Equal(byte(3), rec.Plaintext[0])

	rec, err = db.NextIter(6, false)
	require.NoError(err)
	require.Equal(byte(9), rec.Plaintext[0])

	// Switching bucket starts over.
	rec, err = db.NextIter(5, false)
	require.NoError(err)
	require.Equal(byte(3), rec.Plaintext[0])

	_, err = db.NextIter(4, false)
	require.ErrorIs(err, ErrNotFound)
}

func TestPlaintextDBQueue(t *testing.T) {
	require := require.New(t)
	db, _ := openTestDB(t, 1000)
	defer db.Close()
	other := db.Clone()

	// Another handle holds the store: writes queue up unseen.
	db.s.mu.Lock()
	for i := 0; i < MaxQueueLength; i++ {
		require.NoError(other.Add(pt(byte(i)), 1))
	}
	require.Equal(MaxQueueLength, other.QueueLength())
	n, err := other.Count(1)
	require.NoError(err)
	require.Zero(n)

	// A full queue blocks the writer.
	done := make(chan error, 1)
	go func() {
		done <- other.Add(pt(0xff), 1)
	}()
	select {
	case <-done:
		t.Fatal("write did not block on a full queue")
	case <-time.After(50 * time.Millisecond):
	}
	db.s.mu.Unlock()
	require.NoError(<-done)

	require.Zero(other.QueueLength())
	n, err = db.Count(1)
	require.NoError(err)
	require.Equal(uint64(MaxQueueLength+1), n)
}

func TestPlaintextDBFlush(t *testing.T) {
	require := require.New(t)
	db, _ := openTestDB(t, 10)
	defer db.Close()

	db.s.mu.Lock()
	require.NoError(db.Add(pt(1), 2))
	db.s.mu.Unlock()
	require.Equal(1, db.QueueLength())
	require.NoError(db.Flush())
	require.Zero(db.QueueLength())
	n, err := db.Count(2)
	require.NoError(err)
	require.Equal(uint64(1), n)
}

func TestPlaintextDBQueuedFailure(t *testing.T) {
	require := require.New(t)
	db, _ := openTestDB(t, 10)
	defer db.Close()
	other := db.Clone()

	db.s.mu.Lock()
	require.NoError(db.Add(pt(1), 2))
	require.NoError(other.UpdateIter(12345, 3))
	require.NoError(db.Add(pt(2), 2))
	db.s.mu.Unlock()
	require.Equal(3, db.QueueLength())

	// The bad write does not take the others down with it.
	require.NoError(db.Flush())
	n, err := db.Count(2)
	require.NoError(err)
	require.Equal(uint64(2), n)

	// Its error goes to the handle that queued it, once.
	require.ErrorIs(other.Flush(), ErrNotFound)
	require.NoError(other.Flush())
}

func TestPlaintextDBReindex(t *testing.T) {
	require := require.New(t)
	db, _ := openTestDB(t, 10)
	defer db.Close()

	for i := byte(0); i < 4; i++ {
		require.NoError(db.Add(pt(i), uint32(i%2)))
	}
	changes, err := db.Reindex(func(p []byte) (uint32, error) {
		return uint32(p[0] % 2 * 10), nil
	})
	require.NoError(err)
	require.Equal(map[string]int{
		"No change": 2,
		"Changed plaintext number of iterations from 1 to 10": 2,
	}, changes)

	n, err := db.Count(10)
	require.NoError(err)
	require.Equal(uint64(2), n)
	n, err = db.Count(1)
	require.NoError(err)
	require.Zero(n)

	hi, err := db.MinMax(true)
	require.NoError(err)
	require.Equal(uint32(10), hi.Iter)
	lo, err := db.MinMax(false)
	require.NoError(err)
	require.Equal(uint32(0), lo.Iter)
	require.Equal(byte(0), lo.Plaintext[0])

	first, err := db.Next(0)
	require.NoError(err)
	require.Equal(uint64(1), first.ID)
	second, err := db.Next(first.ID)
	require.NoError(err)
	require.Equal(uint64(2), second.ID)
}

func TestPlaintextDBClear(t *testing.T) {
	require := require.New(t)
	db, _ := openTestDB(t, 1)
	defer db.Close()

	require.NoError(db.Add(pt(1), 4))
	require.NoError(db.Add(pt(2), 4))
	require.NoError(db.SaveIterCounts())
	require.NoError(db.Clear())

	_, _, ok, err := db.IterMinMax()
	require.NoError(err)
	require.False(ok)
	counts, err := db.IterCounts()
	require.NoError(err)
	require.Empty(counts)
	_, err = db.MinMax(true)
	require.ErrorIs(err, ErrNotFound)

	// The cap cache was reset with the store.
	require.NoError(db.Add(pt(3), 4))
	n, err := db.Count(4)
	require.NoError(err)
	require.Equal(uint64(1), n)
}
