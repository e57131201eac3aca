package store

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillRecord(seq uint64, size int) Record {
	return Record{
		Instance:  "inst-a",
		Seq:       seq,
		Timestamp: time.Unix(1_700_000_000, int64(seq)),
		Width:     size,
		Height:    1,
		Format:    "test",
		Payload:   bytes.Repeat([]byte{byte(seq)}, size),
	}
}

func TestPublishAndTryRead(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.TryRead("depth", Cursor{})
	require.NoError(t, err)
	assert.False(t, ok, "missing record is not an error")

	require.NoError(t, s.Publish("depth", fillRecord(1, 16)))

	rec, ok, err := s.TryRead("depth", Cursor{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), rec.Seq)
	assert.Equal(t, bytes.Repeat([]byte{1}, 16), rec.Payload)

	_, ok, err = s.TryRead("depth", rec.Cursor())
	require.NoError(t, err)
	assert.False(t, ok, "same sequence is a duplicate")
}

func TestTryReadAcceptsRestartedInstance(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	rec := fillRecord(1, 4)
	rec.Instance = "inst-b"
	require.NoError(t, s.Publish("depth", rec))

	got, ok, err := s.TryRead("depth", Cursor{Instance: "inst-a", Seq: 9000})
	require.NoError(t, err)
	require.True(t, ok, "a new instance restarts its sequence")
	assert.Equal(t, "inst-b", got.Instance)
}

func TestReadDetectsCorruption(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.Path("depth"+recordExt), []byte("not msgpack at all"), 0o644))
	_, _, err = s.TryRead("depth", Cursor{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

// Readers racing a writer must only ever see whole records: every payload
// byte equals the low byte of the record's own sequence number.
func TestConcurrentReadersNeverSeeTornRecords(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Publish("frame", fillRecord(1, 4096)))

	const writes = 300
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for seq := uint64(2); seq <= writes; seq++ {
			size := 1024 + int(seq%7)*512
			if err := s.Publish("frame", fillRecord(seq, size)); err != nil {
				t.Errorf("publish %d: %v", seq, err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				select {
				case <-done:
					return
				default:
				}
				rec, err := s.Read("frame")
				if err != nil {
					t.Errorf("read: %v", err)
					return
				}
				if rec.Seq < last {
					t.Errorf("sequence went backwards: %d after %d", rec.Seq, last)
					return
				}
				last = rec.Seq
				want := byte(rec.Seq)
				for i, b := range rec.Payload {
					if b != want {
						t.Errorf("torn record seq %d: byte %d is %d", rec.Seq, i, b)
						return
					}
				}
				if rec.Width != len(rec.Payload) {
					t.Errorf("metadata width %d does not match payload %d", rec.Width, len(rec.Payload))
					return
				}
			}
		}()
	}
	wg.Wait()

	rec, err := s.Read("frame")
	require.NoError(t, err)
	assert.Equal(t, uint64(writes), rec.Seq)
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.WriteFile("rgb_latest.jpg", []byte{byte(i)}))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rgb_latest.jpg", entries[0].Name())
}

func TestJSONRoundTripAndMissing(t *testing.T) {
	dir := t.TempDir()
	var l Liveness
	err := ReadJSON(dir+"/status.json", &l)
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := Open(dir)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, s.WriteLiveness(Liveness{Status: StateRunning, PID: 42, Timestamp: UnixSeconds(now)}))

	l, err = ReadLiveness(dir)
	require.NoError(t, err)
	assert.Equal(t, 42, l.PID)
	assert.True(t, l.Alive(now.Add(4*time.Second), 5*time.Second))
	assert.False(t, l.Alive(now.Add(6*time.Second), 5*time.Second), "stale record means the owner is dead")

	l.Status = StateStopped
	assert.False(t, l.Alive(now, 5*time.Second))
}
