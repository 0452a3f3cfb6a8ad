package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/v2"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

// Transcript is an append-only log of chat entries for one session. Keys are
// the session prefix followed by an 8-byte big-endian sequence number.
type Transcript struct {
	db     *DB
	prefix []byte

	mu   sync.Mutex
	next uint64
}

// OpenTranscript resumes the transcript of sessionID after its last entry.
func OpenTranscript(db *DB, sessionID string) (*Transcript, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("open transcript: empty session id")
	}
	t := &Transcript{
		db:     db,
		prefix: []byte("transcript/" + sessionID + "/"),
	}

	it, err := db.db.NewIter(t.bounds())
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = it.Close() }()

	if it.Last() {
		if seq, ok := t.sequence(it.Key()); ok {
			t.next = seq + 1
		}
	}
	return t, nil
}

// Record appends entry. It satisfies conversation.Recorder.
func (t *Transcript) Record(entry chat.Entry) error {
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := make([]byte, len(t.prefix)+8)
	copy(key, t.prefix)
	binary.BigEndian.PutUint64(key[len(t.prefix):], t.next)
	if err := t.db.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	t.next++
	return nil
}

// Recent returns up to limit of the newest entries, oldest first. A limit of
// zero or less returns the whole transcript.
func (t *Transcript) Recent(limit int) ([]chat.Entry, error) {
	it, err := t.db.db.NewIter(t.bounds())
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	defer func() { _ = it.Close() }()

	var out []chat.Entry
	if limit <= 0 {
		for it.First(); it.Valid(); it.Next() {
			var e chat.Entry
			if err := json.Unmarshal(it.Value(), &e); err == nil {
				out = append(out, e)
			}
		}
		return out, nil
	}

	for it.Last(); it.Valid() && len(out) < limit; it.Prev() {
		var e chat.Entry
		if err := json.Unmarshal(it.Value(), &e); err == nil {
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (t *Transcript) bounds() *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: t.prefix,
		UpperBound: upperBound(t.prefix),
	}
}

func (t *Transcript) sequence(key []byte) (uint64, bool) {
	if len(key) != len(t.prefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(t.prefix):]), true
}
