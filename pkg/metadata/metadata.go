// Package metadata collects per-call run metrics and rolls them up across
// nested sub-agent runs.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Entry is a single metric record. Kind names the category it is filed under.
type Entry interface {
	Kind() string
}

// Mergeable entries combine with other entries that share the same MergeKey
type Mergeable interface {
	Entry
	MergeKey() string
	Merge(other Entry) (Entry, error)
}

// ErrKeyMismatch is returned when merging entries with different keys
var ErrKeyMismatch = errors.New("metadata key mismatch")

// MergeError describes a failed merge between two entries of one kind
type MergeError struct {
	Kind  string
	Left  string
	Right string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("cannot merge %s entries with different keys: %q vs %q", e.Kind, e.Left, e.Right)
}

// Is matches ErrKeyMismatch
func (e *MergeError) Is(target error) bool {
	return target == ErrKeyMismatch
}

// Run maps a category to its ordered entries
type Run map[string][]Entry

// Add files e under its kind
func (r Run) Add(e Entry) {
	if e == nil {
		return
	}
	r[e.Kind()] = append(r[e.Kind()], e)
}

// Extend appends every entry of other
func (r Run) Extend(other Run) {
	for category, entries := range other {
		r[category] = append(r[category], entries...)
	}
}

// Clone returns a shallow copy with independent slices
func (r Run) Clone() Run {
	out := make(Run, len(r))
	for category, entries := range r {
		out[category] = append([]Entry(nil), entries...)
	}
	return out
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Entry{}
)

// Register installs a constructor used to decode entries of kind from JSON.
// Built-in kinds are registered at init.
func Register(kind string, newEntry func() Entry) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = newEntry
}

func lookup(kind string) (func() Entry, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[kind]
	return fn, ok
}

// Raw holds an entry of a kind with no registered decoder
type Raw struct {
	kind string
	Data json.RawMessage
}

// Kind returns the category the entry was decoded from
func (r *Raw) Kind() string { return r.kind }

// MarshalJSON writes the original payload back out
func (r *Raw) MarshalJSON() ([]byte, error) {
	if len(r.Data) == 0 {
		return []byte("null"), nil
	}
	return r.Data, nil
}

// MarshalJSON encodes the run as category -> entry objects
func (r Run) MarshalJSON() ([]byte, error) {
	out := make(map[string][]Entry, len(r))
	for category, entries := range r {
		out[category] = entries
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes categories through the kind registry; unknown
// categories become Raw entries.
func (r *Run) UnmarshalJSON(data []byte) error {
	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	run := make(Run, len(raw))
	for category, items := range raw {
		newEntry, known := lookup(category)
		entries := make([]Entry, 0, len(items))
		for i, item := range items {
			if !known {
				entries = append(entries, &Raw{kind: category, Data: append(json.RawMessage(nil), item...)})
				continue
			}
			entry := newEntry()
			if err := json.Unmarshal(item, entry); err != nil {
				return fmt.Errorf("failed to decode %s entry %d: %w", category, i, err)
			}
			entries = append(entries, entry)
		}
		run[category] = entries
	}

	*r = run
	return nil
}
