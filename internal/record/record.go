// Package record holds the unit-of-work types shared by the source,
// processor and dispatch stages.
package record

// Checkpoint is the highest fully-processed slot.
type Checkpoint int64

// Record is one raw account update. It is never mutated after it is read.
type Record struct {
	ID           int64
	Slot         int64
	Pubkey       string
	Owner        string
	WriteVersion int64
	Data         []byte
}

// After reports whether r sits strictly past cp.
func (r Record) After(cp Checkpoint) bool { return r.Slot > int64(cp) }

// Snapshot is the backlog read at the start of a cycle. Total is counted
// independently and may exceed len(Records) when writes land concurrently
// or the read was limited.
type Snapshot struct {
	Checkpoint Checkpoint
	Records    []Record
	Total      int64
}

func (s Snapshot) Len() int { return len(s.Records) }
