package protocol

import "time"

// ResultMetadata describes the columns of a result set. The core treats it
// as an opaque, caller-supplied value: building it from a schema response is
// the job of the (out of scope) metadata subsystem.
type ResultMetadata struct {
	ColumnCount int32
	PageSize    int32
}

// Statement is a single CQL statement and its per-request parameters. The
// dispatcher rewrites Consistency and Retries in place across retries of the
// same attempt (see design note on mutable request frames); callers that
// need the original untouched should Clone first.
type Statement struct {
	Content           string
	Values            [][]byte
	Consistency       Consistency
	SerialConsistency Consistency
	Keyspace          string
	PageSize          int32
	PagingState       []byte
	Idempotent        bool
	Tracing           bool
	Retries           int
}

// Clone returns a deep-enough copy of s that mutating the result's Values
// slice or retry counters never aliases the original statement.
func (s Statement) Clone() Statement {
	out := s
	if s.Values != nil {
		out.Values = make([][]byte, len(s.Values))
		copy(out.Values, s.Values)
	}
	if s.PagingState != nil {
		out.PagingState = append([]byte(nil), s.PagingState...)
	}
	return out
}

// Options carries the per-call overrides a caller passes to Query, Execute
// or Batch.
type Options struct {
	Consistency       Consistency
	SerialConsistency Consistency
	Keyspace          string
	PageSize          int32
	Idempotent        bool
	Tracing           bool
	Timeout           time.Duration
}

// BatchKind selects the CQL BATCH statement variant.
type BatchKind byte

const (
	BatchLogged BatchKind = iota
	BatchUnlogged
	BatchCounter
)

// BatchEntry is one statement within a batch: either a bare CQL string, or a
// previously-prepared statement identified by ID. Exactly one of CQL or ID
// is populated at send time; the dispatcher fills in ID after resolving an
// unprepared entry (see BatchStatement.Unprepared).
type BatchEntry struct {
	CQL    string
	ID     []byte
	Values [][]byte
}

// BatchStatement groups a set of entries under one consistency level.
type BatchStatement struct {
	Kind        BatchKind
	Entries     []BatchEntry
	Consistency Consistency
	Idempotent  bool
}

// Unprepared returns the distinct CQL texts among Entries that do not yet
// carry a prepared ID.
func (b BatchStatement) Unprepared() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range b.Entries {
		if e.ID != nil || e.CQL == "" {
			continue
		}
		if _, ok := seen[e.CQL]; ok {
			continue
		}
		seen[e.CQL] = struct{}{}
		out = append(out, e.CQL)
	}
	return out
}
