package importer

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects what happens to rows that do or do not match an existing row.
type Mode string

const (
	// InsertOnly inserts new rows and skips rows whose natural key exists.
	InsertOnly Mode = "insert_only"
	// UpdateOnly updates matching rows and skips the rest.
	UpdateOnly Mode = "update_only"
	// Upsert updates matching rows and inserts the rest.
	Upsert Mode = "upsert"
)

// ParseMode accepts the mode names used on the command line.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case InsertOnly, UpdateOnly, Upsert:
		return m, nil
	case "":
		return InsertOnly, nil
	default:
		return "", fmt.Errorf("unknown import mode %q (want insert_only, update_only or upsert)", s)
	}
}

// Outcome is the fate of one source row. Every processed row gets exactly one.
type Outcome uint8

const (
	Inserted Outcome = iota
	Updated
	DuplicateSkipped
	Omitted
	Error
)

var outcomeNames = [...]string{"inserted", "updated", "duplicate_skipped", "omitted", "error"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", o)
}

// Outcomes lists every outcome in report order.
func Outcomes() []Outcome { return []Outcome{Inserted, Updated, DuplicateSkipped, Omitted, Error} }

// State is the importer lifecycle position.
type State uint8

const (
	Idle State = iota
	Reading
	RowLoop
	Committing
	Reporting
	Done
	Failed
)

var stateNames = [...]string{"idle", "reading", "row_loop", "committing", "reporting", "done", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

// RowLog records what happened to one row. Line is the 1-based file line,
// counting the header as line 1.
type RowLog struct {
	Line    int
	Outcome Outcome
	Key     string
	Message string
}

// Results summarizes one run.
type Results struct {
	RunID    string
	Table    string
	Mode     Mode
	Source   string
	Encoding string
	Checksum string
	Ignored  []string

	Inserted         int
	Updated          int
	DuplicateSkipped int
	Omitted          int
	Errors           int
	// RolledBack counts rows that were written and then lost with their
	// batch. They are included in Errors.
	RolledBack int

	// Total is the number of data rows in the source; Processed is how many
	// were handled before the run ended. They differ only on cancellation or
	// a fatal error.
	Total     int
	Processed int
	Commits   int

	Started  time.Time
	Finished time.Time

	Rows []RowLog
}

// Count returns the tally for one outcome.
func (r *Results) Count(o Outcome) int {
	switch o {
	case Inserted:
		return r.Inserted
	case Updated:
		return r.Updated
	case DuplicateSkipped:
		return r.DuplicateSkipped
	case Omitted:
		return r.Omitted
	case Error:
		return r.Errors
	}
	return 0
}

func (r *Results) add(l RowLog) {
	switch l.Outcome {
	case Inserted:
		r.Inserted++
	case Updated:
		r.Updated++
	case DuplicateSkipped:
		r.DuplicateSkipped++
	case Omitted:
		r.Omitted++
	case Error:
		r.Errors++
	}
	r.Processed++
	r.Rows = append(r.Rows, l)
}

// rollBack turns the rows written since Rows[from] into errors: their batch
// never became durable. It returns how many rows were reclassified.
func (r *Results) rollBack(from int, cause error) int {
	n := 0
	for i := from; i < len(r.Rows); i++ {
		l := &r.Rows[i]
		switch l.Outcome {
		case Inserted:
			r.Inserted--
		case Updated:
			r.Updated--
		default:
			continue
		}
		l.Outcome = Error
		l.Message = "rolled back: " + cause.Error()
		r.Errors++
		n++
	}
	r.RolledBack += n
	return n
}

// Conserved reports whether the outcome tallies account for every processed row.
func (r *Results) Conserved() bool {
	return r.Inserted+r.Updated+r.DuplicateSkipped+r.Omitted+r.Errors == r.Processed
}

// Duration is the wall time of the run.
func (r *Results) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// CommitError is returned when a batch commit fails. Rows of the failed batch
// are lost; rows of earlier batches are durable.
type CommitError struct {
	Processed int
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed after %d rows: %v", e.Processed, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
