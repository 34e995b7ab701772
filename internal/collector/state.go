package collector

import "time"

// State is a row's position in the processing state machine.
//
//	Unchecked -> IndexedAndVerified -> Done
//	Unchecked -> FileExistsUnindexed -> Done
//	Unchecked -> NeedsAcquisition -> Acquired -> Done
//	Unchecked -> NeedsAcquisition -> FileExistsUnindexed -> Done (filed elsewhere meanwhile)
//	Unchecked -> NeedsAcquisition -> Failed
type State int

const (
	Unchecked State = iota
	IndexedAndVerified
	FileExistsUnindexed
	NeedsAcquisition
	Acquired
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case IndexedAndVerified:
		return "indexed_and_verified"
	case FileExistsUnindexed:
		return "file_exists_unindexed"
	case NeedsAcquisition:
		return "needs_acquisition"
	case Acquired:
		return "acquired"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one row.
type Result struct {
	Row      int
	Page     int
	Trail    []State // every state visited, starting with Unchecked
	Keys     []string
	File     string // report path in the shared directory, when filed
	Renamed  bool
	Pages    int // page count of an acquired report
	Err      error
	Duration time.Duration
}

// Final is the last state reached.
func (r Result) Final() State {
	if len(r.Trail) == 0 {
		return Unchecked
	}
	return r.Trail[len(r.Trail)-1]
}

// Via is the state that led to Done or Failed: how the row was resolved.
func (r Result) Via() State {
	if len(r.Trail) < 2 {
		return r.Final()
	}
	return r.Trail[len(r.Trail)-2]
}

func (r *Result) enter(s State) {
	r.Trail = append(r.Trail, s)
}

// Summary counts rows by how they were resolved.
type Summary struct {
	RunID      string
	Pages      int
	Rows       int
	Verified   int // already indexed, file present
	Reconciled int // file present, index updated
	Acquired   int
	Failed     int
	Renamed    int
	Stopped    string // why the run ended
}

// Add accounts for one row result.
func (s *Summary) Add(r Result) {
	s.Rows++
	if r.Renamed {
		s.Renamed++
	}
	if r.Final() == Failed {
		s.Failed++
		return
	}
	switch r.Via() {
	case IndexedAndVerified:
		s.Verified++
	case FileExistsUnindexed:
		s.Reconciled++
	case Acquired:
		s.Acquired++
	}
}

// States maps state names to counts, for checkpoints and metrics.
func (s Summary) States() map[string]int {
	return map[string]int{
		IndexedAndVerified.String():  s.Verified,
		FileExistsUnindexed.String(): s.Reconciled,
		Acquired.String():            s.Acquired,
		Failed.String():              s.Failed,
	}
}
