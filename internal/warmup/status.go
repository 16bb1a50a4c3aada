package warmup

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// ModelState tracks one model through a warmup pass.
type ModelState string

const (
	ModelPending   ModelState = "pending"
	ModelRunning   ModelState = "running"
	ModelSucceeded ModelState = "succeeded"
	ModelFailed    ModelState = "failed"
)

// Status is the progress of the most recent warmup pass for one account.
type Status struct {
	IsRunning         bool
	LastRun           time.Time
	NextRun           time.Time
	ProgressTotal     int
	ProgressCompleted int
	CurrentModel      string
	ModelStates       map[string]ModelState
	LastError         string
}

func (s Status) clone() Status {
	states := make(map[string]ModelState, len(s.ModelStates))
	for k, v := range s.ModelStates {
		states[k] = v
	}
	s.ModelStates = states
	return s
}

// Board holds the latest Status per account ID. Values are stored by copy,
// so readers never observe a half-updated pass.
type Board struct {
	statuses *xsync.Map[string, Status]
}

// NewBoard creates an empty status board.
func NewBoard() *Board {
	return &Board{statuses: xsync.NewMap[string, Status]()}
}

// Get returns the status for the account ID.
func (b *Board) Get(id string) (Status, bool) {
	st, ok := b.statuses.Load(id)
	if !ok {
		return Status{}, false
	}
	return st.clone(), true
}

// Set stores a copy of st under the account ID.
func (b *Board) Set(id string, st Status) {
	b.statuses.Store(id, st.clone())
}

// Delete removes the account's status.
func (b *Board) Delete(id string) {
	b.statuses.Delete(id)
}
