// internal/storage/signal/interface.go
package signal

import (
	"context"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
)

// Outcome of evaluating one symbol in one iteration.
type Outcome string

const (
	OutcomeHold     Outcome = "hold"
	OutcomeExecuted Outcome = "executed"
	OutcomeAdvisory Outcome = "advisory"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Entry records the snapshot a strategy saw and what it decided.
type Entry struct {
	ID        string        `json:"id"`
	Iteration int           `json:"iteration"`
	Symbol    string        `json:"symbol"`
	Snapshot  core.Snapshot `json:"snapshot"`
	Intents   []core.Intent `json:"intents,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// Store is the decision journal.
type Store interface {
	// Save appends an entry and assigns its ID.
	Save(ctx context.Context, e Entry) (Entry, error)

	// GetByID retrieves an entry by its ID.
	GetByID(ctx context.Context, id string) (*Entry, error)

	// List retrieves entries matching the filter, oldest first.
	List(ctx context.Context, filter ListFilter) ([]Entry, error)

	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter ListFilter) (int, error)
}

// ListFilter defines criteria for listing entries.
type ListFilter struct {
	Symbol  string
	Outcome Outcome
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}
