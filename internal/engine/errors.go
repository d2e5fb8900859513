package engine

import (
	"errors"
	"fmt"
)

// ErrNoProposal means the model returned plain text instead of a tool call:
// it chose not to propose anything. Distinct from a budget failure.
var ErrNoProposal = errors.New("model produced no proposal")

// BudgetError is returned when the research loop exhausts its iteration cap
// or a turn exceeds its wall-clock timeout. A timeout implies possible
// runaway reasoning and is reported differently from the cap.
type BudgetError struct {
	Turns   int
	Timeout bool
}

func (e *BudgetError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("research turn %d exceeded its time budget", e.Turns)
	}
	return fmt.Sprintf("research loop reached its %d-turn cap without an accepted proposal", e.Turns)
}
