package domain

import (
	"fmt"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

// CanTransition is the job lifecycle table. Terminal states have no outgoing edges.
func CanTransition(from, to models.Status) bool {
	switch from {
	case models.QueuedStatus:
		return to == models.ActiveStatus || to == models.FailedStatus
	case models.ActiveStatus:
		return to == models.CompletedStatus || to == models.RetryingStatus || to == models.FailedStatus
	case models.RetryingStatus:
		return to == models.ActiveStatus || to == models.FailedStatus
	case models.CompletedStatus:
		return false
	case models.FailedStatus:
		return false
	default:
		return false
	}
}

func ValidateTransition(from, to models.Status) error {
	if from == to && !from.Terminal() {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
