package store

import "qms/queue-service/internal/models"

var transitionMap = map[string][]string{
	models.StatusWaiting: {models.StatusServing, models.StatusCancelled},
	models.StatusServing: {models.StatusCompleted, models.StatusCancelled},
}

// ValidTransition reports whether a ticket may move from one status to another.
// completed and cancelled have no outgoing edges.
func ValidTransition(fromStatus, toStatus string) bool {
	allowed, ok := transitionMap[fromStatus]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == toStatus {
			return true
		}
	}
	return false
}
