package ledger

import "errors"

var (
	ErrDepartmentRequired = errors.New("department_id is required")
	ErrInvalidPhone       = errors.New("customer phone must be 8-16 digits with an optional leading +")
	ErrTicketRequired     = errors.New("ticket_id is required")
	ErrCleanupUnavailable = errors.New("reset cleanup is not configured")
)
