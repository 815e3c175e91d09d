package store

import "errors"

var (
	ErrDepartmentNotFound   = errors.New("department not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrInvalidTransition    = errors.New("invalid ticket transition")
	ErrArchivedNotFound     = errors.New("archived ticket not found")
)
