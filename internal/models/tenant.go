package models

type Organization struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

type Department struct {
	DepartmentID   string `json:"department_id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	TicketPrefix   string `json:"ticket_prefix"`
}
