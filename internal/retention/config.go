package retention

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidConfig = errors.New("invalid retention config")
	ErrRunInProgress = errors.New("retention run already in progress")
)

type CleanupType string

const (
	CleanupTickets       CleanupType = "tickets"
	CleanupNotifications CleanupType = "notifications"
	CleanupBoth          CleanupType = "both"
)

func (t CleanupType) includesTickets() bool {
	return t == CleanupTickets || t == CleanupBoth
}

func (t CleanupType) includesNotifications() bool {
	return t == CleanupNotifications || t == CleanupBoth
}

// ArchivalMode decides what happens when copying tickets into the archive
// fails. BestEffort records a warning and deletes anyway, trading history for
// reclaimed space. Strict keeps the tickets and records an error.
type ArchivalMode string

const (
	ArchivalBestEffort ArchivalMode = "best_effort"
	ArchivalStrict     ArchivalMode = "strict"
)

const (
	DefaultTicketRetentionHours                   = 24
	DefaultSuccessfulNotificationRetentionMinutes = 60
	DefaultFailedNotificationRetentionHours       = 24
	DefaultMaxBatchSize                           = 1000
	MaxBatchSizeLimit                             = 10000
	MaxConcurrency                                = 32

	// Retention windows are capped at ten years so the cutoff arithmetic
	// cannot overflow time.Duration.
	MaxRetentionHours   = 87600
	MaxRetentionMinutes = MaxRetentionHours * 60
)

type Config struct {
	OrganizationID                         string       `json:"organization_id,omitempty"`
	CleanupType                            CleanupType  `json:"cleanup_type,omitempty"`
	TicketRetentionHours                   int          `json:"ticket_retention_hours,omitempty"`
	ArchiveTickets                         bool         `json:"archive_tickets"`
	ArchivalMode                           ArchivalMode `json:"archival_mode,omitempty"`
	SuccessfulNotificationRetentionMinutes int          `json:"successful_notification_retention_minutes,omitempty"`
	FailedNotificationRetentionHours       int          `json:"failed_notification_retention_hours,omitempty"`
	DryRun                                 bool         `json:"dry_run"`
	MaxBatchSize                           int          `json:"max_batch_size,omitempty"`
	Concurrency                            int          `json:"concurrency,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		CleanupType:                            CleanupBoth,
		TicketRetentionHours:                   DefaultTicketRetentionHours,
		ArchiveTickets:                         true,
		ArchivalMode:                           ArchivalBestEffort,
		SuccessfulNotificationRetentionMinutes: DefaultSuccessfulNotificationRetentionMinutes,
		FailedNotificationRetentionHours:       DefaultFailedNotificationRetentionHours,
		MaxBatchSize:                           DefaultMaxBatchSize,
		Concurrency:                            1,
	}
}

// withDefaults fills zero numeric fields and empty enums. Booleans are taken
// as given, so callers wanting archival on should start from DefaultConfig.
func (c Config) withDefaults() Config {
	c.OrganizationID = strings.TrimSpace(c.OrganizationID)
	if c.CleanupType == "" {
		c.CleanupType = CleanupBoth
	}
	if c.ArchivalMode == "" {
		c.ArchivalMode = ArchivalBestEffort
	}
	if c.TicketRetentionHours == 0 {
		c.TicketRetentionHours = DefaultTicketRetentionHours
	}
	if c.SuccessfulNotificationRetentionMinutes == 0 {
		c.SuccessfulNotificationRetentionMinutes = DefaultSuccessfulNotificationRetentionMinutes
	}
	if c.FailedNotificationRetentionHours == 0 {
		c.FailedNotificationRetentionHours = DefaultFailedNotificationRetentionHours
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	return c
}

// Validate reports every problem at once, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var problems []string
	switch c.CleanupType {
	case CleanupTickets, CleanupNotifications, CleanupBoth:
	default:
		problems = append(problems, fmt.Sprintf("cleanup_type %q must be tickets, notifications or both", c.CleanupType))
	}
	switch c.ArchivalMode {
	case ArchivalBestEffort, ArchivalStrict:
	default:
		problems = append(problems, fmt.Sprintf("archival_mode %q must be best_effort or strict", c.ArchivalMode))
	}
	if c.TicketRetentionHours < 0 || c.TicketRetentionHours > MaxRetentionHours {
		problems = append(problems, fmt.Sprintf("ticket_retention_hours must be between 1 and %d", MaxRetentionHours))
	}
	if c.SuccessfulNotificationRetentionMinutes < 0 || c.SuccessfulNotificationRetentionMinutes > MaxRetentionMinutes {
		problems = append(problems, fmt.Sprintf("successful_notification_retention_minutes must be between 1 and %d", MaxRetentionMinutes))
	}
	if c.FailedNotificationRetentionHours < 0 || c.FailedNotificationRetentionHours > MaxRetentionHours {
		problems = append(problems, fmt.Sprintf("failed_notification_retention_hours must be between 1 and %d", MaxRetentionHours))
	}
	if c.MaxBatchSize < 0 || c.MaxBatchSize > MaxBatchSizeLimit {
		problems = append(problems, fmt.Sprintf("max_batch_size must be between 1 and %d", MaxBatchSizeLimit))
	}
	if c.Concurrency < 0 || c.Concurrency > MaxConcurrency {
		problems = append(problems, fmt.Sprintf("concurrency must be between 1 and %d", MaxConcurrency))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}
