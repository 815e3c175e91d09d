package retention

import (
	"fmt"
	"time"
)

// CleanupResult is one organization's share of a run. Under dry run the
// counts are what a real run would have archived and deleted.
type CleanupResult struct {
	OrganizationID                 string   `json:"organization_id"`
	OrganizationName               string   `json:"organization_name"`
	TicketsDeleted                 int64    `json:"tickets_deleted"`
	TicketsArchived                int64    `json:"tickets_archived"`
	TicketsHasMore                 bool     `json:"tickets_has_more"`
	SuccessfulNotificationsDeleted int64    `json:"successful_notifications_deleted"`
	FailedNotificationsDeleted     int64    `json:"failed_notifications_deleted"`
	Errors                         []string `json:"errors"`
	Warnings                       []string `json:"warnings"`
	Recommendations                []string `json:"recommendations"`
	DurationMS                     int64    `json:"duration_ms"`
}

type Totals struct {
	TicketsDeleted                 int64 `json:"tickets_deleted"`
	TicketsArchived                int64 `json:"tickets_archived"`
	SuccessfulNotificationsDeleted int64 `json:"successful_notifications_deleted"`
	FailedNotificationsDeleted     int64 `json:"failed_notifications_deleted"`
	NotificationsDeleted           int64 `json:"notifications_deleted"`
	OrganizationsWithErrors        int   `json:"organizations_with_errors"`
	OrganizationsWithBacklog       int   `json:"organizations_with_backlog"`
}

type Report struct {
	RunID                  string          `json:"run_id"`
	DryRun                 bool            `json:"dry_run"`
	CleanupType            CleanupType     `json:"cleanup_type"`
	StartedAt              time.Time       `json:"started_at"`
	FinishedAt             time.Time       `json:"finished_at"`
	DurationMS             int64           `json:"duration_ms"`
	OrganizationsProcessed int             `json:"organizations_processed"`
	Totals                 Totals          `json:"totals"`
	Results                []CleanupResult `json:"results"`
	HasMore                bool            `json:"has_more"`
	Recommendations        []string        `json:"recommendations"`
}

// PurgeResult reports a department purge triggered by a queue reset.
type PurgeResult struct {
	DepartmentID    string   `json:"department_id"`
	TicketsArchived int64    `json:"tickets_archived"`
	TicketsDeleted  int64    `json:"tickets_deleted"`
	Batches         int      `json:"batches"`
	Warnings        []string `json:"warnings,omitempty"`
}

const (
	highTicketVolumeRatio   = 0.8
	highSuccessLogVolume    = 10000
	highFailedLogVolume     = 100
	nothingToDoMessage      = "clean: nothing to do"
	nothingToCleanUpMessage = "nothing to clean up"
)

func (r *Report) aggregate() {
	r.OrganizationsProcessed = len(r.Results)
	for _, result := range r.Results {
		r.Totals.TicketsDeleted += result.TicketsDeleted
		r.Totals.TicketsArchived += result.TicketsArchived
		r.Totals.SuccessfulNotificationsDeleted += result.SuccessfulNotificationsDeleted
		r.Totals.FailedNotificationsDeleted += result.FailedNotificationsDeleted
		if len(result.Errors) > 0 {
			r.Totals.OrganizationsWithErrors++
		}
		if result.TicketsHasMore {
			r.Totals.OrganizationsWithBacklog++
			r.HasMore = true
		}
	}
	r.Totals.NotificationsDeleted = r.Totals.SuccessfulNotificationsDeleted + r.Totals.FailedNotificationsDeleted
}

func organizationRecommendations(result CleanupResult, cfg Config) []string {
	var recs []string
	if n := len(result.Errors); n > 0 {
		recs = append(recs, fmt.Sprintf("%d error(s) recorded; check storage health for this organization before the next run", n))
	}
	if len(result.Warnings) > 0 {
		recs = append(recs, "archival reported warnings; compare the archived_tickets schema with tickets")
	}
	if result.TicketsHasMore {
		recs = append(recs, fmt.Sprintf("backlog exceeds max_batch_size (%d); run again or schedule runs more often", cfg.MaxBatchSize))
	} else if float64(result.TicketsDeleted) >= highTicketVolumeRatio*float64(cfg.MaxBatchSize) {
		recs = append(recs, "high ticket volume; consider a shorter retention interval")
	}
	if result.SuccessfulNotificationsDeleted >= highSuccessLogVolume {
		recs = append(recs, "high successful notification volume; consider pruning more often")
	}
	if result.FailedNotificationsDeleted >= highFailedLogVolume {
		recs = append(recs, "many failed notification deliveries; review channel configuration")
	}
	if len(recs) == 0 && result.TicketsDeleted == 0 && result.SuccessfulNotificationsDeleted == 0 && result.FailedNotificationsDeleted == 0 {
		recs = append(recs, nothingToDoMessage)
	}
	if len(recs) == 0 {
		recs = []string{}
	}
	return recs
}

func globalRecommendations(r Report) []string {
	var recs []string
	if r.DryRun {
		recs = append(recs, "dry run: nothing was archived or deleted")
	}
	if r.OrganizationsProcessed == 0 {
		recs = append(recs, "no organizations matched; nothing to clean up")
		return recs
	}
	if n := r.Totals.OrganizationsWithErrors; n > 0 {
		recs = append(recs, fmt.Sprintf("%d organization(s) reported errors; see their results", n))
	}
	if n := r.Totals.OrganizationsWithBacklog; n > 0 {
		recs = append(recs, fmt.Sprintf("%d organization(s) still have eligible tickets; run again to continue", n))
	}
	if r.Totals.TicketsDeleted == 0 && r.Totals.NotificationsDeleted == 0 && r.Totals.OrganizationsWithErrors == 0 {
		recs = append(recs, nothingToCleanUpMessage)
	}
	if len(recs) == 0 {
		recs = []string{}
	}
	return recs
}
