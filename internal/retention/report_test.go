package retention

import (
	"strings"
	"testing"
)

func TestAggregateTotals(t *testing.T) {
	r := Report{Results: []CleanupResult{
		{OrganizationID: "a", TicketsDeleted: 3, TicketsArchived: 3, SuccessfulNotificationsDeleted: 5, TicketsHasMore: true},
		{OrganizationID: "b", FailedNotificationsDeleted: 2, Errors: []string{"select expired tickets: timeout"}},
	}}
	r.aggregate()

	if r.OrganizationsProcessed != 2 || !r.HasMore {
		t.Fatalf("unexpected report flags %+v", r)
	}
	want := Totals{
		TicketsDeleted:                 3,
		TicketsArchived:                3,
		SuccessfulNotificationsDeleted: 5,
		FailedNotificationsDeleted:     2,
		NotificationsDeleted:           7,
		OrganizationsWithErrors:        1,
		OrganizationsWithBacklog:       1,
	}
	if r.Totals != want {
		t.Fatalf("expected %+v, got %+v", want, r.Totals)
	}
}

func TestOrganizationRecommendations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 10

	tests := []struct {
		name   string
		result CleanupResult
		want   string
	}{
		{name: "idle", result: CleanupResult{}, want: nothingToDoMessage},
		{name: "backlog", result: CleanupResult{TicketsDeleted: 10, TicketsHasMore: true}, want: "backlog exceeds max_batch_size (10)"},
		{name: "high volume", result: CleanupResult{TicketsDeleted: 8}, want: "high ticket volume"},
		{name: "failed deliveries", result: CleanupResult{FailedNotificationsDeleted: highFailedLogVolume}, want: "failed notification deliveries"},
		{name: "errors", result: CleanupResult{Errors: []string{"boom"}}, want: "1 error(s) recorded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := organizationRecommendations(tt.result, cfg)
			if !strings.Contains(strings.Join(recs, "\n"), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, recs)
			}
		})
	}

	if recs := organizationRecommendations(CleanupResult{TicketsDeleted: 1}, cfg); len(recs) != 0 || recs == nil {
		t.Fatalf("expected an empty, non-nil list, got %#v", recs)
	}
}

func TestGlobalRecommendations(t *testing.T) {
	if recs := globalRecommendations(Report{}); len(recs) != 1 || !strings.Contains(recs[0], nothingToCleanUpMessage) {
		t.Fatalf("expected nothing-to-clean-up for an empty run, got %v", recs)
	}
	dry := globalRecommendations(Report{DryRun: true, OrganizationsProcessed: 1, Totals: Totals{TicketsDeleted: 4}})
	if len(dry) != 1 || !strings.HasPrefix(dry[0], "dry run") {
		t.Fatalf("expected dry-run note only, got %v", dry)
	}
}
