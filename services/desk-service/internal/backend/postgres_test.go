package backend

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

func TestRangeQuery_NoFilters(t *testing.T) {
	q, args := rangeQuery("org", "2024-01-01", "2024-01-31", RangeFilter{})
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	if strings.Contains(q, "$4") {
		t.Fatalf("unexpected placeholder in %s", q)
	}
	if !strings.HasSuffix(q, "ORDER BY a.appointment_date ASC, a.start_time ASC, a.id ASC") {
		t.Fatalf("missing ordering: %s", q)
	}
}

func TestRangeQuery_AllFilters(t *testing.T) {
	q, args := rangeQuery("org", "2024-01-01", "2024-01-31", RangeFilter{
		StaffID:    "st1",
		CustomerID: "c1",
		Statuses:   []model.Status{model.StatusPending, model.StatusConfirmed},
	})
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	for i, frag := range []string{"a.staff_id = $4", "a.customer_id = $5", "a.status = ANY($6)"} {
		if !strings.Contains(q, frag) {
			t.Fatalf("filter %d missing %q in %s", i, frag, q)
		}
	}
	statuses, ok := args[5].([]string)
	if !ok || len(statuses) != 2 || statuses[0] != "pending" {
		t.Fatalf("unexpected status arg %#v", args[5])
	}
}

func TestRangeQuery_CustomerOnly(t *testing.T) {
	q, args := rangeQuery("org", "2024-01-01", "2024-01-31", RangeFilter{CustomerID: "c1"})
	if len(args) != 4 || !strings.Contains(q, "a.customer_id = $4") {
		t.Fatalf("unexpected query %s args %v", q, args)
	}
}

func TestNotFoundMapping(t *testing.T) {
	if !errors.Is(notFound(pgx.ErrNoRows), ErrNotFound) {
		t.Fatal("expected no rows to map to ErrNotFound")
	}
	wrapped := fmt.Errorf("scan: %w", pgx.ErrNoRows)
	if !errors.Is(notFound(wrapped), ErrNotFound) {
		t.Fatal("expected wrapped no rows to map to ErrNotFound")
	}
	other := errors.New("boom")
	if notFound(other) != other {
		t.Fatal("other errors must pass through")
	}
}
