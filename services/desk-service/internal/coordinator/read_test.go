package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/availability"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/backend"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

func TestLoadRange_MergesAndSorts(t *testing.T) {
	h := newHarness(t, Config{})
	for _, a := range []model.Appointment{
		{ID: "late", Date: "2024-01-11", StartTime: "09:00"},
		{ID: "early", Date: "2024-01-10", StartTime: "15:00"},
		{ID: "earliest", Date: "2024-01-10", StartTime: "08:00"},
		{ID: "outside", Date: "2024-02-01", StartTime: "08:00"},
	} {
		a.OrgID = "org"
		a.CustomerID = "cus-1"
		a.ServiceID = "svc-cut"
		a.EndTime = "23:00"
		a.Status = model.StatusConfirmed
		h.backend.seed(a)
	}

	items, err := h.c.LoadRange(context.Background(), testSession(), RangeInput{Start: "2024-01-10", End: "2024-01-31"})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "earliest", items[0].ID)
	assert.Equal(t, "early", items[1].ID)
	assert.Equal(t, "late", items[2].ID)
	assert.Equal(t, "Alice", items[0].Customer.Name)

	assert.Len(t, h.c.Store().State().Appointments, 3)
	assert.Len(t, h.c.Store().State().Customers, 1)
}

func TestLoadRange_KeepsInFlightWrites(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.backend.updateHook = func(context.Context, backend.StatusUpdate) error {
		close(entered)
		<-release
		return nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "a1", Status: model.StatusCheckedIn})
		done <- err
	}()
	<-entered

	items, err := h.c.LoadRange(context.Background(), testSession(), RangeInput{Start: "2024-01-10", End: "2024-01-10"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.StatusCheckedIn, items[0].Status, "the backend still says confirmed; the optimistic write wins")

	close(release)
	require.NoError(t, <-done)
}

func TestLoadRange_Validation(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.c.LoadRange(context.Background(), testSession(), RangeInput{Start: "2024-01-10", End: "2024-01-01"})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = h.c.LoadRange(context.Background(), testSession(), RangeInput{Start: "2024-01-10", End: "2024-01-11", Statuses: []model.Status{"nope"}})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "statuses[0]", ce.Field)
}

func TestGetAppointment(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "cached", model.StatusConfirmed)
	h.backend.seed(model.Appointment{
		ID: "remote", OrgID: "org", CustomerID: "cus-1", ServiceID: "svc-cut",
		Date: "2024-01-10", StartTime: "11:00", EndTime: "12:00", Status: model.StatusPending,
	})

	d, err := h.c.GetAppointment(context.Background(), testSession(), "cached")
	require.NoError(t, err)
	assert.Equal(t, "cached", d.ID)
	assert.Zero(t, h.backend.reads)

	d, err = h.c.GetAppointment(context.Background(), testSession(), "remote")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, d.Status)
	assert.Equal(t, 1, h.backend.reads)

	_, err = h.c.GetAppointment(context.Background(), testSession(), "ghost")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestCheckAvailability(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed) // 09:00-10:00

	res, err := h.c.CheckAvailability(context.Background(), testSession(), AvailabilityInput{
		StaffID: "stf-1", Date: "2024-01-10", StartTime: "09:30", EndTime: "10:30",
	})
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, "a1", res.ConflictID)

	res, err = h.c.CheckAvailability(context.Background(), testSession(), AvailabilityInput{
		StaffID: "stf-1", Date: "2024-01-10", StartTime: "09:30", EndTime: "10:30", ExcludeID: "a1",
	})
	require.NoError(t, err)
	assert.True(t, res.Available, "rescheduling an appointment ignores its own slot")

	_, err = h.c.CheckAvailability(context.Background(), testSession(), AvailabilityInput{
		StaffID: "stf-1", Date: "2024-01-10", StartTime: "10:30", EndTime: "10:30",
	})
	assert.Equal(t, KindValidation, KindOf(err))

	h.backend.candidatesErr = errors.New("down")
	res, err = h.c.CheckAvailability(context.Background(), testSession(), AvailabilityInput{
		StaffID: "stf-1", Date: "2024-01-10", StartTime: "11:00", EndTime: "11:30",
	})
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.True(t, res.Unverified)
}

func TestFreeSlots(t *testing.T) {
	h := newHarness(t, Config{
		SlotWindow:      availability.Range{Start: model.MustClock("09:00"), End: model.MustClock("11:00")},
		SlotStepMinutes: 30,
	})
	seeded(h, "a1", model.StatusConfirmed) // 09:00-10:00

	slots, err := h.c.FreeSlots(context.Background(), testSession(), SlotsInput{StaffID: "stf-1", Date: "2024-01-10", DurationMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "10:30"}, slots)

	past, err := h.c.FreeSlots(context.Background(), testSession(), SlotsInput{StaffID: "stf-1", Date: "2024-01-08", DurationMinutes: 30})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestFreeSlots_TodayStartsNow(t *testing.T) {
	h := newHarness(t, Config{
		SlotWindow:      availability.Range{Start: model.MustClock("07:00"), End: model.MustClock("09:00")},
		SlotStepMinutes: 30,
	})
	h.c.now = func() time.Time { return time.Date(2024, 1, 10, 7, 45, 0, 0, time.UTC) }

	slots, err := h.c.FreeSlots(context.Background(), testSession(), SlotsInput{StaffID: "stf-1", Date: "2024-01-10", DurationMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00", "08:30"}, slots)
}
