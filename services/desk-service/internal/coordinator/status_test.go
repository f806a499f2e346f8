package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/backend"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/events"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/reminder"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/store"
)

func seeded(h *harness, id string, status model.Status) model.Appointment {
	a := model.Appointment{
		ID: id, OrgID: "org", CustomerID: "cus-1", ServiceID: "svc-cut", StaffID: "stf-1",
		Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Status: status,
	}
	h.backend.seed(a)
	h.c.Store().Merge(store.Normalize([]model.AppointmentWithDetails{h.backend.details(a)}, 0))
	return a
}

func TestUpdateStatus_Accepted(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)

	appt, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "a1", Status: model.StatusClientConfirmed})
	require.NoError(t, err)
	assert.Equal(t, model.StatusClientConfirmed, appt.Status)
	require.NotNil(t, appt.ClientConfirmedAt)
	assert.True(t, appt.ClientConfirmedAt.Equal(testNow))

	cached, _ := h.c.Store().State().Appointment("a1")
	assert.Equal(t, appt, cached)
	require.Len(t, h.backend.updates, 1)
	assert.Equal(t, "u1", h.backend.updates[0].UserID)
	assert.Equal(t, []string{events.TypeStatusChanged}, h.publisher.types())
}

func TestUpdateStatus_TransitionRejectedStoreUnchanged(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusCancelled)
	before := h.c.Store().State()

	_, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "a1", Status: model.StatusConfirmed})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindTransition, ce.Kind)
	assert.Contains(t, ce.Message, "cancelled")
	assert.Contains(t, ce.Message, "confirmed")
	var te *lifecycle.TransitionError
	assert.ErrorAs(t, err, &te)

	assert.Equal(t, before, h.c.Store().State())
	assert.Empty(t, h.backend.updates)
}

func TestUpdateStatus_OptimisticThenRollback(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)
	before := h.c.Store().State()

	entered := make(chan struct{})
	release := make(chan error)
	h.backend.updateHook = func(context.Context, backend.StatusUpdate) error {
		close(entered)
		return <-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "a1", Status: model.StatusCheckedIn})
		done <- err
	}()

	<-entered
	mid, _ := h.c.Store().State().Appointment("a1")
	assert.Equal(t, model.StatusCheckedIn, mid.Status)
	assert.True(t, h.c.Store().InFlight("a1"))

	release <- errors.New("permission denied")
	err := <-done
	assert.Equal(t, KindCollaborator, KindOf(err))

	assert.Equal(t, before.Appointments, h.c.Store().State().Appointments)
	assert.False(t, h.c.Store().InFlight("a1"))
	assert.Empty(t, h.publisher.types())
}

func TestUpdateStatus_IndependentRollbacks(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)
	seeded(h, "a2", model.StatusConfirmed)

	var wg sync.WaitGroup
	gate := make(chan struct{})
	h.backend.updateHook = func(_ context.Context, u backend.StatusUpdate) error {
		<-gate
		if u.ID == "a1" {
			return errors.New("rejected")
		}
		return nil
	}

	errs := make(map[string]error)
	var mu sync.Mutex
	for _, id := range []string{"a1", "a2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: id, Status: model.StatusCheckedIn})
			mu.Lock()
			errs[id] = err
			mu.Unlock()
		}(id)
	}
	close(gate)
	wg.Wait()

	assert.Error(t, errs["a1"])
	assert.NoError(t, errs["a2"])
	st := h.c.Store().State()
	assert.Equal(t, model.StatusConfirmed, st.Appointments["a1"].Status)
	assert.Equal(t, model.StatusCheckedIn, st.Appointments["a2"].Status)
}

func TestUpdateStatus_StaleFailureDoesNotClobberNewerWrite(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)

	firstEntered := make(chan struct{})
	releaseFirst := make(chan error)
	calls := 0
	var callsMu sync.Mutex
	h.backend.updateHook = func(_ context.Context, u backend.StatusUpdate) error {
		callsMu.Lock()
		calls++
		n := calls
		callsMu.Unlock()
		if n == 1 {
			close(firstEntered)
			return <-releaseFirst
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "a1", Status: model.StatusCheckedIn})
		done <- err
	}()
	<-firstEntered

	// A second mutation on the same id starts from the first one's optimistic value.
	appt, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "a1", Status: model.StatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, appt.Status)

	releaseFirst <- errors.New("timeout")
	assert.Error(t, <-done)

	cached, _ := h.c.Store().State().Appointment("a1")
	assert.Equal(t, model.StatusInProgress, cached.Status, "older rollback must not undo the newer write")
}

func TestUpdateStatus_BothFailNewerFirst(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)
	before := h.c.Store().State()

	firstEntered := make(chan struct{})
	releaseFirst := make(chan error)
	calls := 0
	var callsMu sync.Mutex
	h.backend.updateHook = func(_ context.Context, u backend.StatusUpdate) error {
		callsMu.Lock()
		calls++
		n := calls
		callsMu.Unlock()
		if n == 1 {
			close(firstEntered)
			return <-releaseFirst
		}
		return errors.New("rejected")
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "a1", Status: model.StatusCheckedIn})
		done <- err
	}()
	<-firstEntered

	_, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "a1", Status: model.StatusInProgress})
	assert.Equal(t, KindCollaborator, KindOf(err))
	cached, _ := h.c.Store().State().Appointment("a1")
	assert.Equal(t, model.StatusCheckedIn, cached.Status, "the first write is still pending")

	releaseFirst <- errors.New("timeout")
	assert.Equal(t, KindCollaborator, KindOf(<-done))

	assert.Equal(t, before.Appointments, h.c.Store().State().Appointments)
	assert.False(t, h.c.Store().InFlight("a1"))
	stored, _ := h.backend.GetAppointment(context.Background(), "a1", "org")
	assert.Equal(t, model.StatusConfirmed, stored.Status)
}

func TestUpdateStatus_FreshReadOnCacheMiss(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.seed(model.Appointment{
		ID: "remote", OrgID: "org", CustomerID: "cus-1", ServiceID: "svc-cut",
		Date: "2024-01-10", StartTime: "11:00", EndTime: "12:00", Status: model.StatusPending,
	})

	appt, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "remote", Status: model.StatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, appt.Status)
	assert.Equal(t, 1, h.backend.reads)

	d, ok := h.c.Store().State().Denormalize("remote")
	require.True(t, ok)
	assert.Equal(t, "Haircut", d.Service.Name)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "ghost", Status: model.StatusConfirmed})
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: model.NewPlaceholderID(), Status: model.StatusConfirmed})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCancel_StampsReason(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusReminded)

	appt, err := h.c.Cancel(context.Background(), testSession(), CancelInput{AppointmentID: "a1", Reason: "client sick"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, appt.Status)
	assert.Equal(t, "client sick", appt.CancellationReason)
	assert.Equal(t, "u1", appt.CancelledBy)
	require.NotNil(t, appt.CancelledAt)
	assert.Equal(t, []string{events.TypeCancelled}, h.publisher.types())
	assert.Equal(t, "client sick", h.backend.updates[0].Reason)

	// Terminal: a second cancel is a transition error.
	_, err = h.c.Cancel(context.Background(), testSession(), CancelInput{AppointmentID: "a1"})
	assert.Equal(t, KindTransition, KindOf(err))
}

func TestCancel_ReasonTooLong(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)

	_, err := h.c.Cancel(context.Background(), testSession(), CancelInput{AppointmentID: "a1", Reason: strings.Repeat("x", 201)})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindValidation, ce.Kind)
	assert.Equal(t, "reason", ce.Field)
	assert.Empty(t, h.backend.updates)
}

func TestUpdateStatus_ReasonOnlyKeptForCancel(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)

	appt, err := h.c.UpdateStatus(context.Background(), testSession(), UpdateStatusInput{AppointmentID: "a1", Status: model.StatusNoShow, Reason: "ignored"})
	require.NoError(t, err)
	assert.Empty(t, appt.CancellationReason)
	assert.Empty(t, h.backend.updates[0].Reason)
}

func TestSendReminder(t *testing.T) {
	h := newHarness(t, Config{BusinessName: "Studio 9"})
	seeded(h, "a1", model.StatusConfirmed)
	h.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(req reminder.Request) bool {
		return req.AppointmentID == "a1" && strings.HasPrefix(req.Link, "https://wa.me/8801700000000?text=")
	})).Return(nil).Once()

	res, err := h.c.SendReminder(context.Background(), testSession(), "a1")
	require.NoError(t, err)
	h.dispatcher.AssertExpectations(t)

	assert.Equal(t, model.StatusReminded, res.Appointment.Status)
	require.NotNil(t, res.Appointment.ReminderSentAt)
	assert.Contains(t, res.Request.Text, "Studio 9")
	assert.Equal(t, []string{events.TypeStatusChanged}, h.publisher.types())
}

func TestSendReminder_DispatchFailureWritesNothing(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)
	before := h.c.Store().State()
	h.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	_, err := h.c.SendReminder(context.Background(), testSession(), "a1")
	assert.Equal(t, KindCollaborator, KindOf(err))
	assert.Equal(t, before, h.c.Store().State())
	assert.Empty(t, h.backend.updates)
}

func TestSendReminder_StatusFailureAfterDispatch(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "a1", model.StatusConfirmed)
	h.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Once()
	h.backend.updateHook = func(context.Context, backend.StatusUpdate) error {
		return errors.New("backend unavailable")
	}

	res, err := h.c.SendReminder(context.Background(), testSession(), "a1")
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindPartial, KindOf(err))
	assert.Equal(t, "status", ce.Field)
	assert.Equal(t, "a1", res.Request.AppointmentID, "the sent request is reported back")
	assert.Equal(t, model.StatusConfirmed, res.Appointment.Status)

	cached, _ := h.c.Store().State().Appointment("a1")
	assert.Equal(t, model.StatusConfirmed, cached.Status)
	assert.False(t, h.c.Store().InFlight("a1"))
	h.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
	assert.Empty(t, h.publisher.types())
}

func TestSendReminder_Rejections(t *testing.T) {
	h := newHarness(t, Config{})
	seeded(h, "pending", model.StatusPending)

	_, err := h.c.SendReminder(context.Background(), testSession(), "pending")
	assert.Equal(t, KindTransition, KindOf(err))

	a := model.Appointment{
		ID: "nophone", OrgID: "org", CustomerID: "cus-2", ServiceID: "svc-cut",
		Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Status: model.StatusConfirmed,
	}
	h.backend.seed(a)
	_, err = h.c.SendReminder(context.Background(), testSession(), "nophone")
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindValidation, ce.Kind)
	assert.Equal(t, "phone", ce.Field)

	h.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}
