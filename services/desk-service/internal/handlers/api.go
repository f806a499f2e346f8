package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/apptdesk/libs/httpx"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/coordinator"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/reminder"
)

type API struct {
	registry *Registry
	logger   *slog.Logger
}

func NewAPI(registry *Registry, logger *slog.Logger) *API {
	return &API{registry: registry, logger: logger}
}

// Register mounts the API on mux. Every route goes through mw, which must establish the session.
func (a *API) Register(mux *http.ServeMux, mw ...httpx.Middleware) {
	route := func(path string, h http.HandlerFunc) {
		mux.Handle(path, httpx.Chain(h, mw...))
	}
	route("/api/v1/appointments", a.Appointments)
	route("/api/v1/appointments/get", a.Get)
	route("/api/v1/appointments/status", a.UpdateStatus)
	route("/api/v1/appointments/cancel", a.Cancel)
	route("/api/v1/appointments/remind", a.Remind)
	route("/api/v1/availability", a.Availability)
	route("/api/v1/availability/slots", a.Slots)
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
	// Reminder is set on a partial failure, after the reminder already went out.
	Reminder *reminder.Request `json:"reminder,omitempty"`
}

type reminderRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusForKind(k coordinator.Kind) int {
	switch k {
	case coordinator.KindValidation:
		return http.StatusBadRequest
	case coordinator.KindNotFound:
		return http.StatusNotFound
	case coordinator.KindTransition, coordinator.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// writeError shows the user-facing message only; collaborator detail was logged by the coordinator.
func (a *API) writeError(w http.ResponseWriter, err error) {
	var ce *coordinator.Error
	if !errors.As(err, &ce) {
		a.logger.Error("unexpected handler error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: "internal", Message: "internal error"}})
		return
	}
	writeJSON(w, statusForKind(ce.Kind), errorBody{Error: errorDetail{Kind: string(ce.Kind), Field: ce.Field, Message: ce.Message}})
}

func badRequest(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: string(coordinator.KindValidation), Field: field, Message: msg}})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{Kind: "method", Message: "method not allowed"}})
}

func (a *API) session(w http.ResponseWriter, r *http.Request) (model.Session, *coordinator.Coordinator, bool) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Kind: "unauthorized", Message: "missing session"}})
		return model.Session{}, nil, false
	}
	return sess, a.registry.Get(sess), true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "", "invalid json body")
		return false
	}
	return true
}

func (a *API) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.create(w, r)
	case http.MethodGet:
		a.list(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	sess, coord, ok := a.session(w, r)
	if !ok {
		return
	}
	var in coordinator.CreateAppointmentInput
	if !decode(w, r, &in) {
		return
	}
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	in.StaffID = strings.TrimSpace(in.StaffID)
	in.Notes = strings.TrimSpace(in.Notes)

	appt, err := coord.Create(r.Context(), sess, in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	sess, coord, ok := a.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	in := coordinator.RangeInput{
		Start:      q.Get("start"),
		End:        q.Get("end"),
		StaffID:    q.Get("staff_id"),
		CustomerID: q.Get("customer_id"),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				in.Statuses = append(in.Statuses, model.Status(s))
			}
		}
	}
	items, err := coord.LoadRange(r.Context(), sess, in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sess, coord, ok := a.session(w, r)
	if !ok {
		return
	}
	d, err := coord.GetAppointment(r.Context(), sess, strings.TrimSpace(r.URL.Query().Get("id")))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	sess, coord, ok := a.session(w, r)
	if !ok {
		return
	}
	var in coordinator.UpdateStatusInput
	if !decode(w, r, &in) {
		return
	}
	in.AppointmentID = strings.TrimSpace(in.AppointmentID)
	appt, err := coord.UpdateStatus(r.Context(), sess, in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (a *API) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	sess, coord, ok := a.session(w, r)
	if !ok {
		return
	}
	var in coordinator.CancelInput
	if !decode(w, r, &in) {
		return
	}
	in.AppointmentID = strings.TrimSpace(in.AppointmentID)
	in.Reason = strings.TrimSpace(in.Reason)
	appt, err := coord.Cancel(r.Context(), sess, in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (a *API) Remind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	sess, coord, ok := a.session(w, r)
	if !ok {
		return
	}
	var in reminderRequest
	if !decode(w, r, &in) {
		return
	}
	res, err := coord.SendReminder(r.Context(), sess, strings.TrimSpace(in.AppointmentID))
	var ce *coordinator.Error
	if errors.As(err, &ce) && ce.Kind == coordinator.KindPartial {
		writeJSON(w, statusForKind(ce.Kind), errorBody{
			Error:    errorDetail{Kind: string(ce.Kind), Field: ce.Field, Message: ce.Message},
			Reminder: &res.Request,
		})
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sess, coord, ok := a.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	res, err := coord.CheckAvailability(r.Context(), sess, coordinator.AvailabilityInput{
		StaffID:   q.Get("staff_id"),
		Date:      q.Get("date"),
		StartTime: q.Get("start_time"),
		EndTime:   q.Get("end_time"),
		ExcludeID: q.Get("exclude_id"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sess, coord, ok := a.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	duration, err := strconv.Atoi(q.Get("duration_minutes"))
	if err != nil {
		badRequest(w, "duration_minutes", "must be a whole number of minutes")
		return
	}
	slots, err := coord.FreeSlots(r.Context(), sess, coordinator.SlotsInput{
		StaffID:         q.Get("staff_id"),
		Date:            q.Get("date"),
		DurationMinutes: duration,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": q.Get("date"), "slots": slots})
}
