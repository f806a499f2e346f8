package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptdesk/libs/db"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const appointmentColumns = `
	a.id::text, a.organization_id::text, a.customer_id::text, a.service_id::text,
	COALESCE(a.staff_id::text, ''),
	to_char(a.appointment_date, 'YYYY-MM-DD'), to_char(a.start_time, 'HH24:MI'), to_char(a.end_time, 'HH24:MI'),
	a.status, a.source, COALESCE(a.notes, ''),
	COALESCE(a.price, 0)::float8, COALESCE(a.payment_status, ''), COALESCE(a.payment_method, ''),
	a.client_confirmed_at, a.reminder_sent_at, a.cancelled_at, COALESCE(a.cancelled_by::text, ''),
	COALESCE(a.cancellation_reason, ''), a.actual_start_time, a.actual_end_time,
	COALESCE(a.created_by::text, ''), a.created_at, a.updated_at`

const detailColumns = appointmentColumns + `,
	c.id::text, c.organization_id::text, c.name, COALESCE(c.phone, ''), COALESCE(c.email, ''), c.is_active,
	s.id::text, s.organization_id::text, s.name, s.duration_minutes, s.buffer_time_minutes,
	COALESCE(s.price, 0)::float8, s.requires_approval, s.is_active,
	st.id::text, st.organization_id::text, st.name, st.phone, st.is_active`

const detailJoins = `
	FROM appointments a
	JOIN customers c ON c.id = a.customer_id
	JOIN services s ON s.id = a.service_id
	LEFT JOIN staff st ON st.id = a.staff_id`

func appointmentDest(a *model.Appointment) []any {
	return []any{
		&a.ID, &a.OrgID, &a.CustomerID, &a.ServiceID, &a.StaffID,
		&a.Date, &a.StartTime, &a.EndTime,
		&a.Status, &a.Source, &a.Notes,
		&a.Price, &a.PaymentStatus, &a.PaymentMethod,
		&a.ClientConfirmedAt, &a.ReminderSentAt, &a.CancelledAt, &a.CancelledBy,
		&a.CancellationReason, &a.ActualStartTime, &a.ActualEndTime,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	}
}

func scanDetails(row pgx.Row) (model.AppointmentWithDetails, error) {
	var d model.AppointmentWithDetails
	// Staff is a LEFT JOIN, so every staff column may be NULL.
	var staffID, staffOrg, staffName, staffPhone *string
	var staffActive *bool
	dest := appointmentDest(&d.Appointment)
	dest = append(dest,
		&d.Customer.ID, &d.Customer.OrgID, &d.Customer.Name, &d.Customer.Phone, &d.Customer.Email, &d.Customer.IsActive,
		&d.Service.ID, &d.Service.OrgID, &d.Service.Name, &d.Service.DurationMinutes, &d.Service.BufferTimeMinutes,
		&d.Service.Price, &d.Service.RequiresApproval, &d.Service.IsActive,
		&staffID, &staffOrg, &staffName, &staffPhone, &staffActive,
	)
	if err := row.Scan(dest...); err != nil {
		return model.AppointmentWithDetails{}, err
	}
	if staffID != nil {
		d.Staff = &model.Staff{ID: *staffID, OrgID: deref(staffOrg), Name: deref(staffName), Phone: deref(staffPhone)}
		if staffActive != nil {
			d.Staff.IsActive = *staffActive
		}
	}
	return d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func notFound(err error) error {
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func (p *Postgres) Create(ctx context.Context, in model.Appointment, orgID, userID string) (model.Appointment, error) {
	var out model.Appointment
	err := p.pool.QueryRow(ctx, `
		INSERT INTO appointments AS a
			(organization_id, customer_id, service_id, staff_id, appointment_date, start_time, end_time,
			 status, source, notes, price, payment_status, payment_method, created_by)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5::date, $6::time, $7::time,
			$8, $9, NULLIF($10, ''), $11, NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, '')::uuid)
		RETURNING `+appointmentColumns,
		orgID, in.CustomerID, in.ServiceID, in.StaffID, in.Date, in.StartTime, in.EndTime,
		in.Status, in.Source, in.Notes, in.Price, in.PaymentStatus, in.PaymentMethod, userID,
	).Scan(appointmentDest(&out)...)
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

// UpdateStatus writes the status with the same side-effect stamps lifecycle.Stamp applies.
func (p *Postgres) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			updated_at = $4,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancelled_at END,
			cancelled_by = CASE WHEN $3 = 'cancelled' THEN NULLIF($5, '')::uuid ELSE cancelled_by END,
			cancellation_reason = CASE WHEN $3 = 'cancelled' THEN NULLIF($6, '') ELSE cancellation_reason END,
			client_confirmed_at = CASE WHEN $3 = 'client_confirmed' THEN $4 ELSE client_confirmed_at END,
			reminder_sent_at = CASE WHEN $3 = 'reminded' THEN $4 ELSE reminder_sent_at END,
			actual_start_time = CASE WHEN $3 IN ('in_progress', 'completed') THEN COALESCE(actual_start_time, $4) ELSE actual_start_time END,
			actual_end_time = CASE WHEN $3 = 'completed' THEN $4 ELSE actual_end_time END
		WHERE id = $1 AND organization_id = $2
	`, u.ID, u.OrgID, string(u.Status), u.At, u.UserID, u.Reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetAppointment(ctx context.Context, id, orgID string) (model.AppointmentWithDetails, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+detailColumns+detailJoins+`
		WHERE a.id = $1 AND a.organization_id = $2`, id, orgID)
	d, err := scanDetails(row)
	if err != nil {
		return model.AppointmentWithDetails{}, notFound(err)
	}
	return d, nil
}

func (p *Postgres) GetByDateRange(ctx context.Context, orgID, start, end string, f RangeFilter) ([]model.AppointmentWithDetails, error) {
	query, args := rangeQuery(orgID, start, end, f)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AppointmentWithDetails
	for rows.Next() {
		d, err := scanDetails(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func rangeQuery(orgID, start, end string, f RangeFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + detailColumns + detailJoins + `
		WHERE a.organization_id = $1 AND a.appointment_date BETWEEN $2::date AND $3::date`)
	args := []any{orgID, start, end}
	if f.StaffID != "" {
		args = append(args, f.StaffID)
		fmt.Fprintf(&b, " AND a.staff_id = $%d", len(args))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		fmt.Fprintf(&b, " AND a.customer_id = $%d", len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		fmt.Fprintf(&b, " AND a.status = ANY($%d)", len(args))
	}
	b.WriteString(" ORDER BY a.appointment_date ASC, a.start_time ASC, a.id ASC")
	return b.String(), args
}

// CheckAvailabilityCandidates returns the staff member's occupying appointments on date.
func (p *Postgres) CheckAvailabilityCandidates(ctx context.Context, orgID, staffID, date string) ([]model.SlotCandidate, error) {
	active := make([]string, 0, 6)
	for _, s := range lifecycle.ActiveStatuses() {
		active = append(active, string(s))
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, status, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM appointments
		WHERE organization_id = $1
			AND staff_id = $2
			AND appointment_date = $3::date
			AND status = ANY($4)
		ORDER BY start_time ASC
	`, orgID, staffID, date, active)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SlotCandidate
	for rows.Next() {
		var c model.SlotCandidate
		if err := rows.Scan(&c.AppointmentID, &c.Status, &c.StartTime, &c.EndTime); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (p *Postgres) GetCustomer(ctx context.Context, id, orgID string) (model.Customer, error) {
	var c model.Customer
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, organization_id::text, name, COALESCE(phone, ''), COALESCE(email, ''), is_active
		FROM customers
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(&c.ID, &c.OrgID, &c.Name, &c.Phone, &c.Email, &c.IsActive)
	if err != nil {
		return model.Customer{}, notFound(err)
	}
	return c, nil
}

func (p *Postgres) GetService(ctx context.Context, id, orgID string) (model.Service, error) {
	var s model.Service
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, organization_id::text, name, duration_minutes, buffer_time_minutes,
			COALESCE(price, 0)::float8, requires_approval, is_active
		FROM services
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(&s.ID, &s.OrgID, &s.Name, &s.DurationMinutes, &s.BufferTimeMinutes,
		&s.Price, &s.RequiresApproval, &s.IsActive)
	if err != nil {
		return model.Service{}, notFound(err)
	}
	return s, nil
}

func (p *Postgres) GetStaff(ctx context.Context, id, orgID string) (model.Staff, error) {
	var s model.Staff
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, organization_id::text, name, COALESCE(phone, ''), is_active
		FROM staff
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(&s.ID, &s.OrgID, &s.Name, &s.Phone, &s.IsActive)
	if err != nil {
		return model.Staff{}, notFound(err)
	}
	return s, nil
}
