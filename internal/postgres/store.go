// Package postgres implements the persistence collaborators over Postgres
// using hand-written SQL through database/sql and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Haven-Lv/students-checkin-sytem/internal/checkin"
)

// Store persists admins, activities, participants and attendance logs.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ checkin.Store = (*Store)(nil)

// mapErr translates driver errors into the domain sentinels. Unique
// violations (23505) become ErrDuplicate so callers can resolve races;
// everything else passes through.
func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return checkin.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return checkin.ErrDuplicate
	}
	return err
}

// ---------- Admins ----------

// AdminByUsername returns the admin account for login verification.
func (s *Store) AdminByUsername(ctx context.Context, username string) (*checkin.Admin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM admins WHERE username = $1
	`, username)
	var a checkin.Admin
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// CreateAdmin inserts a new admin account.
func (s *Store) CreateAdmin(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admins (username, password_hash)
		VALUES ($1, $2)
	`, username, passwordHash)
	return mapErr(err)
}

// ---------- Activities ----------

const activityColumns = `id, admin_id, name, location_name, latitude, longitude, radius_meters, start_time, end_time, unique_code, created_at`

func scanActivity(row interface{ Scan(...any) error }) (*checkin.Activity, error) {
	var a checkin.Activity
	err := row.Scan(&a.ID, &a.AdminID, &a.Name, &a.LocationName, &a.Latitude, &a.Longitude,
		&a.RadiusMeters, &a.StartTime, &a.EndTime, &a.UniqueCode, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// CreateActivity inserts an activity and fills its id and created_at.
func (s *Store) CreateActivity(ctx context.Context, a *checkin.Activity) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO activities (admin_id, name, location_name, latitude, longitude, radius_meters, start_time, end_time, unique_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at
	`, a.AdminID, a.Name, a.LocationName, a.Latitude, a.Longitude, a.RadiusMeters, a.StartTime, a.EndTime, a.UniqueCode)
	return mapErr(row.Scan(&a.ID, &a.CreatedAt))
}

// ActivityByCode looks an activity up by its opaque check-in code. Codes are
// globally unique so no tenant scope applies here.
func (s *Store) ActivityByCode(ctx context.Context, code string) (*checkin.Activity, error) {
	return scanActivity(s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE unique_code = $1`, code))
}

// ActivityByID looks an activity up by primary key.
func (s *Store) ActivityByID(ctx context.Context, id int64) (*checkin.Activity, error) {
	return scanActivity(s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = $1`, id))
}

// ActivitiesByAdmin lists the admin's activities, newest first.
func (s *Store) ActivitiesByAdmin(ctx context.Context, adminID int64) ([]checkin.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE admin_id = $1 ORDER BY created_at DESC`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []checkin.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateActivity rewrites the mutable activity fields (window, location,
// radius) for the given activity.
func (s *Store) UpdateActivity(ctx context.Context, a *checkin.Activity) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE activities
		SET name = $2, location_name = $3, latitude = $4, longitude = $5,
		    radius_meters = $6, start_time = $7, end_time = $8
		WHERE id = $1
	`, a.ID, a.Name, a.LocationName, a.Latitude, a.Longitude, a.RadiusMeters, a.StartTime, a.EndTime)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return checkin.ErrNotFound
	}
	return nil
}

// DeleteActivity removes an activity and all of its attendance logs as one
// transaction. Hard delete, no tombstones.
func (s *Store) DeleteActivity(ctx context.Context, activityID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM check_logs WHERE activity_id = $1`, activityID); err != nil {
		return mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id = $1`, activityID); err != nil {
		return mapErr(err)
	}
	return tx.Commit()
}

// ActivityLogs returns the activity's attendance joined with participant
// identity, ordered by check-in time.
func (s *Store) ActivityLogs(ctx context.Context, activityID int64) ([]checkin.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.student_id, p.name, cl.check_in_time, cl.check_out_time
		FROM check_logs cl
		JOIN participants p ON p.id = cl.participant_id
		WHERE cl.activity_id = $1
		ORDER BY cl.check_in_time
	`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []checkin.LogEntry
	for rows.Next() {
		var e checkin.LogEntry
		if err := rows.Scan(&e.StudentID, &e.Name, &e.CheckInTime, &e.CheckOutTime); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---------- Participants ----------

const participantColumns = `id, admin_id, student_id, name, email, created_at`

func scanParticipant(row interface{ Scan(...any) error }) (*checkin.Participant, error) {
	var p checkin.Participant
	if err := row.Scan(&p.ID, &p.AdminID, &p.StudentID, &p.Name, &p.Email, &p.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// Participant looks up by the tenant-scoped (admin, student id) key.
func (s *Store) Participant(ctx context.Context, adminID int64, studentID string) (*checkin.Participant, error) {
	return scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE admin_id = $1 AND student_id = $2`,
		adminID, studentID))
}

// ParticipantByEmail looks up by the tenant-scoped email.
func (s *Store) ParticipantByEmail(ctx context.Context, adminID int64, email string) (*checkin.Participant, error) {
	return scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE admin_id = $1 AND email = $2`,
		adminID, email))
}

// CreateParticipant inserts a participant; the (admin_id, student_id) and
// (admin_id, email) unique constraints turn races into ErrDuplicate.
func (s *Store) CreateParticipant(ctx context.Context, p *checkin.Participant) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO participants (admin_id, student_id, name, email)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at
	`, p.AdminID, p.StudentID, p.Name, p.Email)
	return mapErr(row.Scan(&p.ID, &p.CreatedAt))
}

// ---------- Attendance logs ----------

const logColumns = `id, activity_id, participant_id, check_in_time, check_in_lat, check_in_lon, check_out_time, check_out_lat, check_out_lon, session_token`

func scanLog(row interface{ Scan(...any) error }) (*checkin.Log, error) {
	var l checkin.Log
	err := row.Scan(&l.ID, &l.ActivityID, &l.ParticipantID, &l.CheckInTime, &l.CheckInLat, &l.CheckInLon,
		&l.CheckOutTime, &l.CheckOutLat, &l.CheckOutLon, &l.SessionToken)
	if err != nil {
		return nil, mapErr(err)
	}
	return &l, nil
}

// Log returns the single log for an (activity, participant) pair.
func (s *Store) Log(ctx context.Context, activityID, participantID int64) (*checkin.Log, error) {
	return scanLog(s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM check_logs WHERE activity_id = $1 AND participant_id = $2`,
		activityID, participantID))
}

// LogBySessionToken resolves the legacy check-out credential.
func (s *Store) LogBySessionToken(ctx context.Context, token string) (*checkin.Log, error) {
	return scanLog(s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM check_logs WHERE session_token = $1`, token))
}

// OpenLog returns the participant's log that has not been checked out yet.
func (s *Store) OpenLog(ctx context.Context, participantID int64) (*checkin.Log, error) {
	return scanLog(s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM check_logs WHERE participant_id = $1 AND check_out_time IS NULL LIMIT 1`,
		participantID))
}

// CreateLog inserts a fresh check-in. The unique (activity_id,
// participant_id) constraint is what makes concurrent first check-ins safe.
func (s *Store) CreateLog(ctx context.Context, l *checkin.Log) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO check_logs (activity_id, participant_id, check_in_time, check_in_lat, check_in_lon, session_token)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, l.ActivityID, l.ParticipantID, l.CheckInTime, l.CheckInLat, l.CheckInLon, l.SessionToken)
	return mapErr(row.Scan(&l.ID))
}

// CloseLog records the terminal check-out transition. Only an open log is
// touched; closing an already-closed log reports ErrNotFound so the caller
// can re-read and classify.
func (s *Store) CloseLog(ctx context.Context, logID int64, at time.Time, lat, lon float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE check_logs
		SET check_out_time = $2, check_out_lat = $3, check_out_lon = $4
		WHERE id = $1 AND check_out_time IS NULL
	`, logID, at, lat, lon)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return checkin.ErrNotFound
	}
	return nil
}

// Ping verifies connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.PingContext(ctx)
}
