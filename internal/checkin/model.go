// Package checkin implements geofenced attendance verification: tenant
// isolation, time-window checks, geofence checks and the per-participant
// check-in/check-out state machine.
package checkin

import "time"

// Admin is an organization account. Every activity and participant belongs
// to exactly one admin; admins are the tenancy boundary.
type Admin struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Activity is a time- and location-bounded event owned by one admin.
// Coordinates are stored in GCJ-02 as entered and normalized before any
// distance math.
type Activity struct {
	ID           int64     `json:"id"`
	AdminID      int64     `json:"-"`
	Name         string    `json:"name"`
	LocationName string    `json:"location_name"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RadiusMeters int       `json:"radius_meters"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	UniqueCode   string    `json:"unique_code"`
	CreatedAt    time.Time `json:"created_at"`
}

// Participant is identified by (admin, student id); the student id is only
// unique within its tenant. Email is set by verified registration and is
// unique within the tenant once present.
type Participant struct {
	ID        int64     `json:"id"`
	AdminID   int64     `json:"-"`
	StudentID string    `json:"student_id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is one attendance record. At most one exists per (activity,
// participant); check-out fields stay nil until check-out and the record is
// never touched again afterwards.
type Log struct {
	ID            int64      `json:"id"`
	ActivityID    int64      `json:"activity_id"`
	ParticipantID int64      `json:"participant_id"`
	CheckInTime   time.Time  `json:"check_in_time"`
	CheckInLat    float64    `json:"check_in_lat"`
	CheckInLon    float64    `json:"check_in_lon"`
	CheckOutTime  *time.Time `json:"check_out_time,omitempty"`
	CheckOutLat   *float64   `json:"check_out_lat,omitempty"`
	CheckOutLon   *float64   `json:"check_out_lon,omitempty"`
	SessionToken  string     `json:"-"`
}

// CheckedOut reports whether the log has reached its terminal state.
func (l *Log) CheckedOut() bool { return l.CheckOutTime != nil }

// LogEntry is an attendance row joined with participant identity, as shown
// to admins and written to exports.
type LogEntry struct {
	StudentID    string     `json:"student_id"`
	Name         string     `json:"name"`
	CheckInTime  time.Time  `json:"check_in_time"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
}
