package attendance

import (
	"time"

	"gorm.io/datatypes"
)

// SessionStatus tracks whether a session still takes submissions.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Outcome is the persisted result of one scan attempt.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
)

// SignalType enumerates the fraud signals the validator emits.
type SignalType string

const (
	SignalMultipleIDsSameDevice SignalType = "multiple_ids_same_device"
	SignalTooManyRequestsSameIP SignalType = "too_many_requests_same_ip"
	SignalOutsideGeofence       SignalType = "outside_geofence"
	SignalSessionExpired        SignalType = "session_expired_submission"
	SignalOther                 SignalType = "other"
)

// Valid reports whether t is one of the known signal types.
func (t SignalType) Valid() bool {
	switch t {
	case SignalMultipleIDsSameDevice, SignalTooManyRequestsSameIP, SignalOutsideGeofence, SignalSessionExpired, SignalOther:
		return true
	}
	return false
}

// Reason is the rejection code returned to callers.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonSessionNotFound     Reason = "session_not_found"
	ReasonSessionExpired      Reason = "session_expired_submission"
	ReasonUnknownStudent      Reason = "unknown_student"
	ReasonMultipleIDs         Reason = "multiple_ids_same_device"
	ReasonDeviceLimit         Reason = "device_limit_reached"
	ReasonIPLimit             Reason = "ip_limit_reached"
	ReasonGeolocationRequired Reason = "geolocation_required"
	ReasonOutsideGeofence     Reason = "outside_geofence"
)

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Student is a roster entry; ScanCode is the value printed in the student's QR code.
type Student struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ScanCode  string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"scan_code"`
	Name      string    `gorm:"type:varchar(160);not null" json:"name"`
	Email     *string   `gorm:"type:varchar(255)" json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Student) TableName() string { return "students" }

// Course groups sessions under one teacher.
type Course struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Code      string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Name      string    `gorm:"type:varchar(160);not null" json:"name"`
	TeacherID string    `gorm:"type:varchar(128);not null;index" json:"teacher_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Course) TableName() string { return "courses" }

// Session is a scheduled attendance window for a course.
// Nil caps and radius fall back to SystemSettings at submission time.
type Session struct {
	ID                      string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	CourseID                string        `gorm:"type:varchar(36);not null;index" json:"course_id"`
	StartsAt                time.Time     `gorm:"not null" json:"starts_at"`
	EndsAt                  time.Time     `gorm:"not null" json:"ends_at"`
	GeofenceLat             *float64      `json:"geofence_lat,omitempty"`
	GeofenceLng             *float64      `json:"geofence_lng,omitempty"`
	GeofenceRadiusMeters    *float64      `json:"geofence_radius_meters,omitempty"`
	GeoRequired             bool          `gorm:"not null" json:"geo_required"`
	MaxSubmissionsPerDevice *int          `json:"max_submissions_per_device,omitempty"`
	MaxSubmissionsPerIP     *int          `json:"max_submissions_per_ip,omitempty"`
	Status                  SessionStatus `gorm:"type:varchar(16);not null" json:"status"`
	CreatedBy               string        `gorm:"type:varchar(128);not null" json:"created_by"`
	ClosedAt                *time.Time    `json:"closed_at,omitempty"`
	OverrideReason          *string       `gorm:"type:text" json:"override_reason,omitempty"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Center returns the geofence center, if one is configured.
func (s Session) Center() (GeoPoint, bool) {
	if s.GeofenceLat == nil || s.GeofenceLng == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Lat: *s.GeofenceLat, Lng: *s.GeofenceLng}, true
}

// ActiveAt reports whether at falls inside [start-grace, end+grace] of an open session.
func (s Session) ActiveAt(at time.Time, grace time.Duration) bool {
	if s.Status == SessionClosed {
		return false
	}
	return !at.Before(s.StartsAt.Add(-grace)) && !at.After(s.EndsAt.Add(grace))
}

// Submission is one append-only scan attempt.
type Submission struct {
	ID                string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID         string    `gorm:"type:varchar(36);not null;index:idx_submissions_session_device,priority:1;index:idx_submissions_session_ip,priority:1" json:"session_id"`
	StudentID         *string   `gorm:"type:varchar(36);index" json:"student_id,omitempty"`
	ScannedID         string    `gorm:"type:varchar(128);not null" json:"scanned_id"`
	DeviceFingerprint string    `gorm:"type:varchar(256);not null;index:idx_submissions_session_device,priority:2" json:"device_fingerprint"`
	ClientIP          string    `gorm:"type:varchar(64);not null;index:idx_submissions_session_ip,priority:2" json:"client_ip"`
	Lat               *float64  `json:"lat,omitempty"`
	Lng               *float64  `json:"lng,omitempty"`
	SubmittedAt       time.Time `gorm:"not null" json:"submitted_at"`
	Outcome           Outcome   `gorm:"type:varchar(16);not null" json:"outcome"`
	Reason            Reason    `gorm:"type:varchar(48)" json:"reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func (Submission) TableName() string { return "attendance_submissions" }

// FraudSignal is an append-only audit record of a suspicious submission.
type FraudSignal struct {
	ID                     string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type                   SignalType        `gorm:"type:varchar(48);not null;index" json:"type"`
	SessionID              string            `gorm:"type:varchar(36);not null;index" json:"session_id"`
	FlaggedStudentID       *string           `gorm:"type:varchar(36)" json:"flagged_student_id,omitempty"`
	FirstAcceptedStudentID *string           `gorm:"type:varchar(36)" json:"first_accepted_student_id,omitempty"`
	DeviceID               string            `gorm:"type:varchar(256)" json:"device_id"`
	ClientIP               string            `gorm:"type:varchar(64)" json:"client_ip"`
	Details                string            `gorm:"type:text" json:"details"`
	Metadata               datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
}

func (FraudSignal) TableName() string { return "fraud_signals" }

// Settings is the single row of system-wide defaults.
type Settings struct {
	ID                                uint      `gorm:"primaryKey" json:"-"`
	MaxSubmissionsPerDevicePerSession int       `gorm:"not null" json:"max_submissions_per_device_per_session"`
	MaxSubmissionsPerIPPerSession     int       `gorm:"not null" json:"max_submissions_per_ip_per_session"`
	GeofenceRadiusMeters              float64   `gorm:"not null" json:"geofence_radius_meters"`
	GeofencingEnabled                 bool      `gorm:"not null" json:"geofencing_enabled"`
	OfflineRetriesAllowed             int       `gorm:"not null" json:"offline_retries_allowed"`
	SubmissionGraceSeconds            int       `gorm:"not null" json:"submission_grace_seconds"`
	UpdatedAt                         time.Time `json:"updated_at"`
}

func (Settings) TableName() string { return "system_settings" }

// settingsRowID is the primary key of the only Settings row.
const settingsRowID = 1

// DefaultSettings returns the values a fresh install starts with.
func DefaultSettings() Settings {
	return Settings{
		ID:                                settingsRowID,
		MaxSubmissionsPerDevicePerSession: 1,
		MaxSubmissionsPerIPPerSession:     200,
		GeofenceRadiusMeters:              300,
		GeofencingEnabled:                 false,
		OfflineRetriesAllowed:             3,
		SubmissionGraceSeconds:            0,
	}
}

// Grace is the tolerance applied to both ends of a session window.
func (s Settings) Grace() time.Duration {
	return time.Duration(s.SubmissionGraceSeconds) * time.Second
}

// DeviceLimit resolves the effective per-device cap for a session.
func (s Settings) DeviceLimit(sess Session) int {
	if sess.MaxSubmissionsPerDevice != nil {
		return *sess.MaxSubmissionsPerDevice
	}
	return s.MaxSubmissionsPerDevicePerSession
}

// IPLimit resolves the effective per-IP cap for a session.
func (s Settings) IPLimit(sess Session) int {
	if sess.MaxSubmissionsPerIP != nil {
		return *sess.MaxSubmissionsPerIP
	}
	return s.MaxSubmissionsPerIPPerSession
}

// Radius resolves the effective geofence radius for a session.
func (s Settings) Radius(sess Session) float64 {
	if sess.GeofenceRadiusMeters != nil {
		return *sess.GeofenceRadiusMeters
	}
	return s.GeofenceRadiusMeters
}
