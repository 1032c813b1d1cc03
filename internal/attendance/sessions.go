package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrSessionClosed is returned when a closed session is overridden without reopening it.
	ErrSessionClosed = errors.New("session closed")
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
)

var validate = validator.New()

// SessionInput describes a new attendance window.
type SessionInput struct {
	CourseID                string    `json:"course_id" validate:"required"`
	StartsAt                time.Time `json:"starts_at" validate:"required"`
	EndsAt                  time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
	GeofenceLat             *float64  `json:"geofence_lat" validate:"omitempty,latitude"`
	GeofenceLng             *float64  `json:"geofence_lng" validate:"omitempty,longitude"`
	GeofenceRadiusMeters    *float64  `json:"geofence_radius_meters" validate:"omitempty,gt=0"`
	GeoRequired             bool      `json:"geo_required"`
	MaxSubmissionsPerDevice *int      `json:"max_submissions_per_device" validate:"omitempty,min=0"`
	MaxSubmissionsPerIP     *int      `json:"max_submissions_per_ip" validate:"omitempty,min=0"`
}

// OverrideInput is an administrative change to a session.
type OverrideInput struct {
	EndsAt *time.Time `json:"ends_at"`
	Reopen bool       `json:"reopen"`
	Reason string     `json:"reason" validate:"required,max=500"`
}

// Actor identifies the caller of a management operation.
type Actor struct {
	ID   string
	Role string
}

// Admin reports whether the actor holds the admin role.
func (a Actor) Admin() bool { return a.Role == "admin" }

// CreateSession validates input and schedules a session for a course.
// Teachers may only schedule sessions for their own courses.
func (s *Service) CreateSession(ctx context.Context, actor Actor, in SessionInput) (*Session, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if (in.GeofenceLat == nil) != (in.GeofenceLng == nil) {
		return nil, fmt.Errorf("%w: geofence_lat and geofence_lng go together", ErrInvalidRequest)
	}
	if in.GeoRequired && in.GeofenceLat == nil {
		return nil, fmt.Errorf("%w: geo_required needs a geofence center", ErrInvalidRequest)
	}
	course, err := s.store.GetCourse(ctx, strings.TrimSpace(in.CourseID))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown course %s", ErrInvalidRequest, in.CourseID)
	}
	if err != nil {
		return nil, storeErr("load course", err)
	}
	if !actor.Admin() && course.TeacherID != actor.ID {
		return nil, ErrForbidden
	}

	sess := &Session{
		CourseID:                course.ID,
		StartsAt:                in.StartsAt.UTC(),
		EndsAt:                  in.EndsAt.UTC(),
		GeofenceLat:             in.GeofenceLat,
		GeofenceLng:             in.GeofenceLng,
		GeofenceRadiusMeters:    in.GeofenceRadiusMeters,
		GeoRequired:             in.GeoRequired,
		MaxSubmissionsPerDevice: in.MaxSubmissionsPerDevice,
		MaxSubmissionsPerIP:     in.MaxSubmissionsPerIP,
		Status:                  SessionOpen,
		CreatedBy:               actor.ID,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, storeErr("create session", err)
	}
	return sess, nil
}

// CloseSession ends a session early. Closing twice is a no-op.
func (s *Service) CloseSession(ctx context.Context, actor Actor, id string) (*Session, error) {
	sess, err := s.ownedSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == SessionClosed {
		return sess, nil
	}
	now := s.now()
	sess.Status = SessionClosed
	sess.ClosedAt = &now
	if now.Before(sess.EndsAt) {
		sess.EndsAt = now
	}
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, storeErr("close session", err)
	}
	return sess, nil
}

// OverrideSession lets an admin extend or reopen a session, closed or not.
func (s *Service) OverrideSession(ctx context.Context, actor Actor, id string, in OverrideInput) (*Session, error) {
	if !actor.Admin() {
		return nil, ErrForbidden
	}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storeErr("load session", err)
	}
	if sess.Status == SessionClosed && !in.Reopen {
		return nil, fmt.Errorf("%w: set reopen to change it", ErrSessionClosed)
	}
	if in.EndsAt != nil {
		end := in.EndsAt.UTC()
		if !end.After(sess.StartsAt) {
			return nil, fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidRequest)
		}
		sess.EndsAt = end
	}
	if in.Reopen {
		sess.Status = SessionOpen
		sess.ClosedAt = nil
	}
	reason := strings.TrimSpace(in.Reason)
	sess.OverrideReason = &reason
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, storeErr("override session", err)
	}
	return sess, nil
}

func (s *Service) ownedSession(ctx context.Context, actor Actor, id string) (*Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storeErr("load session", err)
	}
	if !actor.Admin() && sess.CreatedBy != actor.ID {
		return nil, ErrForbidden
	}
	return sess, nil
}
