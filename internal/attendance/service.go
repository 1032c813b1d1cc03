package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write hits a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrStore wraps infrastructure failures; callers should retry.
	ErrStore = errors.New("attendance store unavailable")
	// ErrInvalidRequest marks malformed input.
	ErrInvalidRequest = errors.New("invalid request")
)

// Store is the persistence the service needs.
type Store interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, sess *Session) error
	UpdateSession(ctx context.Context, sess *Session) error
	GetCourse(ctx context.Context, id string) (*Course, error)
	FindStudentByScanCode(ctx context.Context, code string) (*Student, error)
	GetSettings(ctx context.Context) (Settings, error)

	// AcceptedByDevice returns the earliest accepted submission from a device, or nil.
	AcceptedByDevice(ctx context.Context, sessionID, device string) (*Submission, error)
	// AcceptedByStudent returns the student's accepted submission, or nil.
	AcceptedByStudent(ctx context.Context, sessionID, studentID string) (*Submission, error)
	// CountOtherStudentsByDevice counts distinct students other than studentID seen on a device.
	CountOtherStudentsByDevice(ctx context.Context, sessionID, device, studentID string) (int64, error)
	// CountOtherStudentsByIP counts distinct students other than studentID seen from an IP.
	CountOtherStudentsByIP(ctx context.Context, sessionID, ip, studentID string) (int64, error)
	HasSignal(ctx context.Context, sessionID string, typ SignalType, clientIP string) (bool, error)

	// RecordSubmission writes the attempt and its signals atomically.
	RecordSubmission(ctx context.Context, sub *Submission, signals []FraudSignal) error
}

// SubmitRequest is one QR scan as received from a student device.
type SubmitRequest struct {
	SessionID         string
	ScannedID         string
	DeviceFingerprint string
	ClientIP          string
	Geo               *GeoPoint
	At                time.Time
}

// Decision is the validator's verdict. Duplicate re-scans count as accepted.
type Decision struct {
	Outcome    Outcome       `json:"outcome"`
	Reason     Reason        `json:"reason,omitempty"`
	Submission *Submission   `json:"submission,omitempty"`
	Signals    []FraudSignal `json:"signals,omitempty"`
}

// Accepted reports whether the student is marked present.
func (d Decision) Accepted() bool {
	return d.Outcome == OutcomeAccepted || d.Outcome == OutcomeDuplicate
}

// Service coordinates attendance validation and session lifecycle.
type Service struct {
	store Store
	queue queue.Queue
	now   func() time.Time
}

// NewService creates a service backed by a store. q may be nil.
func NewService(store Store, q queue.Queue) *Service {
	return &Service{store: store, queue: q, now: func() time.Time { return time.Now().UTC() }}
}

// Submit validates a scan and records the attempt. Policy rejections come back
// as a Decision; only store failures return an error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Decision, error) {
	started := time.Now()
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ScannedID = strings.TrimSpace(req.ScannedID)
	req.DeviceFingerprint = strings.TrimSpace(req.DeviceFingerprint)
	if req.SessionID == "" || req.ScannedID == "" || req.DeviceFingerprint == "" {
		return Decision{}, fmt.Errorf("%w: session, scanned id and device fingerprint required", ErrInvalidRequest)
	}
	if req.At.IsZero() {
		req.At = s.now()
	}

	dec, err := s.submit(ctx, req)
	if errors.Is(err, ErrConflict) {
		// a concurrent scan won the accepted slot; the second pass sees it
		dec, err = s.submit(ctx, req)
	}
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return Decision{}, fmt.Errorf("%w: %v", ErrStore, err)
		}
		return Decision{}, err
	}

	metrics.ObserveSubmission(string(dec.Outcome), string(dec.Reason), time.Since(started))
	s.publish(ctx, dec.Signals)
	return dec, nil
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (Decision, error) {
	sess, err := s.store.GetSession(ctx, req.SessionID)
	if errors.Is(err, ErrNotFound) {
		return Decision{Outcome: OutcomeRejected, Reason: ReasonSessionNotFound}, nil
	}
	if err != nil {
		return Decision{}, storeErr("load session", err)
	}
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return Decision{}, storeErr("load settings", err)
	}
	student, err := s.store.FindStudentByScanCode(ctx, req.ScannedID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Decision{}, storeErr("resolve student", err)
	}

	sub := &Submission{
		SessionID:         sess.ID,
		ScannedID:         req.ScannedID,
		DeviceFingerprint: req.DeviceFingerprint,
		ClientIP:          req.ClientIP,
		SubmittedAt:       req.At,
	}
	if req.Geo != nil {
		lat, lng := req.Geo.Lat, req.Geo.Lng
		sub.Lat, sub.Lng = &lat, &lng
	}
	var studentID *string
	if student != nil {
		id := student.ID
		studentID = &id
		sub.StudentID = studentID
	}

	if !sess.ActiveAt(req.At, settings.Grace()) {
		sig := s.signal(SignalSessionExpired, sub, studentID, nil,
			fmt.Sprintf("submitted at %s outside window %s to %s", req.At.Format(time.RFC3339),
				sess.StartsAt.Format(time.RFC3339), sess.EndsAt.Format(time.RFC3339)),
			map[string]any{"status": string(sess.Status), "grace_seconds": settings.SubmissionGraceSeconds})
		return s.reject(ctx, sub, ReasonSessionExpired, sig)
	}

	if student == nil {
		return s.reject(ctx, sub, ReasonUnknownStudent)
	}

	prior, err := s.store.AcceptedByDevice(ctx, sess.ID, req.DeviceFingerprint)
	if err != nil {
		return Decision{}, storeErr("device history", err)
	}
	if prior != nil && prior.StudentID != nil && *prior.StudentID != student.ID {
		sig := s.signal(SignalMultipleIDsSameDevice, sub, studentID, prior.StudentID,
			fmt.Sprintf("device already accepted for student %s", *prior.StudentID),
			map[string]any{"first_accepted_submission_id": prior.ID})
		return s.reject(ctx, sub, ReasonMultipleIDs, sig)
	}

	// an accepted student's rescan must not trip caps raised by later attempts
	existing, err := s.store.AcceptedByStudent(ctx, sess.ID, student.ID)
	if err != nil {
		return Decision{}, storeErr("student history", err)
	}
	if existing == nil {
		if dec, done, err := s.checkCaps(ctx, sess, settings, sub, student.ID, studentID); done || err != nil {
			return dec, err
		}
	}

	if center, ok := sess.Center(); ok && settings.GeofencingEnabled && sess.GeoRequired {
		if req.Geo == nil {
			return s.reject(ctx, sub, ReasonGeolocationRequired)
		}
		radius := settings.Radius(*sess)
		if dist := Distance(center, *req.Geo); dist > radius {
			sig := s.signal(SignalOutsideGeofence, sub, studentID, nil,
				fmt.Sprintf("%.0fm from session center, radius %.0fm", dist, radius),
				map[string]any{"distance_meters": dist, "radius_meters": radius})
			return s.reject(ctx, sub, ReasonOutsideGeofence, sig)
		}
	}

	if existing != nil {
		sub.Outcome = OutcomeDuplicate
		if err := s.store.RecordSubmission(ctx, sub, nil); err != nil {
			return Decision{}, storeErr("record duplicate", err)
		}
		return Decision{Outcome: OutcomeDuplicate, Submission: existing}, nil
	}

	sub.Outcome = OutcomeAccepted
	if err := s.store.RecordSubmission(ctx, sub, nil); err != nil {
		if errors.Is(err, ErrConflict) {
			return Decision{}, err
		}
		return Decision{}, storeErr("record accepted", err)
	}
	return Decision{Outcome: OutcomeAccepted, Submission: sub}, nil
}

// checkCaps applies the per-device and per-IP caps. done is true when the
// attempt was rejected and recorded.
func (s *Service) checkCaps(ctx context.Context, sess *Session, settings Settings, sub *Submission, id string, studentID *string) (Decision, bool, error) {
	deviceCount, err := s.store.CountOtherStudentsByDevice(ctx, sess.ID, sub.DeviceFingerprint, id)
	if err != nil {
		return Decision{}, true, storeErr("device count", err)
	}
	if deviceCount >= int64(settings.DeviceLimit(*sess)) {
		dec, err := s.reject(ctx, sub, ReasonDeviceLimit)
		return dec, true, err
	}

	ipCount, err := s.store.CountOtherStudentsByIP(ctx, sess.ID, sub.ClientIP, id)
	if err != nil {
		return Decision{}, true, storeErr("ip count", err)
	}
	if limit := settings.IPLimit(*sess); ipCount >= int64(limit) {
		flagged, err := s.store.HasSignal(ctx, sess.ID, SignalTooManyRequestsSameIP, sub.ClientIP)
		if err != nil {
			return Decision{}, true, storeErr("ip signal lookup", err)
		}
		if flagged {
			dec, err := s.reject(ctx, sub, ReasonIPLimit)
			return dec, true, err
		}
		sig := s.signal(SignalTooManyRequestsSameIP, sub, studentID, nil,
			fmt.Sprintf("ip %s reached %d students in session", sub.ClientIP, limit),
			map[string]any{"limit": limit, "seen": ipCount})
		dec, err := s.reject(ctx, sub, ReasonIPLimit, sig)
		return dec, true, err
	}
	return Decision{}, false, nil
}

func (s *Service) reject(ctx context.Context, sub *Submission, reason Reason, signals ...FraudSignal) (Decision, error) {
	sub.Outcome = OutcomeRejected
	sub.Reason = reason
	if err := s.store.RecordSubmission(ctx, sub, signals); err != nil {
		return Decision{}, storeErr("record rejection", err)
	}
	return Decision{Outcome: OutcomeRejected, Reason: reason, Submission: sub, Signals: signals}, nil
}

func (s *Service) signal(typ SignalType, sub *Submission, flagged, first *string, details string, meta map[string]any) FraudSignal {
	return FraudSignal{
		Type:                   typ,
		SessionID:              sub.SessionID,
		FlaggedStudentID:       flagged,
		FirstAcceptedStudentID: first,
		DeviceID:               sub.DeviceFingerprint,
		ClientIP:               sub.ClientIP,
		Details:                details,
		Metadata:               meta,
		CreatedAt:              s.now(),
	}
}

// publish is best effort; the decision is already durable.
func (s *Service) publish(ctx context.Context, signals []FraudSignal) {
	for _, sig := range signals {
		metrics.ObserveSignal(string(sig.Type))
		if s.queue == nil {
			continue
		}
		body, _ := json.Marshal(struct {
			ID string `json:"id"`
		}{ID: sig.ID})
		if err := s.queue.Publish(ctx, queue.Message{Type: queue.TypeFraudSignal, Body: body}); err != nil {
			log.Printf("fraud signal %s publish failed: %v", sig.ID, err)
		}
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}
