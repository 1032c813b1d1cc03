package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Device is a registered student device, keyed by fingerprint.
type Device struct {
	Fingerprint string    `gorm:"type:varchar(256);primaryKey" json:"fingerprint"`
	FirstSeenAt time.Time `gorm:"not null" json:"first_seen_at"`
	LastSeenAt  time.Time `gorm:"not null" json:"last_seen_at"`
}

func (Device) TableName() string { return "devices" }

// Repository persists attendance data through gorm.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repo.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates tables, the partial unique indexes that guard accepted
// submissions, and the settings row.
func (r *Repository) Migrate(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if err := db.AutoMigrate(&Device{}, &Student{}, &Course{}, &Session{}, &Submission{}, &FraudSignal{}, &Settings{}); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_submissions_accepted_student
			ON attendance_submissions (session_id, student_id) WHERE outcome = 'accepted'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_submissions_accepted_device
			ON attendance_submissions (session_id, device_fingerprint) WHERE outcome = 'accepted'`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	defaults := DefaultSettings()
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error
}

// UpsertDevice ensures a device record exists and refreshes its last-seen time.
func (r *Repository) UpsertDevice(ctx context.Context, fingerprint string) error {
	if fingerprint == "" {
		return errors.New("device fingerprint required")
	}
	now := time.Now().UTC()
	dev := Device{Fingerprint: fingerprint, FirstSeenAt: now, LastSeenAt: now}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at"}),
	}).Create(&dev).Error
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := r.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &sess, nil
}

// CreateSession inserts a new session.
func (r *Repository) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	return translate(r.db.WithContext(ctx).Create(sess).Error)
}

// UpdateSession saves every column of an existing session.
func (r *Repository) UpdateSession(ctx context.Context, sess *Session) error {
	return translate(r.db.WithContext(ctx).Save(sess).Error)
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	CourseID  string
	CreatedBy string
	ActiveAt  *time.Time
	Limit     int
	Offset    int
}

// ListSessions returns sessions newest first.
func (r *Repository) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	q := r.db.WithContext(ctx).Model(&Session{})
	if f.CourseID != "" {
		q = q.Where("course_id = ?", f.CourseID)
	}
	if f.CreatedBy != "" {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if f.ActiveAt != nil {
		q = q.Where("status = ? AND starts_at <= ? AND ends_at >= ?", SessionOpen, *f.ActiveAt, *f.ActiveAt)
	}
	var out []Session
	err := q.Order("starts_at DESC").Limit(limitOr(f.Limit)).Offset(max(f.Offset, 0)).Find(&out).Error
	return out, err
}

// GetCourse returns a course by id.
func (r *Repository) GetCourse(ctx context.Context, id string) (*Course, error) {
	var c Course
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// CreateCourse inserts a course; duplicate codes yield ErrConflict.
func (r *Repository) CreateCourse(ctx context.Context, c *Course) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return translate(r.db.WithContext(ctx).Create(c).Error)
}

// ListCourses returns courses ordered by code, optionally for one teacher.
func (r *Repository) ListCourses(ctx context.Context, teacherID string) ([]Course, error) {
	q := r.db.WithContext(ctx).Model(&Course{})
	if teacherID != "" {
		q = q.Where("teacher_id = ?", teacherID)
	}
	var out []Course
	return out, q.Order("code").Find(&out).Error
}

// CreateStudent inserts a roster entry; duplicate scan codes yield ErrConflict.
func (r *Repository) CreateStudent(ctx context.Context, st *Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	return translate(r.db.WithContext(ctx).Create(st).Error)
}

// ListStudents returns students ordered by name.
func (r *Repository) ListStudents(ctx context.Context, limit, offset int) ([]Student, error) {
	var out []Student
	err := r.db.WithContext(ctx).Order("name").Limit(limitOr(limit)).Offset(max(offset, 0)).Find(&out).Error
	return out, err
}

// FindStudentByScanCode resolves the value read from a QR code.
func (r *Repository) FindStudentByScanCode(ctx context.Context, code string) (*Student, error) {
	var st Student
	if err := r.db.WithContext(ctx).First(&st, "scan_code = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &st, nil
}

// GetSettings returns the system settings, or the defaults before Migrate ran.
func (r *Repository) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := r.db.WithContext(ctx).First(&s, settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSettings(), nil
	}
	return s, err
}

// UpdateSettings overwrites the settings row.
func (r *Repository) UpdateSettings(ctx context.Context, s *Settings) error {
	s.ID = settingsRowID
	return r.db.WithContext(ctx).Save(s).Error
}

// AcceptedByDevice returns the earliest accepted submission from a device.
func (r *Repository) AcceptedByDevice(ctx context.Context, sessionID, device string) (*Submission, error) {
	return r.firstSubmission(ctx, "session_id = ? AND device_fingerprint = ? AND outcome = ?", sessionID, device, OutcomeAccepted)
}

// AcceptedByStudent returns the student's accepted submission.
func (r *Repository) AcceptedByStudent(ctx context.Context, sessionID, studentID string) (*Submission, error) {
	return r.firstSubmission(ctx, "session_id = ? AND student_id = ? AND outcome = ?", sessionID, studentID, OutcomeAccepted)
}

func (r *Repository) firstSubmission(ctx context.Context, where string, args ...any) (*Submission, error) {
	var sub Submission
	err := r.db.WithContext(ctx).Where(where, args...).Order("submitted_at ASC").First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CountOtherStudentsByDevice counts distinct other students that used a device in a session.
func (r *Repository) CountOtherStudentsByDevice(ctx context.Context, sessionID, device, studentID string) (int64, error) {
	return r.countOtherStudents(ctx, "device_fingerprint", sessionID, device, studentID)
}

// CountOtherStudentsByIP counts distinct other students that submitted from an IP in a session.
func (r *Repository) CountOtherStudentsByIP(ctx context.Context, sessionID, ip, studentID string) (int64, error) {
	return r.countOtherStudents(ctx, "client_ip", sessionID, ip, studentID)
}

func (r *Repository) countOtherStudents(ctx context.Context, column, sessionID, value, studentID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Submission{}).
		Where("session_id = ? AND "+column+" = ? AND student_id IS NOT NULL AND student_id <> ?", sessionID, value, studentID).
		Distinct("student_id").
		Count(&n).Error
	return n, err
}

// HasSignal reports whether a signal of this type already exists for the session and IP.
func (r *Repository) HasSignal(ctx context.Context, sessionID string, typ SignalType, clientIP string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&FraudSignal{}).
		Where("session_id = ? AND type = ? AND client_ip = ?", sessionID, typ, clientIP).
		Limit(1).Count(&n).Error
	return n > 0, err
}

// RecordSubmission writes the attempt and its fraud signals in one transaction.
// Ids are assigned in place.
func (r *Repository) RecordSubmission(ctx context.Context, sub *Submission, signals []FraudSignal) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	for i := range signals {
		if signals[i].ID == "" {
			signals[i].ID = uuid.NewString()
		}
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		if len(signals) > 0 {
			return tx.Create(&signals).Error
		}
		return nil
	})
	return translate(err)
}

// ListSubmissions returns a session's attempts in submission order.
func (r *Repository) ListSubmissions(ctx context.Context, sessionID string, outcome Outcome, limit, offset int) ([]Submission, error) {
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if outcome != "" {
		q = q.Where("outcome = ?", outcome)
	}
	var out []Submission
	err := q.Order("submitted_at ASC").Limit(limitOr(limit)).Offset(max(offset, 0)).Find(&out).Error
	return out, err
}

// SignalFilter narrows ListFraudSignals.
type SignalFilter struct {
	SessionID string
	Type      SignalType
	Limit     int
	Offset    int
}

// ListFraudSignals returns fraud signals newest first.
func (r *Repository) ListFraudSignals(ctx context.Context, f SignalFilter) ([]FraudSignal, error) {
	q := r.db.WithContext(ctx).Model(&FraudSignal{})
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	var out []FraudSignal
	err := q.Order("created_at DESC").Limit(limitOr(f.Limit)).Offset(max(f.Offset, 0)).Find(&out).Error
	return out, err
}

// GetFraudSignal returns one signal by id.
func (r *Repository) GetFraudSignal(ctx context.Context, id string) (*FraudSignal, error) {
	var sig FraudSignal
	if err := r.db.WithContext(ctx).First(&sig, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &sig, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	}
	return err
}

func limitOr(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
