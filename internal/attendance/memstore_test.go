package attendance

import (
	"context"
	"fmt"
	"sync"
)

// memStore is an in-memory Store that enforces the same accepted-row
// uniqueness as the SQL indexes.
type memStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	courses     map[string]*Course
	students    map[string]*Student
	settings    Settings
	submissions []Submission
	signals     []FraudSignal
	seq         int

	failRecord error
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[string]*Session{},
		courses:  map[string]*Course{},
		students: map[string]*Student{},
		settings: DefaultSettings(),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addStudent(id, code string) {
	m.students[code] = &Student{ID: id, ScanCode: code, Name: id}
}

func (m *memStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) CreateSession(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.ID == "" {
		sess.ID = m.nextID("sess")
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memStore) UpdateSession(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memStore) GetCourse(_ context.Context, id string) (*Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) FindStudentByScanCode(_ context.Context, code string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *memStore) GetSettings(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *memStore) AcceptedByDevice(_ context.Context, sessionID, device string) (*Submission, error) {
	return m.find(func(s Submission) bool {
		return s.SessionID == sessionID && s.DeviceFingerprint == device && s.Outcome == OutcomeAccepted
	}), nil
}

func (m *memStore) AcceptedByStudent(_ context.Context, sessionID, studentID string) (*Submission, error) {
	return m.find(func(s Submission) bool {
		return s.SessionID == sessionID && s.StudentID != nil && *s.StudentID == studentID && s.Outcome == OutcomeAccepted
	}), nil
}

func (m *memStore) find(match func(Submission) bool) *Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.submissions {
		if match(s) {
			cp := s
			return &cp
		}
	}
	return nil
}

func (m *memStore) CountOtherStudentsByDevice(_ context.Context, sessionID, device, studentID string) (int64, error) {
	return m.distinctOthers(sessionID, studentID, func(s Submission) bool { return s.DeviceFingerprint == device }), nil
}

func (m *memStore) CountOtherStudentsByIP(_ context.Context, sessionID, ip, studentID string) (int64, error) {
	return m.distinctOthers(sessionID, studentID, func(s Submission) bool { return s.ClientIP == ip }), nil
}

func (m *memStore) distinctOthers(sessionID, studentID string, match func(Submission) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, s := range m.submissions {
		if s.SessionID != sessionID || s.StudentID == nil || *s.StudentID == studentID || !match(s) {
			continue
		}
		seen[*s.StudentID] = true
	}
	return int64(len(seen))
}

func (m *memStore) HasSignal(_ context.Context, sessionID string, typ SignalType, clientIP string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sig := range m.signals {
		if sig.SessionID == sessionID && sig.Type == typ && sig.ClientIP == clientIP {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RecordSubmission(_ context.Context, sub *Submission, signals []FraudSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		return m.failRecord
	}
	if sub.Outcome == OutcomeAccepted {
		for _, s := range m.submissions {
			if s.SessionID != sub.SessionID || s.Outcome != OutcomeAccepted {
				continue
			}
			if s.DeviceFingerprint == sub.DeviceFingerprint || (s.StudentID != nil && sub.StudentID != nil && *s.StudentID == *sub.StudentID) {
				return ErrConflict
			}
		}
	}
	if sub.ID == "" {
		sub.ID = m.nextID("sub")
	}
	for i := range signals {
		if signals[i].ID == "" {
			signals[i].ID = m.nextID("sig")
		}
	}
	m.submissions = append(m.submissions, *sub)
	m.signals = append(m.signals, signals...)
	return nil
}

func (m *memStore) acceptedCount(sessionID, studentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.submissions {
		if s.SessionID == sessionID && s.Outcome == OutcomeAccepted && s.StudentID != nil && *s.StudentID == studentID {
			n++
		}
	}
	return n
}

func (m *memStore) signalsOf(typ SignalType) []FraudSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FraudSignal
	for _, s := range m.signals {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}
