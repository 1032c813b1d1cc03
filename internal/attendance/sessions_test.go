package attendance

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	teacher      = Actor{ID: "teacher-1", Role: "teacher"}
	otherTeacher = Actor{ID: "teacher-2", Role: "teacher"}
	admin        = Actor{ID: "admin-1", Role: "admin"}
)

func TestCreateSession(t *testing.T) {
	svc, st := fixture(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, teacher, SessionInput{
		CourseID:    "c1",
		StartsAt:    at(60),
		EndsAt:      at(75),
		GeofenceLat: ptr(12.9716),
		GeofenceLng: ptr(77.5946),
		GeoRequired: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" || sess.Status != SessionOpen || sess.CreatedBy != "teacher-1" {
		t.Fatalf("session = %+v", sess)
	}
	if _, ok := st.sessions[sess.ID]; !ok {
		t.Fatal("session not stored")
	}
	if got := st.settings.Radius(*sess); got != 300 {
		t.Fatalf("radius fallback = %v", got)
	}
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	tests := map[string]SessionInput{
		"end before start":  {CourseID: "c1", StartsAt: at(10), EndsAt: at(5)},
		"missing course":    {StartsAt: at(0), EndsAt: at(5)},
		"unknown course":    {CourseID: "nope", StartsAt: at(0), EndsAt: at(5)},
		"lat without lng":   {CourseID: "c1", StartsAt: at(0), EndsAt: at(5), GeofenceLat: ptr(1.0)},
		"latitude range":    {CourseID: "c1", StartsAt: at(0), EndsAt: at(5), GeofenceLat: ptr(91.0), GeofenceLng: ptr(0.0)},
		"negative radius":   {CourseID: "c1", StartsAt: at(0), EndsAt: at(5), GeofenceRadiusMeters: ptr(-3.0)},
		"geo without fence": {CourseID: "c1", StartsAt: at(0), EndsAt: at(5), GeoRequired: true},
		"negative cap":      {CourseID: "c1", StartsAt: at(0), EndsAt: at(5), MaxSubmissionsPerIP: ptr(-1)},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			svc, _ := fixture(t)
			if _, err := svc.CreateSession(context.Background(), admin, in); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestCreateSessionForeignCourse(t *testing.T) {
	svc, _ := fixture(t)
	_, err := svc.CreateSession(context.Background(), otherTeacher, SessionInput{CourseID: "c1", StartsAt: at(0), EndsAt: at(5)})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
}

func TestCloseSession(t *testing.T) {
	svc, st := fixture(t)
	svc.now = func() time.Time { return at(7) }
	ctx := context.Background()

	if _, err := svc.CloseSession(ctx, otherTeacher, "s1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign close err = %v", err)
	}
	sess, err := svc.CloseSession(ctx, teacher, "s1")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if sess.Status != SessionClosed || !sess.EndsAt.Equal(at(7)) || sess.ClosedAt == nil {
		t.Fatalf("closed session = %+v", sess)
	}
	if st.sessions["s1"].Status != SessionClosed {
		t.Fatal("close not persisted")
	}
	if _, err := svc.CloseSession(ctx, teacher, "s1"); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := svc.CloseSession(ctx, teacher, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestOverrideSession(t *testing.T) {
	svc, _ := fixture(t)
	svc.now = func() time.Time { return at(7) }
	ctx := context.Background()
	if _, err := svc.CloseSession(ctx, teacher, "s1"); err != nil {
		t.Fatal(err)
	}

	newEnd := at(30)
	in := OverrideInput{EndsAt: &newEnd, Reason: "network outage in lab"}
	if _, err := svc.OverrideSession(ctx, teacher, "s1", in); !errors.Is(err, ErrForbidden) {
		t.Fatalf("teacher override err = %v", err)
	}
	if _, err := svc.OverrideSession(ctx, admin, "s1", in); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("override without reopen err = %v", err)
	}
	if _, err := svc.OverrideSession(ctx, admin, "s1", OverrideInput{Reopen: true}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("override without reason err = %v", err)
	}

	in.Reopen = true
	sess, err := svc.OverrideSession(ctx, admin, "s1", in)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if sess.Status != SessionOpen || sess.ClosedAt != nil || !sess.EndsAt.Equal(newEnd) {
		t.Fatalf("overridden = %+v", sess)
	}
	if sess.OverrideReason == nil || *sess.OverrideReason != "network outage in lab" {
		t.Fatalf("reason = %v", sess.OverrideReason)
	}

	dec := mustSubmit(t, svc, scan("A", "dev-1", "10.0.0.1", at(20)))
	if dec.Outcome != OutcomeAccepted {
		t.Fatalf("submit after reopen: %+v", dec)
	}
}
