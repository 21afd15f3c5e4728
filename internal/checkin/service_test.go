package checkin

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Haven-Lv/students-checkin-sytem/internal/geo"
)

// fakeStore is an in-memory Store with the same tenant-scoping and
// uniqueness semantics the Postgres implementation enforces.
type fakeStore struct {
	mu           sync.Mutex
	activities   []*Activity
	participants []*Participant
	logs         []*Log
	nextID       int64

	createLogErr          error // forced error for race simulations
	participantRaceWinner *Participant
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) ActivityByCode(_ context.Context, code string) (*Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.activities {
		if a.UniqueCode == code {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) ActivityByID(_ context.Context, id int64) (*Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.activities {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) Participant(_ context.Context, adminID int64, studentID string) (*Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.AdminID == adminID && p.StudentID == studentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) ParticipantByEmail(_ context.Context, adminID int64, email string) (*Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.AdminID == adminID && p.Email != nil && *p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) CreateParticipant(_ context.Context, p *Participant) error {
	if f.participantRaceWinner != nil {
		// Simulate losing a concurrent create: the other request's row
		// lands and this insert hits the unique constraint.
		f.mu.Lock()
		f.participants = append(f.participants, f.participantRaceWinner)
		f.participantRaceWinner = nil
		f.mu.Unlock()
		return ErrDuplicate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.participants {
		if ex.AdminID == p.AdminID && ex.StudentID == p.StudentID {
			return ErrDuplicate
		}
		if ex.AdminID == p.AdminID && ex.Email != nil && p.Email != nil && *ex.Email == *p.Email {
			return ErrDuplicate
		}
	}
	p.ID = f.id()
	cp := *p
	f.participants = append(f.participants, &cp)
	return nil
}

func (f *fakeStore) Log(_ context.Context, activityID, participantID int64) (*Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.ActivityID == activityID && l.ParticipantID == participantID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) LogBySessionToken(_ context.Context, token string) (*Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.SessionToken == token {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) OpenLog(_ context.Context, participantID int64) (*Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.ParticipantID == participantID && l.CheckOutTime == nil {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) CreateLog(_ context.Context, l *Log) error {
	if f.createLogErr != nil {
		return f.createLogErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.logs {
		if ex.ActivityID == l.ActivityID && ex.ParticipantID == l.ParticipantID {
			return ErrDuplicate
		}
	}
	l.ID = f.id()
	cp := *l
	f.logs = append(f.logs, &cp)
	return nil
}

func (f *fakeStore) CloseLog(_ context.Context, logID int64, at time.Time, lat, lon float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.ID == logID {
			l.CheckOutTime = &at
			l.CheckOutLat = &lat
			l.CheckOutLon = &lon
			return nil
		}
	}
	return ErrNotFound
}

type fakeCodes struct {
	saved map[string]string
}

func newFakeCodes() *fakeCodes { return &fakeCodes{saved: map[string]string{}} }

func (f *fakeCodes) Save(_ context.Context, email, code string, _ time.Duration) error {
	f.saved[email] = code
	return nil
}

func (f *fakeCodes) Consume(_ context.Context, email, code string) (bool, error) {
	if f.saved[email] == code && code != "" {
		delete(f.saved, email)
		return true, nil
	}
	return false, nil
}

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) SendVerificationCode(_ context.Context, to, code string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+":"+code)
	return nil
}

// Morning Assembly fixture from a point in Shanghai, radius 50m,
// window 09:00-09:30.
var (
	assemblyStart = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	assemblyEnd   = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
)

func newAssembly(adminID int64) *Activity {
	return &Activity{
		ID:           1,
		AdminID:      adminID,
		Name:         "Morning Assembly",
		LocationName: "Main Field",
		Latitude:     31.2304,
		Longitude:    121.4737,
		RadiusMeters: 50,
		StartTime:    assemblyStart,
		EndTime:      assemblyEnd,
		UniqueCode:   "code-assembly",
	}
}

// pointAtMeters returns a coordinate roughly d meters north of the activity.
func pointAtMeters(act *Activity, d float64) (float64, float64) {
	return act.Latitude + d/111195.0, act.Longitude
}

func newTestService(store *fakeStore) (*Service, *fakeCodes, *fakeMailer) {
	codes := newFakeCodes()
	mailer := &fakeMailer{}
	svc := NewService(store, codes, mailer)
	svc.now = func() time.Time { return assemblyStart.Add(5 * time.Minute) }
	return svc, codes, mailer
}

func walkUp(studentID, name string) Identity {
	return Identity{StudentID: studentID, Name: name}
}

func TestCheckInSuccessThenDuplicate(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(store.activities[0], 30)

	res, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionToken)
	assert.LessOrEqual(t, res.DistanceMeters, 50)

	// Same pair again at 09:10.
	svc.now = func() time.Time { return assemblyStart.Add(10 * time.Minute) }
	_, err = svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	// Exactly one log exists.
	assert.Len(t, store.logs, 1)
}

func TestCheckInActivityNotFound(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{})
	_, err := svc.CheckIn(context.Background(), "nope", walkUp("s1", "Ada"), 31.23, 121.47)
	assert.ErrorIs(t, err, ErrActivityNotFound)
}

func TestCheckInBeforeWindow(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, _, _ := newTestService(store)
	svc.now = func() time.Time { return assemblyStart.Add(-time.Minute) } // 08:59

	lat, lon := pointAtMeters(store.activities[0], 10)
	_, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	assert.ErrorIs(t, err, ErrOutsideTimeWindow)
	assert.Empty(t, store.logs)
}

func TestCheckInWindowInclusiveEnds(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(store.activities[0], 10)

	for i, at := range []time.Time{assemblyStart, assemblyEnd} {
		store.logs = nil
		svc.now = func() time.Time { return at }
		_, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
		assert.NoError(t, err, "boundary %d", i)
	}
}

func TestCheckInAfterWindow(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, _, _ := newTestService(store)
	svc.now = func() time.Time { return assemblyEnd.Add(time.Second) }

	lat, lon := pointAtMeters(store.activities[0], 10)
	_, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	assert.ErrorIs(t, err, ErrOutsideTimeWindow)
}

func TestCheckInOutOfRangeReportsDistance(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(store.activities[0], 200)

	_, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, KindOutOfRange, rej.Kind)
	assert.InDelta(t, 200, rej.DistanceMeters, 5)
	assert.Contains(t, rej.Error(), "distance")
	assert.Empty(t, store.logs)
}

func TestWithinRadiusBoundary(t *testing.T) {
	// Outside the GCJ-02 region so normalization is a pass-through and the
	// distance is exactly the haversine value.
	act := &Activity{Latitude: 40.7128, Longitude: -74.0060}
	lat, lon := act.Latitude+55/111195.0, act.Longitude
	d := geo.Distance(act.Latitude, act.Longitude, lat, lon)

	act.RadiusMeters = int(math.Ceil(d)) // radius >= distance: inclusive accept
	meters, inside := withinRadius(act, lat, lon)
	assert.True(t, inside)
	assert.Equal(t, int(math.Round(d)), meters)

	act.RadiusMeters = int(math.Floor(d)) - 1 // radius < distance: reject
	_, inside = withinRadius(act, lat, lon)
	assert.False(t, inside)
}

func TestCheckInNameBinding(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(store.activities[0], 10)

	_, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Eve"), lat, lon)
	assert.ErrorIs(t, err, ErrNameMismatch)

	// The stored binding is untouched.
	p, err := store.Participant(context.Background(), 1, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)
}

func TestCheckInCreateLogRaceMapsToAlreadyCheckedIn(t *testing.T) {
	store := &fakeStore{
		activities: []*Activity{newAssembly(1)},
		// Existence check sees nothing, insert hits the constraint: the
		// shape of two concurrent first check-ins.
		createLogErr: ErrDuplicate,
	}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(store.activities[0], 10)

	_, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
}

func TestCheckInParticipantCreateRace(t *testing.T) {
	store := &fakeStore{
		activities:            []*Activity{newAssembly(1)},
		participantRaceWinner: &Participant{ID: 7, AdminID: 1, StudentID: "s1", Name: "Ada"},
		nextID:                7,
	}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(store.activities[0], 10)

	// Same name as the winner: the losing request proceeds with the row
	// that won the race.
	res, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionToken)
}

func TestCheckInParticipantCreateRaceNameMismatch(t *testing.T) {
	store := &fakeStore{
		activities:            []*Activity{newAssembly(1)},
		participantRaceWinner: &Participant{ID: 7, AdminID: 1, StudentID: "s1", Name: "Eve"},
		nextID:                7,
	}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(store.activities[0], 10)

	_, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	assert.ErrorIs(t, err, ErrNameMismatch)
}

func TestCheckInTenantMismatchAuthenticated(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	store.participants = []*Participant{{ID: 1, AdminID: 2, StudentID: "s1", Name: "Ada"}}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(store.activities[0], 10)

	ident := Identity{TenantID: 2, StudentID: "s1", FromToken: true}
	_, err := svc.CheckIn(context.Background(), "code-assembly", ident, lat, lon)
	assert.ErrorIs(t, err, ErrTenantMismatch)
}

func TestCheckInAuthenticatedIgnoresRequestName(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	store.participants = []*Participant{{ID: 1, AdminID: 1, StudentID: "s1", Name: "Ada"}}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(store.activities[0], 10)

	ident := Identity{TenantID: 1, StudentID: "s1", Name: "Wrong Name", FromToken: true}
	_, err := svc.CheckIn(context.Background(), "code-assembly", ident, lat, lon)
	assert.NoError(t, err)
}

func TestTenantScopedStudentIDsDoNotCollide(t *testing.T) {
	actA := newAssembly(1)
	actB := newAssembly(2)
	actB.ID = 2
	actB.UniqueCode = "code-other"
	store := &fakeStore{activities: []*Activity{actA, actB}, nextID: 10}
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(actA, 10)

	// Same student id, different names, different tenants: both succeed.
	_, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	require.NoError(t, err)
	_, err = svc.CheckIn(context.Background(), "code-other", walkUp("s1", "Grace"), lat, lon)
	require.NoError(t, err)

	assert.Len(t, store.participants, 2)
}

func TestCheckOutByTokenLifecycle(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, _, _ := newTestService(store)
	act := store.activities[0]
	inLat, inLon := pointAtMeters(act, 30)

	res, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), inLat, inLon)
	require.NoError(t, err)

	// Check out at 09:25 from 45m away.
	svc.now = func() time.Time { return assemblyStart.Add(25 * time.Minute) }
	outLat, outLon := pointAtMeters(act, 45)
	require.NoError(t, svc.CheckOutByToken(context.Background(), res.SessionToken, outLat, outLon))

	entry, err := store.Log(context.Background(), act.ID, store.participants[0].ID)
	require.NoError(t, err)
	require.True(t, entry.CheckedOut())
	assert.Equal(t, outLat, *entry.CheckOutLat)

	// Second check-out at 09:26.
	svc.now = func() time.Time { return assemblyStart.Add(26 * time.Minute) }
	err = svc.CheckOutByToken(context.Background(), res.SessionToken, outLat, outLon)
	assert.ErrorIs(t, err, ErrAlreadyCheckedOut)
}

func TestCheckOutByTokenUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{})
	err := svc.CheckOutByToken(context.Background(), "bogus", 31.23, 121.47)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCheckOutByTokenRevalidatesWindowAndRange(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, _, _ := newTestService(store)
	act := store.activities[0]
	lat, lon := pointAtMeters(act, 10)

	res, err := svc.CheckIn(context.Background(), "code-assembly", walkUp("s1", "Ada"), lat, lon)
	require.NoError(t, err)

	svc.now = func() time.Time { return assemblyEnd.Add(time.Minute) }
	err = svc.CheckOutByToken(context.Background(), res.SessionToken, lat, lon)
	assert.ErrorIs(t, err, ErrOutsideTimeWindow)

	svc.now = func() time.Time { return assemblyStart.Add(20 * time.Minute) }
	farLat, farLon := pointAtMeters(act, 300)
	err = svc.CheckOutByToken(context.Background(), res.SessionToken, farLat, farLon)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, KindOutOfRange, rej.Kind)
}

func TestAuthenticatedCheckOut(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	store.participants = []*Participant{{ID: 1, AdminID: 1, StudentID: "s1", Name: "Ada"}}
	store.nextID = 1
	svc, _, _ := newTestService(store)
	act := store.activities[0]
	lat, lon := pointAtMeters(act, 10)
	ident := Identity{TenantID: 1, StudentID: "s1", FromToken: true}

	// Before any check-in.
	err := svc.CheckOut(context.Background(), "code-assembly", ident, lat, lon)
	assert.ErrorIs(t, err, ErrNoActiveCheckIn)

	_, err = svc.CheckIn(context.Background(), "code-assembly", ident, lat, lon)
	require.NoError(t, err)

	require.NoError(t, svc.CheckOut(context.Background(), "code-assembly", ident, lat, lon))

	// Terminal: a second authenticated check-out is rejected distinctly.
	err = svc.CheckOut(context.Background(), "code-assembly", ident, lat, lon)
	assert.ErrorIs(t, err, ErrAlreadyCheckedOut)
}

func TestAuthenticatedCheckOutActivityMismatch(t *testing.T) {
	actA := newAssembly(1)
	actB := newAssembly(1)
	actB.ID = 2
	actB.UniqueCode = "code-other"
	store := &fakeStore{activities: []*Activity{actA, actB}}
	store.participants = []*Participant{{ID: 1, AdminID: 1, StudentID: "s1", Name: "Ada"}}
	store.nextID = 1
	svc, _, _ := newTestService(store)
	lat, lon := pointAtMeters(actA, 10)
	ident := Identity{TenantID: 1, StudentID: "s1", FromToken: true}

	_, err := svc.CheckIn(context.Background(), "code-assembly", ident, lat, lon)
	require.NoError(t, err)

	err = svc.CheckOut(context.Background(), "code-other", ident, lat, lon)
	assert.ErrorIs(t, err, ErrActivityMismatch)
}

func TestRequestCodeSavesBeforeSend(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, codes, mailer := newTestService(store)

	require.NoError(t, svc.RequestCode(context.Background(), "code-assembly", "ada@example.com"))
	require.Len(t, mailer.sent, 1)
	assert.Len(t, codes.saved["ada@example.com"], 6)
}

func TestRequestCodeDeliveryFailureKeepsCode(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, codes, mailer := newTestService(store)
	mailer.err = errors.New("smtp down")

	err := svc.RequestCode(context.Background(), "code-assembly", "ada@example.com")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	// The code committed before the send attempt.
	assert.NotEmpty(t, codes.saved["ada@example.com"])
}

func TestRegisterAndLogin(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, codes, _ := newTestService(store)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "code-assembly", "ada@example.com"))
	code := codes.saved["ada@example.com"]

	p, err := svc.Register(ctx, "code-assembly", "s1", "Ada", "ada@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.AdminID)

	// The code was consumed on use; logging in needs a fresh one.
	_, err = svc.Login(ctx, "code-assembly", "ada@example.com", code)
	assert.ErrorIs(t, err, ErrCodeInvalid)

	require.NoError(t, svc.RequestCode(ctx, "code-assembly", "ada@example.com"))
	p2, err := svc.Login(ctx, "code-assembly", "ada@example.com", codes.saved["ada@example.com"])
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
}

func TestRegisterRejectsBadCode(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	svc, _, _ := newTestService(store)

	_, err := svc.Register(context.Background(), "code-assembly", "s1", "Ada", "ada@example.com", "000000")
	assert.ErrorIs(t, err, ErrCodeInvalid)
}

func TestRegisterTenantScopedUniqueness(t *testing.T) {
	actA := newAssembly(1)
	actB := newAssembly(2)
	actB.ID = 2
	actB.UniqueCode = "code-other"
	store := &fakeStore{activities: []*Activity{actA, actB}}
	svc, codes, _ := newTestService(store)
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, "code-assembly", "ada@example.com"))
	_, err := svc.Register(ctx, "code-assembly", "s1", "Ada", "ada@example.com", codes.saved["ada@example.com"])
	require.NoError(t, err)

	// Same student id and email under another tenant is fine.
	require.NoError(t, svc.RequestCode(ctx, "code-other", "ada@example.com"))
	_, err = svc.Register(ctx, "code-other", "s1", "Ada", "ada@example.com", codes.saved["ada@example.com"])
	require.NoError(t, err)

	// Re-registering within the first tenant is not.
	require.NoError(t, svc.RequestCode(ctx, "code-assembly", "ada@example.com"))
	_, err = svc.Register(ctx, "code-assembly", "s2", "Ada Again", "ada@example.com", codes.saved["ada@example.com"])
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestOpenLog(t *testing.T) {
	store := &fakeStore{activities: []*Activity{newAssembly(1)}}
	store.participants = []*Participant{{ID: 1, AdminID: 1, StudentID: "s1", Name: "Ada"}}
	store.nextID = 1
	svc, _, _ := newTestService(store)
	ident := Identity{TenantID: 1, StudentID: "s1", FromToken: true}

	_, err := svc.OpenLog(context.Background(), ident)
	assert.ErrorIs(t, err, ErrNoActiveCheckIn)

	lat, lon := pointAtMeters(store.activities[0], 10)
	_, err = svc.CheckIn(context.Background(), "code-assembly", ident, lat, lon)
	require.NoError(t, err)

	info, err := svc.OpenLog(context.Background(), ident)
	require.NoError(t, err)
	assert.Equal(t, "Morning Assembly", info.Activity.Name)
	assert.False(t, info.Log.CheckedOut())
}
