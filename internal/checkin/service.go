package checkin

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/Haven-Lv/students-checkin-sytem/internal/geo"
)

// codeTTL is how long an emailed verification code stays valid.
const codeTTL = 5 * time.Minute

// Identity says who is checking in and where it came from. Token-derived
// identities carry the tenant resolved at login time; walk-up identities
// carry the self-reported name and adopt the activity's tenant.
type Identity struct {
	TenantID  int64
	StudentID string
	Name      string
	FromToken bool
}

// CheckInResult is returned on a successful check-in.
type CheckInResult struct {
	LogID          int64
	SessionToken   string
	DistanceMeters int
}

// OpenLogInfo pairs a participant's open log with its activity for display.
type OpenLogInfo struct {
	Log      *Log
	Activity *Activity
}

// Service runs the attendance verification state machine. It owns no
// state itself; everything verification-relevant lives in the Store so
// concurrent handlers stay correct through the storage constraints.
type Service struct {
	store  Store
	codes  CodeStore
	mailer Mailer
	now    func() time.Time
}

// NewService wires the verifier to its collaborators.
func NewService(store Store, codes CodeStore, mailer Mailer) *Service {
	return &Service{store: store, codes: codes, mailer: mailer, now: time.Now}
}

// CheckIn authorizes and records a check-in. Preconditions are evaluated in
// a fixed order: activity exists, tenant matches, time window, participant
// resolution, geofence, no prior record. The server clock stamps the log;
// submitted coordinates are stored raw.
func (s *Service) CheckIn(ctx context.Context, activityCode string, ident Identity, lat, lon float64) (*CheckInResult, error) {
	act, err := s.store.ActivityByCode(ctx, activityCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("look up activity: %w", err)
	}

	tenantID := ident.TenantID
	if ident.FromToken {
		if act.AdminID != tenantID {
			return nil, ErrTenantMismatch
		}
	} else {
		// Walk-up flow: the scanned activity code is what establishes
		// the tenant for this participant.
		tenantID = act.AdminID
	}

	now := s.now()
	if now.Before(act.StartTime) || now.After(act.EndTime) {
		return nil, ErrOutsideTimeWindow
	}

	p, err := s.resolveParticipant(ctx, tenantID, ident)
	if err != nil {
		return nil, err
	}

	meters, inside := withinRadius(act, lat, lon)
	if !inside {
		return nil, OutOfRange(meters)
	}

	if _, err := s.store.Log(ctx, act.ID, p.ID); err == nil {
		return nil, ErrAlreadyCheckedIn
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("look up attendance log: %w", err)
	}

	entry := &Log{
		ActivityID:    act.ID,
		ParticipantID: p.ID,
		CheckInTime:   now,
		CheckInLat:    lat,
		CheckInLon:    lon,
		SessionToken:  uuid.NewString(),
	}
	if err := s.store.CreateLog(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost the race against a concurrent first check-in; the
			// unique (activity, participant) constraint is the arbiter.
			return nil, ErrAlreadyCheckedIn
		}
		return nil, fmt.Errorf("create attendance log: %w", err)
	}

	return &CheckInResult{LogID: entry.ID, SessionToken: entry.SessionToken, DistanceMeters: meters}, nil
}

// CheckOutByToken closes the log identified by a check-in session token.
// The token alone authorizes the check-out, so no tenant cross-check is
// needed on this path.
func (s *Service) CheckOutByToken(ctx context.Context, token string, lat, lon float64) error {
	entry, err := s.store.LogBySessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("look up attendance log: %w", err)
	}
	return s.closeLog(ctx, entry, lat, lon)
}

// CheckOut closes the authenticated participant's single open log. The
// request's activity code must name that log's activity; checking out
// against another code is rejected rather than redirected.
func (s *Service) CheckOut(ctx context.Context, activityCode string, ident Identity, lat, lon float64) error {
	act, err := s.store.ActivityByCode(ctx, activityCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrActivityNotFound
		}
		return fmt.Errorf("look up activity: %w", err)
	}
	if act.AdminID != ident.TenantID {
		return ErrTenantMismatch
	}

	p, err := s.store.Participant(ctx, ident.TenantID, ident.StudentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrParticipantNotFound
		}
		return fmt.Errorf("look up participant: %w", err)
	}

	open, err := s.store.OpenLog(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if prior, perr := s.store.Log(ctx, act.ID, p.ID); perr == nil && prior.CheckedOut() {
				return ErrAlreadyCheckedOut
			}
			return ErrNoActiveCheckIn
		}
		return fmt.Errorf("look up open log: %w", err)
	}
	if open.ActivityID != act.ID {
		return ErrActivityMismatch
	}
	return s.closeLog(ctx, open, lat, lon)
}

// closeLog re-validates window and geofence against the log's activity and
// records the terminal CheckedOut transition.
func (s *Service) closeLog(ctx context.Context, entry *Log, lat, lon float64) error {
	if entry.CheckedOut() {
		return ErrAlreadyCheckedOut
	}

	act, err := s.store.ActivityByID(ctx, entry.ActivityID)
	if err != nil {
		return fmt.Errorf("look up activity: %w", err)
	}

	now := s.now()
	if now.Before(act.StartTime) || now.After(act.EndTime) {
		return ErrOutsideTimeWindow
	}

	meters, inside := withinRadius(act, lat, lon)
	if !inside {
		return OutOfRange(meters)
	}

	if err := s.store.CloseLog(ctx, entry.ID, now, lat, lon); err != nil {
		return fmt.Errorf("close attendance log: %w", err)
	}
	return nil
}

// resolveParticipant maps an identity to a participant row. Walk-up
// identities may create the row; an existing row's name binding is
// enforced, never overwritten.
func (s *Service) resolveParticipant(ctx context.Context, tenantID int64, ident Identity) (*Participant, error) {
	p, err := s.store.Participant(ctx, tenantID, ident.StudentID)
	switch {
	case err == nil:
		if !ident.FromToken && p.Name != ident.Name {
			return nil, ErrNameMismatch
		}
		return p, nil
	case errors.Is(err, ErrNotFound):
		if ident.FromToken {
			return nil, ErrParticipantNotFound
		}
	default:
		return nil, fmt.Errorf("look up participant: %w", err)
	}

	p = &Participant{AdminID: tenantID, StudentID: ident.StudentID, Name: ident.Name}
	if err := s.store.CreateParticipant(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Concurrent first check-in created the row; re-read and
			// enforce the name binding against what won.
			existing, rerr := s.store.Participant(ctx, tenantID, ident.StudentID)
			if rerr != nil {
				return nil, fmt.Errorf("re-read participant: %w", rerr)
			}
			if existing.Name != ident.Name {
				return nil, ErrNameMismatch
			}
			return existing, nil
		}
		return nil, fmt.Errorf("create participant: %w", err)
	}
	return p, nil
}

// withinRadius normalizes both coordinate pairs and compares the haversine
// distance against the activity radius. The boundary is inclusive.
func withinRadius(act *Activity, lat, lon float64) (int, bool) {
	actLon, actLat := geo.Normalize(act.Longitude, act.Latitude)
	reqLon, reqLat := geo.Normalize(lon, lat)
	d := geo.Distance(actLat, actLon, reqLat, reqLon)
	return int(math.Round(d)), d <= float64(act.RadiusMeters)
}

// RequestCode issues a fresh verification code for the email and mails it.
// The code is persisted before the send attempt; a send failure comes back
// as a DeliveryError and leaves the saved code intact.
func (s *Service) RequestCode(ctx context.Context, activityCode, email string) error {
	if _, err := s.store.ActivityByCode(ctx, activityCode); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrActivityNotFound
		}
		return fmt.Errorf("look up activity: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.codes.Save(ctx, email, code, codeTTL); err != nil {
		return fmt.Errorf("save verification code: %w", err)
	}
	if err := s.mailer.SendVerificationCode(ctx, email, code); err != nil {
		return &DeliveryError{Err: err}
	}
	return nil
}

// Register creates an email-verified participant under the tenant resolved
// from the activity code. Student id and email uniqueness are both scoped
// to that tenant; the storage constraints settle races.
func (s *Service) Register(ctx context.Context, activityCode, studentID, name, email, code string) (*Participant, error) {
	act, err := s.store.ActivityByCode(ctx, activityCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("look up activity: %w", err)
	}

	ok, err := s.codes.Consume(ctx, email, code)
	if err != nil {
		return nil, fmt.Errorf("validate verification code: %w", err)
	}
	if !ok {
		return nil, ErrCodeInvalid
	}

	if _, err := s.store.Participant(ctx, act.AdminID, studentID); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("look up participant: %w", err)
	}
	if _, err := s.store.ParticipantByEmail(ctx, act.AdminID, email); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("look up participant by email: %w", err)
	}

	p := &Participant{AdminID: act.AdminID, StudentID: studentID, Name: name, Email: &email}
	if err := s.store.CreateParticipant(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("create participant: %w", err)
	}
	return p, nil
}

// Login authenticates a registered participant with an emailed code. The
// activity code names the tenant; the emailed code proves the mailbox.
func (s *Service) Login(ctx context.Context, activityCode, email, code string) (*Participant, error) {
	act, err := s.store.ActivityByCode(ctx, activityCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("look up activity: %w", err)
	}

	ok, err := s.codes.Consume(ctx, email, code)
	if err != nil {
		return nil, fmt.Errorf("validate verification code: %w", err)
	}
	if !ok {
		return nil, ErrCodeInvalid
	}

	p, err := s.store.ParticipantByEmail(ctx, act.AdminID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("look up participant by email: %w", err)
	}
	return p, nil
}

// OpenLog returns the authenticated participant's open log with its
// activity, or ErrNoActiveCheckIn.
func (s *Service) OpenLog(ctx context.Context, ident Identity) (*OpenLogInfo, error) {
	p, err := s.store.Participant(ctx, ident.TenantID, ident.StudentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("look up participant: %w", err)
	}

	entry, err := s.store.OpenLog(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoActiveCheckIn
		}
		return nil, fmt.Errorf("look up open log: %w", err)
	}

	act, err := s.store.ActivityByID(ctx, entry.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("look up activity: %w", err)
	}
	return &OpenLogInfo{Log: entry, Activity: act}, nil
}

// generateCode draws a crypto-random 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
