package checkin

import (
	"context"
	"time"
)

// Store is the persistence collaborator for attendance verification. All
// lookups that take an adminID are tenant-scoped: a row from another tenant
// must come back as ErrNotFound, not as a match. Implementations surface
// uniqueness violations as ErrDuplicate and absent rows as ErrNotFound.
type Store interface {
	ActivityByCode(ctx context.Context, code string) (*Activity, error)
	ActivityByID(ctx context.Context, id int64) (*Activity, error)

	Participant(ctx context.Context, adminID int64, studentID string) (*Participant, error)
	ParticipantByEmail(ctx context.Context, adminID int64, email string) (*Participant, error)
	CreateParticipant(ctx context.Context, p *Participant) error

	Log(ctx context.Context, activityID, participantID int64) (*Log, error)
	LogBySessionToken(ctx context.Context, token string) (*Log, error)
	OpenLog(ctx context.Context, participantID int64) (*Log, error)
	CreateLog(ctx context.Context, l *Log) error
	CloseLog(ctx context.Context, logID int64, at time.Time, lat, lon float64) error
}

// CodeStore holds email verification codes. Saving overwrites any live code
// for the email; Consume validates and invalidates atomically so a code
// cannot be replayed inside its TTL.
type CodeStore interface {
	Save(ctx context.Context, email, code string, ttl time.Duration) error
	Consume(ctx context.Context, email, code string) (bool, error)
}

// Mailer is the notification collaborator.
type Mailer interface {
	SendVerificationCode(ctx context.Context, to, code string) error
}
