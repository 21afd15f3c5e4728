// Package auth issues and validates the service's bearer credentials and
// password hashes.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// Claims is the JWT payload. AdminID carries the tenant: for admin tokens
// it is the admin's own id, for student tokens the owning admin's id,
// resolved once at login and fixed for the token's lifetime.
type Claims struct {
	Role    string `json:"role"`
	AdminID int64  `json:"admin_id"`
	jwt.RegisteredClaims
}

// IssueAdmin signs an access token for an admin account.
func IssueAdmin(username string, adminID int64, issuer, key string, ttl time.Duration) (string, error) {
	return issue(username, RoleAdmin, adminID, issuer, key, ttl)
}

// IssueStudent signs an access token for a participant, embedding the
// tenant the session was opened under.
func IssueStudent(studentID string, adminID int64, issuer, key string, ttl time.Duration) (string, error) {
	return issue(studentID, RoleStudent, adminID, issuer, key, ttl)
}

func issue(subject, role string, adminID int64, issuer, key string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:    role,
		AdminID: adminID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Parse validates a token and returns its claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
