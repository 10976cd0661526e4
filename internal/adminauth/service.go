// Package adminauth gates the admin-only operations (code issuance). The
// core components never see credentials; they only consume the resulting
// "caller is admin" boolean.
package adminauth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for a wrong master secret or a bad token.
var ErrInvalidCredentials = errors.New("invalid admin credentials")

const tokenTTL = 24 * time.Hour

type Service interface {
	// Login exchanges the master secret for a signed admin token.
	Login(secret string) (string, error)
	// ValidateToken reports whether token identifies an admin caller.
	ValidateToken(token string) (bool, error)
}

type service struct {
	secretHash []byte
	jwtSecret  []byte
}

// NewService builds the admin gate from the bcrypt hash of the master
// secret and the JWT signing key.
func NewService(secretHash, jwtSecret []byte) Service {
	return &service{secretHash: secretHash, jwtSecret: jwtSecret}
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin"`
}

func (s *service) Login(secret string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(s.secretHash, []byte(secret)); err != nil {
		return "", ErrInvalidCredentials
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Admin: true,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.jwtSecret)
}

func (s *service) ValidateToken(token string) (bool, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil {
		return false, ErrInvalidCredentials
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || !c.Admin {
		return false, ErrInvalidCredentials
	}
	return true, nil
}
