package adminapi

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nmslite/docwriter/internal/coordinator"
)

// Claims is the JWT payload a JobTicket carries, verified per request
// before adminapi acts on the coordinator. Operators mint tokens out of
// band with the configured HMAC secret.
type Claims struct {
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`
	jwt.RegisteredClaims
}

// verifyTicket parses and validates tokenString against secret, returning
// the coordinator.JobTicket it carries.
func verifyTicket(secret []byte, tokenString string) (coordinator.JobTicket, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return coordinator.JobTicket{}, fmt.Errorf("adminapi: parse ticket: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return coordinator.JobTicket{}, errors.New("adminapi: invalid ticket")
	}
	return coordinator.JobTicket{JobID: claims.JobID, JobName: claims.JobName}, nil
}
