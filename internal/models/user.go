package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is a participant known to the helpline. TgID is the platform-assigned
// identity; LocalID is our own sequential identifier and is what
// conversations reference. Neither is ever reused.
type User struct {
	LocalID    int64     `db:"local_id" json:"local_id"`
	TgID       int64     `db:"tg_id" json:"tg_id"`
	IsOperator bool      `db:"is_operator" json:"is_operator"`
	IsAdmin    bool      `db:"is_admin" json:"is_admin"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Claims defines the structure of the JWT claims for the admin API.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}
