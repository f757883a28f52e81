package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/config"
	"github.com/kolayne/anonymous-helpline-chatbot/internal/models"
)

var ( // Define custom errors
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AuthService authenticates the admin collaborator against the credentials
// held in the configuration and issues JWTs for the admin API.
type AuthService interface {
	Login(username, password string) (string, time.Time, error) // Returns JWT token, expiration time, and error
	JWTSecret() []byte
}

type authService struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewAuthService(cfg *config.Config, logger *zap.Logger) AuthService {
	return &authService{cfg: cfg, logger: logger}
}

func (s *authService) JWTSecret() []byte {
	return []byte(s.cfg.Admin.JWTSecret)
}

func (s *authService) Login(username, password string) (string, time.Time, error) {
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Admin.Username)) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !s.verifyPassword(s.cfg.Admin.PasswordHash, password) {
		return "", time.Time{}, ErrInvalidCredentials
	}

	expirationTime := time.Now().Add(time.Duration(s.cfg.Admin.TokenTTLMinutes) * time.Minute)
	claims := &models.Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.JWTSecret())
	if err != nil {
		s.logger.Error("Failed to generate JWT token", zap.Error(err))
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("Admin logged in successfully.", zap.String("username", username))

	return tokenString, expirationTime, nil
}

// HashPassword uses Argon2id to hash the password. The result embeds the
// parameters and salt: $argon2id$v=19$m=65536,t=1,p=4$BASE64_SALT$BASE64_HASH
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, uint8(4), 32)

	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, 64*1024, 1, 4, encodedSalt, encodedHash), nil
}

// verifyPassword compares a plaintext password with an encoded hash.
func (s *authService) verifyPassword(hashedPassword, password string) bool {
	sections := strings.FieldsFunc(hashedPassword, func(r rune) bool { return r == '$' })

	// Expected format: ["argon2id", "v=19", "m=65536,t=1,p=4", "salt", "hash"]
	if len(sections) != 5 || sections[0] != "argon2id" {
		s.logger.Error("Invalid hash format", zap.Int("sections", len(sections)))
		return false
	}

	var version int
	fmt.Sscanf(sections[1], "v=%d", &version)

	var m, t, p uint32
	fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &m, &t, &p)

	decodedSalt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		s.logger.Error("Failed to decode salt", zap.Error(err))
		return false
	}
	decodedHash, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		s.logger.Error("Failed to decode hash", zap.Error(err))
		return false
	}

	comparisonHash := argon2.IDKey([]byte(password), decodedSalt, t, m, uint8(p), uint32(len(decodedHash)))

	return subtle.ConstantTimeCompare(comparisonHash, decodedHash) == 1
}
