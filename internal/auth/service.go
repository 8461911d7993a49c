package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenPadCore/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator Permission = "operator"
	PermAdmin    Permission = "admin"
)

const RoleAdmin = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginDisabled      = errors.New("login disabled: no admin password configured")
)

// AuthService authenticates the single configured operator account and
// issues access tokens for the dashboard API.
type AuthService struct {
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	adminUsername  string
	adminHash      string
	logger         *zap.Logger
}

// NewAuthService reads the admin password from the environment. A plaintext
// value is hashed once here; an argon2id hash is used as is.
func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) (*AuthService, error) {
	a := &AuthService{
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		adminUsername:  cfg.AdminUsername,
		logger:         logger.With(zap.String("component", "auth")),
	}
	if !cfg.IsProductionReady() {
		a.logger.Warn("using development JWT secret")
	}

	password := cfg.AdminPassword()
	switch {
	case password == "":
		a.logger.Warn("no admin password set, API login disabled", zap.String("env", cfg.AdminPasswordEnv))
	case IsHash(password):
		if _, err := decodeHash(password); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
		a.adminHash = password
	default:
		hash, err := a.passwordHasher.HashPassword(password)
		if err != nil {
			return nil, err
		}
		a.adminHash = hash
	}
	return a, nil
}

// Login checks the credentials and returns a signed access token.
func (a *AuthService) Login(ctx context.Context, username, password, ipAddress string) (string, error) {
	if a.adminHash == "" {
		return "", ErrLoginDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.adminUsername)) == 1
	passOK, err := a.passwordHasher.VerifyPassword(password, a.adminHash)
	if err != nil {
		return "", fmt.Errorf("verify password: %w", err)
	}
	if !userOK || !passOK {
		a.logger.Warn("login failed", zap.String("username", username), zap.String("ip", ipAddress))
		return "", ErrInvalidCredentials
	}

	token, err := a.jwtHandler.GenerateAccessToken(username, RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	a.logger.Info("login succeeded", zap.String("username", username), zap.String("ip", ipAddress))
	return token, nil
}

// ValidateToken returns the claims and permissions carried by token.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return claims, roleToPermissions(claims.Role), nil
}

// TokenTTLSeconds is the lifetime of issued tokens.
func (a *AuthService) TokenTTLSeconds() int {
	return int(a.jwtHandler.TTL().Seconds())
}

func roleToPermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermOperator, PermAdmin}
	default:
		return []Permission{PermOperator}
	}
}
