package auth

import (
	"github.com/rs/zerolog"

	"grid-trading-bot/config"
)

// DefaultOperator names tokens issued without an operator name
const DefaultOperator = "operator"

// Service checks the operator password and issues tokens
type Service struct {
	jwt          *JWTManager
	passwords    *PasswordManager
	passwordHash string
	logger       zerolog.Logger
}

// NewService creates an auth service from config
func NewService(cfg config.AuthConfig, logger zerolog.Logger) *Service {
	return &Service{
		jwt:          NewJWTManager(cfg.JWTSecret, cfg.AccessTokenDuration),
		passwords:    NewPasswordManager(DefaultBcryptCost),
		passwordHash: cfg.PasswordHash,
		logger:       logger.With().Str("component", "Auth").Logger(),
	}
}

// JWT returns the token manager used by the middleware
func (s *Service) JWT() *JWTManager { return s.jwt }

// Login issues a token when password matches the configured hash
func (s *Service) Login(operator, password string) (*TokenResponse, error) {
	if s.passwordHash == "" {
		return nil, ErrNotConfigured
	}
	if operator == "" {
		operator = DefaultOperator
	}
	if !s.passwords.VerifyPassword(password, s.passwordHash) {
		s.logger.Warn().Str("operator", operator).Msg("Failed login")
		return nil, ErrInvalidCredentials
	}
	s.logger.Info().Str("operator", operator).Msg("Operator logged in")
	return s.jwt.GenerateAccessToken(operator)
}
