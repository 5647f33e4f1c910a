package auth

import "time"

// APIKeyConfig maps one static API key to the user identity it authenticates as.
type APIKeyConfig struct {
	Key    string
	UserID string
	Email  string
	Name   string
}

// Config configures a Service. Leaving both JWTSecret empty and APIKeys nil disables
// auth entirely: Service.Enabled() returns false and the middleware passes every
// request through unauthenticated.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	APIKeys     []APIKeyConfig
}

// Service validates bearer tokens and static API keys against the configured secret
// and key set.
type Service struct {
	jwt     *JWTService
	apiKeys map[string]User
	enabled bool
}

// NewService builds a Service from cfg.
func NewService(cfg Config) *Service {
	s := &Service{apiKeys: make(map[string]User, len(cfg.APIKeys))}
	if cfg.JWTSecret != "" {
		s.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
		s.enabled = true
	}
	for _, k := range cfg.APIKeys {
		if k.Key == "" {
			continue
		}
		s.apiKeys[k.Key] = User{ID: k.UserID, Email: k.Email, Name: k.Name}
		s.enabled = true
	}
	return s
}

// Enabled reports whether any credential source is configured. Callers (middleware)
// skip all auth checks when it returns false.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// GenerateJWT issues a signed token for user.
func (s *Service) GenerateJWT(user *User) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(user)
}

// ValidateJWT parses and validates token, returning the embedded user.
func (s *Service) ValidateJWT(token string) (*User, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}

// ValidateAPIKey looks up key among the configured static keys.
func (s *Service) ValidateAPIKey(key string) (*User, error) {
	if s == nil {
		return nil, ErrAuthDisabled
	}
	user, ok := s.apiKeys[key]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	return &user, nil
}
