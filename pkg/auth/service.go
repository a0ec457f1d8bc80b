package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/provider"
)

var (
	ErrMissingToken = errors.New(errors.KindValidation, "missing bearer token")
	ErrInvalidToken = errors.New(errors.KindValidation, "invalid token")
	ErrRateLimited  = errors.New(errors.KindTransient, "rate limit exceeded")
)

/*
Claims is what a bearer token carries. The subject is the user id. Persona
is optional, requests may name one themselves.
*/
type Claims struct {
	jwt.RegisteredClaims
	Persona string        `json:"persona,omitempty"`
	Tier    provider.Tier `json:"tier"`
}

/*
Principal is the authenticated caller of a request.
*/
type Principal struct {
	User    string
	Persona string
	Tier    provider.Tier
}

type Config struct {
	JWTSecret  string        `mapstructure:"jwtSecret"`
	RateLimit  int64         `mapstructure:"rateLimit"`
	RateWindow time.Duration `mapstructure:"rateWindow"`
	TokenTTL   time.Duration `mapstructure:"tokenTTL"`
}

/*
Service verifies HS256 bearer tokens, issues them for local use, and rate
limits per user.
*/
type Service struct {
	signingKey []byte
	limiters   *Limiters
	ttl        time.Duration
	now        func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.NewError(errors.ErrMissingCredential, "server.jwtSecret")
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}

	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	return &Service{
		signingKey: []byte(cfg.JWTSecret),
		limiters:   NewLimiters(cfg.RateLimit, cfg.RateWindow),
		ttl:        cfg.TokenTTL,
		now:        time.Now,
	}, nil
}

func (s *Service) getSigningKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.NewError(errors.KindValidation, ErrInvalidToken, "unexpected signing method")
	}

	return s.signingKey, nil
}

/*
Authenticate checks the Authorization header value and charges the caller's
rate limit. A rate limited caller still gets its principal back.
*/
func (s *Service) Authenticate(header string) (Principal, error) {
	tokenStr, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")

	if !ok || strings.TrimSpace(tokenStr) == "" {
		return Principal{}, ErrMissingToken
	}

	claims := &Claims{}

	token, err := jwt.ParseWithClaims(
		strings.TrimSpace(tokenStr),
		claims,
		s.getSigningKey,
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)

	if err != nil || !token.Valid {
		return Principal{}, errors.NewError(errors.KindValidation, ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return Principal{}, errors.NewError(errors.KindValidation, ErrInvalidToken, "token has no subject")
	}

	principal := Principal{User: claims.Subject, Persona: claims.Persona, Tier: claims.Tier}

	if !s.limiters.Allow(claims.Subject) {
		return principal, ErrRateLimited
	}

	return principal, nil
}

/*
Issue signs a token for user. The CLI uses it to mint tokens for local
clients.
*/
func (s *Service) Issue(user, persona string, tier provider.Tier) (string, error) {
	now := s.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Persona: persona,
		Tier:    tier,
	})

	signed, err := token.SignedString(s.signingKey)

	if err != nil {
		return "", errors.Wrap(errors.KindFatalConfig, err, "failed to sign token")
	}

	return signed, nil
}

func (s *Service) RetryAfter(user string) time.Duration {
	return s.limiters.WaitTime(user)
}
