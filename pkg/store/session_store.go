package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"cubechat/internal/util"
	"cubechat/pkg/domain"
)

const (
	sessionIssuer    = "cubechat"
	sessionKeyPrefix = "cubechat:session:"
	sessionLeeway    = 30 * time.Second
)

// SessionStore issues HS256 session tokens for GitHub sign-ins. The token
// carries the GitHub identity; the provider access token lives only in Redis,
// keyed by the token's jti, so logging out revokes API access immediately.
type SessionStore struct {
	client *redis.Client
	secret []byte
	ttl    time.Duration
}

type sessionClaims struct {
	Login string `json:"login"`
	jwt.RegisteredClaims
}

// NewSessionStore builds a session store backed by the given Redis client.
func NewSessionStore(client *redis.Client, secret string, ttl time.Duration) (*SessionStore, error) {
	if client == nil {
		return nil, errors.New("session store requires a redis client")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session store requires a signing secret")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &SessionStore{client: client, secret: []byte(secret), ttl: ttl}, nil
}

// CreateSession mints a session token for a GitHub user and stashes the
// provider access token in Redis for the session lifetime.
func (s *SessionStore) CreateSession(ctx context.Context, githubID, login, accessToken string) (string, error) {
	now := time.Now().UTC()
	jti := util.NewID()
	claims := sessionClaims{
		Login: login,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   githubID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+jti, accessToken, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store access token: %w", err)
	}
	return token, nil
}

// SessionFromToken validates a session token and resolves the stored access
// token. A missing Redis entry means the session was revoked or expired.
func (s *SessionStore) SessionFromToken(ctx context.Context, token string) (domain.Session, bool, error) {
	claims, err := s.parse(token)
	if err != nil {
		return domain.Session{}, false, nil
	}
	accessToken, err := s.client.Get(ctx, sessionKeyPrefix+claims.ID).Result()
	if err == redis.Nil {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	return domain.Session{
		UserID:      claims.Subject,
		Login:       claims.Login,
		AccessToken: accessToken,
	}, true, nil
}

// DeleteSession revokes the access token behind a session token. Invalid
// tokens are ignored.
func (s *SessionStore) DeleteSession(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	if err := s.client.Del(ctx, sessionKeyPrefix+claims.ID).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func (s *SessionStore) parse(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithLeeway(sessionLeeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}
