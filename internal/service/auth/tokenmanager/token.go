package tokenmanager

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/models"
)

const (
	defaultAccessTokenTTL  = time.Hour
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultIssuer          = "hospitaldesk"
	defaultAudience        = "hospitaldesk-api"

	// Refresh token is base64url of that many random bytes (43 chars)
	refreshTokenBytes = 32
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Expected 'iss' and 'aud' claims
	// If not set than default is used
	Issuer   string
	Audience string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenManager issues and parses tokens. It never stores anything:
// persisting refresh tokens is up to session registry
type TokenManager struct {
	key []byte
	alg jwt.SigningMethod

	issuer   string
	audience string

	accessTTL  time.Duration
	refreshTTL time.Duration
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.Alg, defaultSigningMethod)
	setDefault(&cfg.Issuer, defaultIssuer)
	setDefault(&cfg.Audience, defaultAudience)

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC ones allowed", cfg.Alg)
	}

	return &TokenManager{
		key:        []byte(cfg.SecretKey),
		alg:        alg,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}

func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// IssuePair signs access token for identity and generates new refresh token
func (m *TokenManager) IssuePair(identity models.Identity) (models.TokenPair, error) {
	var pair models.TokenPair
	now := time.Now().Truncate(time.Second)
	accessExpiresAt := now.Add(m.accessTTL)

	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   strconv.FormatInt(identity.UserID, 10),
				Issuer:    m.issuer,
				Audience:  jwt.ClaimStrings{m.audience},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
			},
			Username: identity.Username,
			Email:    identity.Email,
			Roles:    identity.Roles,
		},
	)
	access, err := accessToken.SignedString(m.key)
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	refresh, err := m.GenerateRefreshToken()
	if err != nil {
		return pair, err
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: now.Add(m.refreshTTL)},
	}, nil
}

// GenerateRefreshToken returns opaque url-safe random string of fixed length
func (m *TokenManager) GenerateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generate refresh token. Err: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ParseAccess returns identity of valid access token
// Expired token gives apperrors.ErrExpiredToken, any other problem apperrors.ErrInvalidToken
func (m *TokenManager) ParseAccess(access string) (models.Identity, error) {
	return m.parse(access, false)
}

// ParseExpiredAccess accepts token if expiry is its only problem
// Signature, algorithm, issuer and audience are checked as usual
func (m *TokenManager) ParseExpiredAccess(access string) (models.Identity, error) {
	return m.parse(access, true)
}

func (m *TokenManager) parse(access string, allowExpired bool) (models.Identity, error) {
	claims := &AccessTokenClaims{}

	// Signature first: claims of unverified token are never looked at
	token, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !token.Valid {
		return models.Identity{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}

	err = m.validator(time.Now).Validate(claims)
	switch {
	case err == nil:
	case !errors.Is(err, jwt.ErrTokenExpired):
		return models.Identity{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	case !allowExpired:
		return models.Identity{}, apperrors.ErrExpiredToken
	default:
		// Validate as if it was checked right before expiration: anything failing now is not about expiry
		beforeExpiry := func() time.Time { return claims.ExpiresAt.Add(-time.Second) }
		if err := m.validator(beforeExpiry).Validate(claims); err != nil {
			return models.Identity{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
		}
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return models.Identity{}, fmt.Errorf("%w: bad subject %q", apperrors.ErrInvalidToken, claims.Subject)
	}

	return models.Identity{
		UserID:   userID,
		Username: claims.Username,
		Email:    claims.Email,
		Roles:    claims.Roles,
	}, nil
}

func (m *TokenManager) validator(now func() time.Time) *jwt.Validator {
	return jwt.NewValidator(
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	)
}
