package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/jobhub/internal/model"
)

// DefaultTokenTTL はトークンの既定の有効期間。
const DefaultTokenTTL = 24 * time.Hour

// MinSecretLength は署名鍵の最小バイト数。
const MinSecretLength = 32

var (
	// ErrTokenInvalid は署名不一致、形式不正、期限切れを含む全ての検証失敗を表す。
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired は期限切れを表す。errors.Is(err, ErrTokenInvalid) も成立する。
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrTokenInvalid)
)

// tokenClaims はトークンに埋め込むクレーム。
type tokenClaims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenAuthority はHS256署名付きのセッショントークンを発行・検証する。
// 署名鍵は生成時に複製して保持し、以後変更しない。
type TokenAuthority struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// TokenAuthorityOption はTokenAuthorityの生成オプション。
type TokenAuthorityOption func(*TokenAuthority)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) TokenAuthorityOption {
	return func(a *TokenAuthority) {
		a.now = now
	}
}

// WithDefaultTTL は既定の有効期間を変更する。
func WithDefaultTTL(ttl time.Duration) TokenAuthorityOption {
	return func(a *TokenAuthority) {
		if ttl > 0 {
			a.defaultTTL = ttl
		}
	}
}

// NewTokenAuthority はTokenAuthorityを生成する。
// 署名鍵が空の場合はエラーを返す。
func NewTokenAuthority(secret []byte, opts ...TokenAuthorityOption) (*TokenAuthority, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signing secret is empty")
	}
	a := &TokenAuthority{
		secret:     append([]byte(nil), secret...),
		defaultTTL: DefaultTokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Issue はIdentityを埋め込んだトークンを発行する。
// ttlが0以下の場合は既定の有効期間を使う。
func (a *TokenAuthority) Issue(identity model.Identity, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = a.defaultTTL
	}
	now := a.now()
	claims := tokenClaims{
		UserID:  identity.UserID,
		Email:   identity.Email,
		IsAdmin: identity.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiryOf(now, ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// expiryOf はnow+ttlを秒単位に切り上げた有効期限を返す。
// expは秒精度で記録されるため、切り捨てると発行直後のトークンが失効しうる。
func expiryOf(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if truncated := exp.Truncate(time.Second); !truncated.Equal(exp) {
		return truncated.Add(time.Second)
	}
	return exp
}

// Verify はトークンを検証し、埋め込まれたIdentityを返す。
// 検証は全か無かで、失敗時は常にゼロ値のIdentityとErrTokenInvalid系のエラーを返す。
func (a *TokenAuthority) Verify(token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, ErrTokenInvalid
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Identity{}, ErrTokenExpired
		}
		return model.Identity{}, ErrTokenInvalid
	}
	if !parsed.Valid || claims.UserID == "" {
		return model.Identity{}, ErrTokenInvalid
	}

	return model.Identity{
		UserID:  claims.UserID,
		Email:   claims.Email,
		IsAdmin: claims.IsAdmin,
	}, nil
}

// BearerToken は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
// 形式が異なる場合は空文字を返す。
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
