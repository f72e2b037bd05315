package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はアクセストークンの形式または署名が不正であることを示す。
var ErrInvalidToken = errors.New("invalid access token")

// AccessClaims はプロバイダーが発行するアクセストークンのクレーム。
// GoTrue互換の形式（sub, email, role）に合わせている。
type AccessClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SignAccessToken はHS256でアクセストークンを署名する。
func SignAccessToken(secret []byte, userID, email string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("userID is required")
	}
	claims := AccessClaims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken はアクセストークンのクレームを取り出す。
// secretが空の場合は署名を検証せずに読み取る（有効期限の判定のみに使う）。
// 有効期限切れは呼び出し側がExpiresAtで判断するため、ここではエラーにしない。
func ParseAccessToken(token string, secret []byte) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &AccessClaims{}
	if len(secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return claims, nil
	}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return claims, nil
}

// ExpiryOf はアクセストークンのexpクレームを返す。読み取れない場合はゼロ値。
func ExpiryOf(token string) time.Time {
	claims, err := ParseAccessToken(token, nil)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
