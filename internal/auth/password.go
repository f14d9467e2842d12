package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// パスワード強度チェックの失敗理由
const (
	ReasonPasswordTooShort = "Password must be at least 8 characters long"
	ReasonPasswordCharset  = "Password must contain uppercase, lowercase, and numbers"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// ErrPasswordTooLong はbcryptが扱えない長さのパスワードを表す。
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// HashPassword はパスワードをbcryptでハッシュ化する。
// ソルトはハッシュ値に埋め込まれる。
func HashPassword(password string) (string, error) {
	if len(password) > 72 {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword はパスワードがハッシュ値と一致するかを返す。
// 不一致や壊れたハッシュ値はfalseとして扱い、エラーにはしない。
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckPasswordStrength はパスワード強度を検査する。
// 最初に違反したルールを理由として返す。問題なければ空文字を返す。
func CheckPasswordStrength(password string) (bool, string) {
	var length int
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if length < MinPasswordLength {
		return false, ReasonPasswordTooShort
	}
	if !hasUpper || !hasLower || !hasDigit {
		return false, ReasonPasswordCharset
	}
	return true, ""
}
