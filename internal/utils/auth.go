package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ShiftTokenTTL bounds a shift token; a shift longer than this must reopen.
const ShiftTokenTTL = 16 * time.Hour

// HashPIN hashes an operator PIN using bcrypt
func HashPIN(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), 10)
	return string(bytes), err
}

// CheckPINHash compares a PIN with a hash
func CheckPINHash(pin, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	return err == nil
}

// ShiftClaims identifies the cart session a terminal works on.
type ShiftClaims struct {
	SessionID string
	Operator  string
	Profile   string
}

// GenerateShiftToken signs a token for an open shift.
func GenerateShiftToken(c ShiftClaims, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	if ttl <= 0 {
		ttl = ShiftTokenTTL
	}
	claims := jwt.MapClaims{
		"sid":      c.SessionID,
		"operator": c.Operator,
		"profile":  c.Profile,
		"type":     "shift",
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and validates a token
func ValidateToken(tokenString string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// ParseShiftToken validates a shift token and extracts its claims.
func ParseShiftToken(tokenString, secret string) (ShiftClaims, error) {
	claims, err := ValidateToken(tokenString, secret)
	if err != nil {
		return ShiftClaims{}, err
	}
	if t, _ := claims["type"].(string); t != "shift" {
		return ShiftClaims{}, errors.New("not a shift token")
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return ShiftClaims{}, errors.New("shift token without session")
	}
	operator, _ := claims["operator"].(string)
	profile, _ := claims["profile"].(string)
	return ShiftClaims{SessionID: sid, Operator: operator, Profile: profile}, nil
}
