// Package jwt issues and validates consumer tokens for the pub/sub
// endpoint.
package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ConsumerClaims are the JWT claims of a pub/sub consumer token.
type ConsumerClaims struct {
	ConsumerID string `json:"consumer_id"`
	jwt.RegisteredClaims
}

// Config holds the signing secret and token lifetime.
type Config struct {
	Secret   []byte
	TokenTTL time.Duration
}

// GenerateConsumerToken creates a signed token for one consumer.
// Returns the token and its lifetime in seconds.
func GenerateConsumerToken(cfg Config, consumerID string) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(cfg.TokenTTL)

	claims := ConsumerClaims{
		ConsumerID: consumerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "hookline",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, int64(cfg.TokenTTL.Seconds()), nil
}

// ValidateConsumerToken validates and parses a consumer token.
func ValidateConsumerToken(cfg Config, tokenString string) (*ConsumerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ConsumerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*ConsumerClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
