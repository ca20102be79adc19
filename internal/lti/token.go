package lti

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Annotator tokens are short-lived; the client refreshes them per launch.
const tokenTTL = 3600 * time.Second

// TokenClaims is the payload the remote annotation database expects in the
// x-annotator-auth-token header.
type TokenClaims struct {
	ConsumerKey string `json:"consumerKey"`
	UserID      string `json:"userId"`
	IssuedAt    string `json:"issuedAt"`
	TTL         int64  `json:"ttl"`
	jwt.RegisteredClaims
}

// RetrieveToken mints an opaque bearer token for the given user against the
// remote annotation database's api key and secret.
func RetrieveToken(userID, apiKey, secret string) (string, error) {
	now := time.Now().UTC()
	claims := TokenClaims{
		ConsumerKey: apiKey,
		UserID:      userID,
		IssuedAt:    now.Format(time.RFC3339),
		TTL:         int64(tokenTTL.Seconds()),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a token minted by RetrieveToken.
func ParseToken(tokenString, secret string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
