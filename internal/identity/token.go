package identity

import (
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const issuer = "buddychat"

// Sign issues an HS256 bearer token carrying the user's profile claims.
func Sign(u *User, secret string, ttl time.Duration) (string, error) {
	if err := Require(u); err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"sub":     u.ID,
		"name":    u.DisplayName,
		"email":   u.Email,
		"picture": u.PhotoURL,
		"iss":     issuer,
		"exp":     time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Verify parses and validates a bearer token and maps its claims back to a
// User. Expired or tampered tokens yield an error, never a partial user.
func Verify(tokenString, secret string) (*User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrNoIdentity
	}
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)
	picture, _ := claims["picture"].(string)

	return &User{
		ID:          sub,
		DisplayName: name,
		Email:       email,
		PhotoURL:    picture,
	}, nil
}
