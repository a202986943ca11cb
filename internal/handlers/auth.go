package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type Access int

const (
	AccessNone Access = iota
	AccessRead
	AccessWrite
)

// Authorizer resolves the caller's access level from the request.
type Authorizer interface {
	Authorize(r *http.Request) Access
}

// TokenAuthorizer grants read or write access by bearer token. The write
// token also grants read access. An empty token grants nothing.
type TokenAuthorizer struct {
	ReadToken  string
	WriteToken string
}

func bearer(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (a TokenAuthorizer) Authorize(r *http.Request) Access {
	token := bearer(r)
	if token == "" {
		return AccessNone
	}
	switch {
	case a.WriteToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.WriteToken)) == 1:
		return AccessWrite
	case a.ReadToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.ReadToken)) == 1:
		return AccessRead
	}
	return AccessNone
}

const scopeWrite = "write"

// JWTAuthorizer accepts HS256 tokens signed with Secret. A "scope" claim of
// "write" grants write access; any other valid token grants read access.
type JWTAuthorizer struct {
	Secret string
}

func (a JWTAuthorizer) Authorize(r *http.Request) Access {
	raw := bearer(r)
	if raw == "" || a.Secret == "" {
		return AccessNone
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(a.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return AccessNone
	}
	if scope, _ := claims["scope"].(string); scope == scopeWrite {
		return AccessWrite
	}
	return AccessRead
}

// SignToken issues a token JWTAuthorizer accepts.
func SignToken(secret, subject string, write bool, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	scope := "read"
	if write {
		scope = scopeWrite
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"scope": scope,
		"exp":   time.Now().Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// Authorizers grants the highest access any member grants.
type Authorizers []Authorizer

func (as Authorizers) Authorize(r *http.Request) Access {
	best := AccessNone
	for _, a := range as {
		if got := a.Authorize(r); got > best {
			best = got
		}
	}
	return best
}

func requireAccess(auth Authorizer, level Access) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := auth.Authorize(c.Request)
		if got == AccessNone {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if got < level {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "write access required"})
			return
		}
		c.Next()
	}
}

// RequireSession rejects requests without a valid session.
func RequireSession(auth Authorizer) gin.HandlerFunc {
	return requireAccess(auth, AccessRead)
}

// RequireWriteAccess rejects callers that may only read.
func RequireWriteAccess(auth Authorizer) gin.HandlerFunc {
	return requireAccess(auth, AccessWrite)
}
