package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
)

type ctxKey string

const ctxActor ctxKey = "actor"

// ActorClaims is the token payload issued by the auth service. This service
// only reads it.
type ActorClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SignActorToken issues an HS256 token for actor. Used by tests and tooling.
func SignActorToken(secret []byte, actor domain.Actor, ttl time.Duration) (string, error) {
	claims := ActorClaims{
		UserID: actor.ID,
		Role:   string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseActorToken(secret []byte, tokenString string) (domain.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Actor{}, err
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok {
		return domain.Actor{}, errors.New("invalid token claims")
	}
	return newActor(claims.UserID, claims.Role)
}

func newActor(id int64, role string) (domain.Actor, error) {
	actor := domain.Actor{ID: id, Role: domain.Role(role)}
	if actor.ID <= 0 {
		return domain.Actor{}, errors.New("actor id is required")
	}
	if !actor.Role.Valid() {
		return domain.Actor{}, errors.New("unknown role")
	}
	return actor, nil
}

func (h *HTTPHandler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		actor, err := parseActorToken(h.jwtSecret, tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxActor, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(ctxActor).(domain.Actor)
	return actor
}
