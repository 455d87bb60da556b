package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const requesterKey = "requester"

type tokenClaims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// RequireAuth verifies the HS256 bearer token, loads the user it names and
// stores the resulting domain.Requester on the gin context.
func RequireAuth(secret []byte, users repository.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortWith(c, domain.NewError(domain.KindUnauthorized, "authorization token required"))
			return
		}

		var claims tokenClaims
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), &claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || claims.ID == "" {
			slog.WarnContext(c.Request.Context(), "rejected token", "error", err)
			abortWith(c, domain.NewError(domain.KindUnauthorized, "request is not authorized"))
			return
		}

		user, err := users.FindByID(c.Request.Context(), claims.ID)
		if err != nil {
			abortWith(c, domain.Internal(err))
			return
		}
		if user == nil {
			abortWith(c, domain.NewError(domain.KindUnauthorized, "user not found"))
			return
		}

		c.Set(requesterKey, domain.Requester{ID: user.ID, IsAdmin: user.IsAdmin()})
		c.Next()
	}
}

func requesterFrom(c *gin.Context) domain.Requester {
	v, _ := c.Get(requesterKey)
	r, _ := v.(domain.Requester)
	return r
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidTransition, domain.KindInsufficientStock, domain.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	msg := err.Error()
	var de *domain.Error
	if errors.As(err, &de) && de.Message != "" {
		msg = de.Message
	}
	if kind == domain.KindInternal {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(statusFor(kind), ErrorResponse{Error: msg, Kind: string(kind)})
}

func abortWith(c *gin.Context, err error) {
	writeError(c, err)
	c.Abort()
}
