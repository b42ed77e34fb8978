package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const identityKey = "auth.identity"

type ErrorResponse struct {
	Error string `json:"error"`
}

// Middleware rejects requests without a verifiable bearer token and stores
// the caller's Identity on the gin context.
func Middleware(verifier Verifier, log zerolog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, ok := bearerToken(ctx.GetHeader("Authorization"))
		if !ok {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "Unauthorized: Missing token",
			})
			return
		}

		identity, err := verifier.Verify(ctx.Request.Context(), token)
		if err != nil {
			log.Debug().Err(err).Str("path", ctx.Request.URL.Path).Msg("token rejected")
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "Unauthorized: Invalid token",
			})
			return
		}

		ctx.Set(identityKey, identity)
		ctx.Next()
	}
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx *gin.Context) (*Identity, bool) {
	v, ok := ctx.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*Identity)
	return identity, ok
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
