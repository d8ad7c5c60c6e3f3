// Package api mounts the HTTP surface of the ledger: entry submission and
// inspection, node registration, console auth, and operational endpoints.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/attestia/attestia/internal/identity"
	"github.com/attestia/attestia/internal/nodes"
)

// ctxNode is the gin context key under which the authenticated node is stored.
const ctxNode = "attestia_node"

// headerAPIKey carries a node's API key on submission requests.
const headerAPIKey = "X-API-Key"

// nodeAuthenticator resolves an API key to a verified node. Satisfied by
// *nodes.Service.
type nodeAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*nodes.Node, error)
}

// RequireSubmitAuth accepts either a node API key (X-API-Key header) or a
// user session Bearer token. Node submissions get the node attached to the
// context; session submissions count as internally originated.
func RequireSubmitAuth(auth nodeAuthenticator, tokens *identity.UserTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(headerAPIKey); key != "" {
			node, err := auth.Authenticate(c.Request.Context(), key)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "invalid or unverified API key",
				})
				return
			}
			c.Set(ctxNode, node)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") && tokens != nil {
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := tokens.Verify(tokenStr)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "invalid user token: " + err.Error(),
				})
				return
			}
			c.Set("attestia_user_claims", claims)
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "X-API-Key or Bearer token required",
		})
	}
}

// NodeFromCtx retrieves the node attached by RequireSubmitAuth, or nil for
// session-authenticated requests.
func NodeFromCtx(c *gin.Context) *nodes.Node {
	v, _ := c.Get(ctxNode)
	n, _ := v.(*nodes.Node)
	return n
}
