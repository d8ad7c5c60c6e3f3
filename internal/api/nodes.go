package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attestia/attestia/internal/identity"
	"github.com/attestia/attestia/internal/nodes"
)

// NodeHandler handles HTTP requests for the node registry.
type NodeHandler struct {
	svc    *nodes.Service
	tokens *identity.UserTokenIssuer
	logger *zap.Logger
}

// NewNodeHandler creates a NodeHandler.
func NewNodeHandler(svc *nodes.Service, tokens *identity.UserTokenIssuer, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts all node routes on the given router group. Registration is
// public; listing, detail, and verification decisions are operator-only.
func (h *NodeHandler) Register(rg *gin.RouterGroup) {
	ns := rg.Group("/nodes")
	{
		ns.POST("", h.RegisterNode)
		ns.GET("", identity.RequireRole(h.tokens, "operator"), h.ListNodes)
		ns.GET("/:id", identity.RequireRole(h.tokens, "operator"), h.GetNode)
		ns.POST("/:id/verify", identity.RequireRole(h.tokens, "operator"), h.VerifyNode)
	}
}

// RegisterNode handles POST /nodes — registers an accountability node.
// The generated API key appears only in this response.
func (h *NodeHandler) RegisterNode(c *gin.Context) {
	var req nodes.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	node, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, nodes.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("register node", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"node":    node,
		"api_key": node.APIKey,
		"note":    "store the API key now; it is not retrievable later",
	})
}

// ListNodes handles GET /nodes — operator listing, optionally by status.
func (h *NodeHandler) ListNodes(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list nodes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := list[:0]
		for _, n := range list {
			if string(n.Status) == status {
				filtered = append(filtered, n)
			}
		}
		list = filtered
	}

	c.JSON(http.StatusOK, gin.H{"nodes": list, "count": len(list)})
}

// GetNode handles GET /nodes/:id — node detail plus recent audit activity.
func (h *NodeHandler) GetNode(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node id"})
		return
	}

	node, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, nodes.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return
		}
		h.logger.Error("get node", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("activity_limit", "20"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	activity, err := h.svc.RecentActivity(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.Warn("recent activity", zap.String("node_id", id.String()), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"node": node, "recent_activity": activity})
}

type verifyNodeRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

// VerifyNode handles POST /nodes/:id/verify — the operator decision.
func (h *NodeHandler) VerifyNode(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node id"})
		return
	}

	var req verifyNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "approve is required"})
		return
	}

	actor := "operator"
	if claims := identity.UserClaimsFromCtx(c); claims != nil && claims.Email != "" {
		actor = claims.Email
	}

	node, err := h.svc.Decide(c.Request.Context(), id, *req.Approve, actor)
	if err != nil {
		switch {
		case errors.Is(err, nodes.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		case errors.Is(err, nodes.ErrAlreadyDecided):
			c.JSON(http.StatusConflict, gin.H{"error": "node already decided"})
		default:
			h.logger.Error("node decision", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "decision failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"node": node})
}
