package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attestia/attestia/internal/identity"
	"github.com/attestia/attestia/internal/ledger"
)

// LedgerHandler handles HTTP requests for the hash chain.
type LedgerHandler struct {
	svc      *ledger.Service
	verifier *ledger.Verifier
	anchor   *ledger.Anchor
	exporter *ledger.Exporter
	nodes    nodeAuthenticator
	tokens   *identity.UserTokenIssuer
	logger   *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler over the given services.
func NewLedgerHandler(
	svc *ledger.Service,
	anchor *ledger.Anchor,
	auth nodeAuthenticator,
	tokens *identity.UserTokenIssuer,
	logger *zap.Logger,
) *LedgerHandler {
	store := svc.Store()
	return &LedgerHandler{
		svc:      svc,
		verifier: ledger.NewVerifier(store),
		anchor:   anchor,
		exporter: ledger.NewExporter(store),
		nodes:    auth,
		tokens:   tokens,
		logger:   logger,
	}
}

// Register mounts all ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	lg := rg.Group("/ledger")
	{
		lg.POST("/entries", RequireSubmitAuth(h.nodes, h.tokens), h.SubmitEntry)
		lg.GET("", h.Overview)
		lg.GET("/entries/:block", h.GetByBlock)
		lg.GET("/entries/id/:id", h.GetByID)
		lg.GET("/verify/:id", h.VerifyEntry)
		lg.GET("/audit", h.AuditChain)
		lg.GET("/export", h.Export)
		lg.POST("/anchor", identity.RequireRole(h.tokens, "operator"), h.AnchorNow)
		lg.GET("/checkpoints", h.Checkpoints)
	}
}

type submitEntryRequest struct {
	EntryType string          `json:"entry_type" binding:"required"`
	Payload   json.RawMessage `json:"payload"    binding:"required"`
	Signature string          `json:"signature"`
}

// SubmitEntry handles POST /ledger/entries — appends a new chain entry.
func (h *LedgerHandler) SubmitEntry(c *gin.Context) {
	var req submitEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ar := ledger.AppendRequest{
		EntryType: req.EntryType,
		Payload:   req.Payload,
		Signature: req.Signature,
	}
	if node := NodeFromCtx(c); node != nil {
		ar.NodeID = &node.ID
	} else {
		// Session-authenticated submissions arrive over the trusted channel.
		ar.Internal = true
	}

	entry, err := h.svc.Append(c.Request.Context(), ar)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrInvalidSignature):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("append entry", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "append failed"})
		}
		return
	}

	RecordEntryAppend(entry.Verified)
	c.JSON(http.StatusCreated, gin.H{
		"id":           entry.ID,
		"hash":         entry.Hash,
		"block_number": entry.BlockNumber,
		"verified":     entry.Verified,
	})
}

// Overview handles GET /ledger — chain summary.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	store := h.svc.Store()

	count, err := store.Count(ctx)
	if err != nil {
		h.logger.Error("count entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	tip, err := store.Tip(ctx)
	if err != nil {
		h.logger.Error("read tip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	cp, err := store.LatestCheckpoint(ctx)
	if err != nil {
		h.logger.Error("latest checkpoint", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}

	resp := gin.H{"entries": count}
	if tip != nil {
		resp["tip_hash"] = tip.Hash
		resp["tip_block"] = tip.BlockNumber
	}
	if cp != nil {
		resp["checkpoint"] = cp
	}
	c.JSON(http.StatusOK, resp)
}

// GetByBlock handles GET /ledger/entries/:block.
func (h *LedgerHandler) GetByBlock(c *gin.Context) {
	block, err := strconv.ParseInt(c.Param("block"), 10, 64)
	if err != nil || block < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block number"})
		return
	}

	entry, err := h.svc.Store().GetByBlock(c.Request.Context(), block)
	if err != nil {
		h.respondLookupErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// GetByID handles GET /ledger/entries/id/:id.
func (h *LedgerHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	entry, err := h.svc.Store().GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondLookupErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// VerifyEntry handles GET /ledger/verify/:id — recomputes the entry digest
// and checks its chain link. Integrity failure is a 200 with the flags set
// to false, not an error status.
func (h *LedgerHandler) VerifyEntry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	result, err := h.verifier.Verify(c.Request.Context(), id)
	if err != nil {
		h.respondLookupErr(c, err)
		return
	}

	RecordVerification(result.OverallValid)
	c.JSON(http.StatusOK, result)
}

// AuditChain handles GET /ledger/audit — full replay of the chain from
// genesis: contiguity, link integrity, and every entry digest.
func (h *LedgerHandler) AuditChain(c *gin.Context) {
	if err := h.verifier.Audit(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Export handles GET /ledger/export?format=json|csv — downloadable snapshot
// of the verified chain plus the latest checkpoint.
func (h *LedgerHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	stamp := time.Now().UTC().Format("2006-01-02")

	switch format {
	case "json":
		c.Header("Content-Type", "application/json")
		c.Header("Content-Disposition", `attachment; filename="ledger-`+stamp+`.json"`)
		if err := h.exporter.WriteJSON(c.Request.Context(), c.Writer); err != nil {
			h.logger.Error("export json", zap.Error(err))
		}
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="ledger-`+stamp+`.csv"`)
		if err := h.exporter.WriteCSV(c.Request.Context(), c.Writer); err != nil {
			h.logger.Error("export csv", zap.Error(err))
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or csv"})
	}
}

// AnchorNow handles POST /ledger/anchor — operator-triggered checkpoint.
func (h *LedgerHandler) AnchorNow(c *gin.Context) {
	cp, err := h.anchor.AnchorRoot(c.Request.Context())
	if err != nil {
		if errors.Is(err, ledger.ErrNothingToAnchor) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no verified entries to anchor"})
			return
		}
		h.logger.Error("anchor root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "anchoring failed"})
		return
	}

	RecordCheckpoint()
	c.JSON(http.StatusCreated, cp)
}

// Checkpoints handles GET /ledger/checkpoints — checkpoint history.
func (h *LedgerHandler) Checkpoints(c *gin.Context) {
	cps, err := h.svc.Store().ListCheckpoints(c.Request.Context())
	if err != nil {
		h.logger.Error("list checkpoints", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": cps, "count": len(cps)})
}

func (h *LedgerHandler) respondLookupErr(c *gin.Context, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	h.logger.Error("ledger lookup", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
}
