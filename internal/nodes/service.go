package nodes

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attestia/attestia/internal/audit"
	"github.com/attestia/attestia/internal/email"
	"github.com/attestia/attestia/internal/ledger"
)

// apiKeyPrefix marks attestia node keys so leaked credentials are easy to
// grep for in logs and dumps.
const apiKeyPrefix = "aln_"

// DefaultInactiveAfter is the liveness threshold: a verified node with no
// audit-trail activity for this long is flagged inactive.
const DefaultInactiveAfter = 72 * time.Hour

// entryAppender is the slice of the ledger service the node registry needs:
// writing the self-referential "node_verification" entry on approval.
type entryAppender interface {
	Append(ctx context.Context, req ledger.AppendRequest) (*ledger.Entry, error)
}

// Service contains node lifecycle logic: registration, the operator
// verification decision, API-key authentication, and the liveness sweep.
type Service struct {
	repo          Repository
	ledger        entryAppender // nil = approval entries are skipped
	trail         audit.Trail   // nil = no activity reads
	mailer        email.EmailSender
	opsEmail      string // operator inbox notified of new registrations
	inactiveAfter time.Duration
	logger        *zap.Logger
}

// NewService creates a node Service. ledger and trail may be nil.
func NewService(repo Repository, appender entryAppender, trail audit.Trail, mailer email.EmailSender, logger *zap.Logger) *Service {
	if mailer == nil {
		mailer = email.NewNoopSender(logger)
	}
	return &Service{
		repo:          repo,
		ledger:        appender,
		trail:         trail,
		mailer:        mailer,
		inactiveAfter: DefaultInactiveAfter,
		logger:        logger,
	}
}

// SetLedger configures the ledger appender. Used at wiring time because the
// ledger service and node service reference each other.
func (s *Service) SetLedger(appender entryAppender) { s.ledger = appender }

// SetOperatorEmail configures the inbox notified about new registrations.
func (s *Service) SetOperatorEmail(addr string) { s.opsEmail = addr }

// SetInactiveAfter overrides the liveness threshold.
func (s *Service) SetInactiveAfter(d time.Duration) {
	if d > 0 {
		s.inactiveAfter = d
	}
}

// Register creates an unverified node with a freshly generated API key and
// notifies operators. The key is returned exactly once, on the created node.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Node, error) {
	if req.OrgName == "" || req.Country == "" || req.OrgType == "" ||
		req.Jurisdiction == "" || req.ContactEmail == "" || req.PublicKey == "" {
		return nil, ErrValidation
	}
	if _, err := decodePublicKey(req.PublicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	key, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	n := &Node{
		OrgName:      req.OrgName,
		Country:      req.Country,
		OrgType:      req.OrgType,
		Jurisdiction: req.Jurisdiction,
		ContactEmail: req.ContactEmail,
		PublicKey:    req.PublicKey,
		APIEndpoint:  req.APIEndpoint,
		APIKey:       key,
		Status:       StatusPending,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	if s.opsEmail != "" {
		subject := fmt.Sprintf("Node registration pending review: %s", n.OrgName)
		body := fmt.Sprintf("Organization %s (%s, %s) registered and awaits a verification decision.\nNode id: %s",
			n.OrgName, n.Country, n.Jurisdiction, n.ID)
		if err := s.mailer.Send(ctx, s.opsEmail, subject, body); err != nil {
			s.logger.Warn("notify operators of registration", zap.Error(err))
		}
	}

	s.logger.Info("node registered",
		zap.String("node_id", n.ID.String()),
		zap.String("org_name", n.OrgName),
	)
	return n, nil
}

// Decide applies the operator's verification decision. The transition is
// one-way: a node that is already verified or rejected cannot be decided
// again. On approval a "node_verification" ledger entry is appended and the
// contact address is notified either way. actor identifies the operator for
// the ledger record.
func (s *Service) Decide(ctx context.Context, nodeID uuid.UUID, approve bool, actor string) (*Node, error) {
	n, err := s.repo.GetByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if n.Status != StatusPending {
		return nil, ErrAlreadyDecided
	}

	status := StatusRejected
	if approve {
		status = StatusVerified
	}
	if err := s.repo.UpdateStatus(ctx, nodeID, status); err != nil {
		return nil, err
	}
	n.Status = status

	if approve && s.ledger != nil {
		payload, err := json.Marshal(map[string]string{
			"node_id":  n.ID.String(),
			"org_name": n.OrgName,
			"country":  n.Country,
			"actor":    actor,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal verification payload: %w", err)
		}
		if _, err := s.ledger.Append(ctx, ledger.AppendRequest{
			EntryType: ledger.TypeNodeVerification,
			Payload:   payload,
			Internal:  true,
		}); err != nil {
			// The status change already committed; surface the gap loudly
			// rather than unwinding an operator decision.
			s.logger.Error("append node_verification entry", zap.Error(err))
		}
	}

	verdict := "rejected"
	if approve {
		verdict = "approved"
	}
	subject := fmt.Sprintf("Your accountability node registration was %s", verdict)
	if err := s.mailer.Send(ctx, n.ContactEmail, subject,
		fmt.Sprintf("Registration for %s has been %s.", n.OrgName, verdict)); err != nil {
		s.logger.Warn("notify node contact of decision", zap.Error(err))
	}

	s.logger.Info("node verification decided",
		zap.String("node_id", n.ID.String()),
		zap.Bool("approved", approve),
		zap.String("actor", actor),
	)
	return n, nil
}

// Authenticate resolves an API key to its node. Only verified nodes
// authenticate; pending and rejected nodes get ErrUnauthorized, same as an
// unknown key, so the response does not leak registration state.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*Node, error) {
	if apiKey == "" {
		return nil, ErrUnauthorized
	}
	n, err := s.repo.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !n.Verified() {
		return nil, ErrUnauthorized
	}
	return n, nil
}

// PublicKey implements ledger.KeyResolver: it returns the node's registered
// Ed25519 key for signature verification on the append path.
func (s *Service) PublicKey(ctx context.Context, nodeID uuid.UUID) (ed25519.PublicKey, error) {
	n, err := s.repo.GetByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return decodePublicKey(n.PublicKey)
}

// Get returns a node by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Node, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all nodes, newest first.
func (s *Service) List(ctx context.Context) ([]*Node, error) {
	return s.repo.List(ctx)
}

// RecentActivity returns the node's latest audit-trail rows, newest first.
func (s *Service) RecentActivity(ctx context.Context, nodeID uuid.UUID, limit int) ([]*audit.Record, error) {
	if s.trail == nil {
		return nil, nil
	}
	return s.trail.ListForNode(ctx, nodeID, limit)
}

// SweepSummary is the result of one liveness sweep.
type SweepSummary struct {
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// LivenessSweep checks every verified node's most recent audit-trail
// activity (falling back to its registration time) against the inactivity
// threshold. Stale nodes are flagged in the logs, never auto-revoked.
// last_active_at is updated to the observed timestamp in both branches, so
// the sweep is idempotent.
func (s *Service) LivenessSweep(ctx context.Context) (SweepSummary, error) {
	verified, err := s.repo.ListByStatus(ctx, StatusVerified)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("list verified nodes: %w", err)
	}

	var sum SweepSummary
	now := time.Now().UTC()
	for _, n := range verified {
		lastSeen := n.CreatedAt
		if s.trail != nil {
			rec, err := s.trail.LatestForNode(ctx, n.ID)
			if err != nil {
				return sum, fmt.Errorf("latest activity for node %s: %w", n.ID, err)
			}
			if rec != nil {
				lastSeen = rec.CreatedAt
			}
		}

		if now.Sub(lastSeen) > s.inactiveAfter {
			sum.Inactive++
			s.logger.Warn("node inactive",
				zap.String("node_id", n.ID.String()),
				zap.String("org_name", n.OrgName),
				zap.Time("last_seen", lastSeen),
			)
		} else {
			sum.Active++
		}

		if err := s.repo.UpdateLastActive(ctx, n.ID, lastSeen); err != nil {
			return sum, fmt.Errorf("update last_active_at for node %s: %w", n.ID, err)
		}
	}

	s.logger.Info("liveness sweep complete",
		zap.Int("active", sum.Active),
		zap.Int("inactive", sum.Inactive),
	)
	return sum, nil
}

// generateAPIKey produces a 160-bit random key, base32 without padding.
func generateAPIKey() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return apiKeyPrefix + strings.ToLower(enc.EncodeToString(buf)), nil
}

// decodePublicKey parses a base64 Ed25519 public key.
func decodePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("public key is not valid base64: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
