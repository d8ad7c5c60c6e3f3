package nodes_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attestia/attestia/internal/audit"
	"github.com/attestia/attestia/internal/ledger"
	"github.com/attestia/attestia/internal/nodes"
)

var ctx = context.Background()

type sentMail struct {
	mu       sync.Mutex
	subjects []string
	to       []string
}

func (m *sentMail) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to)
	m.subjects = append(m.subjects, subject)
	return nil
}

func testPublicKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(pub)
}

func validRequest(t *testing.T) nodes.RegisterRequest {
	return nodes.RegisterRequest{
		OrgName:      "Verdane Watch",
		Country:      "NO",
		OrgType:      "ngo",
		Jurisdiction: "EEA",
		ContactEmail: "ops@verdanewatch.example",
		PublicKey:    testPublicKey(t),
		APIEndpoint:  "https://nodes.verdanewatch.example/hook",
	}
}

func newFixture(t *testing.T) (*nodes.Service, *nodes.MemoryRepository, *audit.MemoryTrail, *ledger.MemoryStore, *sentMail) {
	t.Helper()
	repo := nodes.NewMemoryRepository()
	trail := audit.NewMemoryTrail()
	store := ledger.NewMemoryStore()
	mail := &sentMail{}

	ledgerSvc := ledger.NewService(store, nil, trail, zap.NewNop())
	svc := nodes.NewService(repo, ledgerSvc, trail, mail, zap.NewNop())
	svc.SetOperatorEmail("operators@attestia.example")
	return svc, repo, trail, store, mail
}

func TestRegister_createsPendingNodeWithKey(t *testing.T) {
	svc, _, _, _, mail := newFixture(t)

	n, err := svc.Register(ctx, validRequest(t))
	if err != nil {
		t.Fatal(err)
	}
	if n.Status != nodes.StatusPending {
		t.Errorf("status = %q, want pending", n.Status)
	}
	if !strings.HasPrefix(n.APIKey, "aln_") {
		t.Errorf("api key %q missing prefix", n.APIKey)
	}
	if len(mail.to) != 1 || mail.to[0] != "operators@attestia.example" {
		t.Errorf("operators not notified: %v", mail.to)
	}
}

func TestRegister_missingFields(t *testing.T) {
	svc, _, _, _, _ := newFixture(t)

	req := validRequest(t)
	req.Country = ""
	if _, err := svc.Register(ctx, req); !errors.Is(err, nodes.ErrValidation) {
		t.Errorf("got %v, want ErrValidation", err)
	}
}

func TestRegister_rejectsMalformedPublicKey(t *testing.T) {
	svc, _, _, _, _ := newFixture(t)

	req := validRequest(t)
	req.PublicKey = "not-base64!!"
	if _, err := svc.Register(ctx, req); !errors.Is(err, nodes.ErrValidation) {
		t.Errorf("bad base64: got %v, want ErrValidation", err)
	}

	req = validRequest(t)
	req.PublicKey = base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := svc.Register(ctx, req); !errors.Is(err, nodes.ErrValidation) {
		t.Errorf("wrong key size: got %v, want ErrValidation", err)
	}
}

func TestDecide_approveWritesLedgerEntry(t *testing.T) {
	svc, _, _, store, mail := newFixture(t)
	n, err := svc.Register(ctx, validRequest(t))
	if err != nil {
		t.Fatal(err)
	}

	decided, err := svc.Decide(ctx, n.ID, true, "op@attestia.example")
	if err != nil {
		t.Fatal(err)
	}
	if decided.Status != nodes.StatusVerified {
		t.Errorf("status = %q, want verified", decided.Status)
	}

	entries, err := store.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry after approval, got %d", len(entries))
	}
	e := entries[0]
	if e.EntryType != ledger.TypeNodeVerification {
		t.Errorf("entry_type = %q, want %q", e.EntryType, ledger.TypeNodeVerification)
	}
	if !e.Verified {
		t.Error("system-originated verification entry should be verified")
	}
	if !strings.Contains(e.Payload, n.ID.String()) {
		t.Errorf("verification payload does not reference node: %s", e.Payload)
	}

	// Registration notice + decision notice.
	if len(mail.to) != 2 {
		t.Errorf("expected 2 notifications, got %v", mail.to)
	}
}

func TestDecide_rejectWritesNoLedgerEntry(t *testing.T) {
	svc, _, _, store, _ := newFixture(t)
	n, _ := svc.Register(ctx, validRequest(t))

	decided, err := svc.Decide(ctx, n.ID, false, "op@attestia.example")
	if err != nil {
		t.Fatal(err)
	}
	if decided.Status != nodes.StatusRejected {
		t.Errorf("status = %q, want rejected", decided.Status)
	}
	if count, _ := store.Count(ctx); count != 0 {
		t.Errorf("rejection must not write to the ledger, got %d entries", count)
	}
}

func TestDecide_isOneWay(t *testing.T) {
	svc, _, _, _, _ := newFixture(t)
	n, _ := svc.Register(ctx, validRequest(t))

	if _, err := svc.Decide(ctx, n.ID, true, "op"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Decide(ctx, n.ID, false, "op"); !errors.Is(err, nodes.ErrAlreadyDecided) {
		t.Errorf("second decision: got %v, want ErrAlreadyDecided", err)
	}
}

func TestDecide_unknownNode(t *testing.T) {
	svc, _, _, _, _ := newFixture(t)
	if _, err := svc.Decide(ctx, uuid.New(), true, "op"); !errors.Is(err, nodes.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _, _, _, _ := newFixture(t)
	n, _ := svc.Register(ctx, validRequest(t))

	// Pending node: key exists but must not authenticate.
	if _, err := svc.Authenticate(ctx, n.APIKey); !errors.Is(err, nodes.ErrUnauthorized) {
		t.Errorf("pending node authenticated: %v", err)
	}

	if _, err := svc.Decide(ctx, n.ID, true, "op"); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Authenticate(ctx, n.APIKey)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != n.ID {
		t.Errorf("authenticated wrong node: %s", got.ID)
	}

	if _, err := svc.Authenticate(ctx, "aln_bogus"); !errors.Is(err, nodes.ErrUnauthorized) {
		t.Errorf("unknown key: got %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Authenticate(ctx, ""); !errors.Is(err, nodes.ErrUnauthorized) {
		t.Errorf("empty key: got %v, want ErrUnauthorized", err)
	}
}

func TestLivenessSweep(t *testing.T) {
	svc, repo, trail, _, _ := newFixture(t)
	svc.SetInactiveAfter(72 * time.Hour)

	// Active node: audit activity just now.
	active, _ := svc.Register(ctx, validRequest(t))
	if _, err := svc.Decide(ctx, active.ID, true, "op"); err != nil {
		t.Fatal(err)
	}
	if err := trail.Record(ctx, active.ID, "entry_submitted", "abc"); err != nil {
		t.Fatal(err)
	}

	// Stale node: activity 80 hours ago.
	stale, _ := svc.Register(ctx, validRequest(t))
	if _, err := svc.Decide(ctx, stale.ID, true, "op"); err != nil {
		t.Fatal(err)
	}
	if err := trail.Record(ctx, stale.ID, "entry_submitted", "def"); err != nil {
		t.Fatal(err)
	}
	trail.Backdate(stale.ID, 80*time.Hour)

	// Silent node: verified but never active; registration 100 hours ago.
	silent, _ := svc.Register(ctx, validRequest(t))
	if _, err := svc.Decide(ctx, silent.ID, true, "op"); err != nil {
		t.Fatal(err)
	}
	repo.Backdate(silent.ID, 100*time.Hour)

	sum, err := svc.LivenessSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Active != 1 || sum.Inactive != 2 {
		t.Errorf("sweep = %+v, want 1 active / 2 inactive", sum)
	}

	// last_active_at reflects observed activity in both branches.
	for _, id := range []struct {
		name string
		node *nodes.Node
	}{{"active", active}, {"stale", stale}, {"silent", silent}} {
		got, err := repo.GetByID(ctx, id.node.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.LastActiveAt == nil {
			t.Errorf("%s node: last_active_at not set by sweep", id.name)
		}
	}

	// Idempotent: same summary on immediate re-run.
	again, err := svc.LivenessSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != sum {
		t.Errorf("re-run changed summary: %+v vs %+v", again, sum)
	}
}
