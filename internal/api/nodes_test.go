package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attestia/attestia/internal/ledger"
	"github.com/attestia/attestia/internal/nodes"
)

func registrationBody() gin.H {
	return gin.H{
		"org_name":      "Harborline Audit",
		"country":       "DE",
		"org_type":      "regulator",
		"jurisdiction":  "EU",
		"contact_email": "contact@harborline.example",
		"public_key":    "mpiKF2pF6HKUvTmvvFtEyzoKyTm38cFzZpyTRqVKQQY=",
		"api_endpoint":  "https://harborline.example/ledger",
	}
}

func TestRegisterNode(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/nodes", registrationBody(), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Node   nodes.Node `json:"node"`
		APIKey string     `json:"api_key"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Node.Status != nodes.StatusPending {
		t.Errorf("status = %q, want pending", resp.Node.Status)
	}
	if resp.APIKey == "" {
		t.Error("expected api_key in registration response")
	}

	// The serialized node must never carry the key.
	var raw map[string]json.RawMessage
	json.Unmarshal(w.Body.Bytes(), &raw)
	var nodeFields map[string]any
	json.Unmarshal(raw["node"], &nodeFields)
	if _, leaked := nodeFields["api_key"]; leaked {
		t.Error("api_key leaked inside the node object")
	}
}

func TestRegisterNode_missingFields(t *testing.T) {
	f := newFixture(t)
	body := registrationBody()
	delete(body, "contact_email")

	w := f.do(t, http.MethodPost, "/api/v1/nodes", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListNodes_operatorOnly(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/nodes", registrationBody(), nil)

	w := f.do(t, http.MethodGet, "/api/v1/nodes", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d, want 401", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/v1/nodes", nil, f.memberHeader(t))
	if w.Code != http.StatusForbidden {
		t.Errorf("member: %d, want 403", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/v1/nodes", nil, f.operatorHeader(t))
	if w.Code != http.StatusOK {
		t.Fatalf("operator: %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("count = %d", resp.Count)
	}
}

func TestVerifyNodeDecision(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/nodes", registrationBody(), nil)
	var reg struct {
		Node nodes.Node `json:"node"`
	}
	json.Unmarshal(w.Body.Bytes(), &reg)
	id := reg.Node.ID.String()

	// Operator approves.
	w = f.do(t, http.MethodPost, "/api/v1/nodes/"+id+"/verify", gin.H{"approve": true}, f.operatorHeader(t))
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}
	var decided struct {
		Node nodes.Node `json:"node"`
	}
	json.Unmarshal(w.Body.Bytes(), &decided)
	if decided.Node.Status != nodes.StatusVerified {
		t.Errorf("status = %q, want verified", decided.Node.Status)
	}

	// Approval wrote a system-originated ledger entry.
	entries, err := f.store.All(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].EntryType != ledger.TypeNodeVerification {
		t.Errorf("expected one node_verification entry, got %d", len(entries))
	}

	// Decisions are one-way.
	w = f.do(t, http.MethodPost, "/api/v1/nodes/"+id+"/verify", gin.H{"approve": false}, f.operatorHeader(t))
	if w.Code != http.StatusConflict {
		t.Errorf("second decision: %d, want 409", w.Code)
	}
}

func TestVerifyNode_authz(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/nodes", registrationBody(), nil)
	var reg struct {
		Node nodes.Node `json:"node"`
	}
	json.Unmarshal(w.Body.Bytes(), &reg)

	// A member session is rejected before the decision runs: the node stays
	// pending and no ledger entry is written.
	w = f.do(t, http.MethodPost, "/api/v1/nodes/"+reg.Node.ID.String()+"/verify", gin.H{"approve": true}, f.memberHeader(t))
	if w.Code != http.StatusForbidden {
		t.Errorf("member: %d, want 403", w.Code)
	}
	got, err := f.nodeSvc.Get(t.Context(), reg.Node.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != nodes.StatusPending {
		t.Errorf("status after forbidden decision = %q, want pending", got.Status)
	}
	if entries, _ := f.store.All(t.Context()); len(entries) != 0 {
		t.Errorf("forbidden decision wrote %d ledger entries", len(entries))
	}

	w = f.do(t, http.MethodPost, "/api/v1/nodes/"+uuid.NewString()+"/verify", gin.H{"approve": true}, f.operatorHeader(t))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown node: %d, want 404", w.Code)
	}
}

func TestGetNodeDetail(t *testing.T) {
	f := newFixture(t)
	key := f.registerVerifiedNode(t)

	// One entry so the node has audit activity.
	f.do(t, http.MethodPost, "/api/v1/ledger/entries", gin.H{
		"entry_type": "compliance_event",
		"payload":    gin.H{"check": "detail"},
	}, map[string]string{"X-API-Key": key})

	w := f.do(t, http.MethodGet, "/api/v1/nodes", nil, f.operatorHeader(t))
	var list struct {
		Nodes []nodes.Node `json:"nodes"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Nodes) != 1 {
		t.Fatalf("nodes = %d", len(list.Nodes))
	}

	w = f.do(t, http.MethodGet, "/api/v1/nodes/"+list.Nodes[0].ID.String(), nil, f.operatorHeader(t))
	if w.Code != http.StatusOK {
		t.Fatalf("detail: %d", w.Code)
	}
	var detail struct {
		Node           nodes.Node        `json:"node"`
		RecentActivity []json.RawMessage `json:"recent_activity"`
	}
	json.Unmarshal(w.Body.Bytes(), &detail)
	if detail.Node.Status != nodes.StatusVerified {
		t.Errorf("status = %q", detail.Node.Status)
	}
	if len(detail.RecentActivity) == 0 {
		t.Error("expected recent activity rows")
	}
}
