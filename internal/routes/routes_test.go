package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/database"
	"github.com/ukuvago/contractdesk/internal/models"
	"github.com/ukuvago/contractdesk/internal/services"
	"golang.org/x/crypto/bcrypt"
)

type tokenNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *tokenNotifier) SendSignatureRequest(c *models.Contract, r *models.SignatureRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[r.Email] = r.Token
	return nil
}

func (n *tokenNotifier) SendSignatureReminder(c *models.Contract, r *models.SignatureRequest) error {
	return nil
}

func (n *tokenNotifier) SendContractCompleted(c *models.Contract, r *models.SignatureRequest) error {
	return nil
}

func (n *tokenNotifier) SendContractDeclined(c *models.Contract, r *models.SignatureRequest) error {
	return nil
}

func (n *tokenNotifier) token(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type testServer struct {
	router   *gin.Engine
	notifier *tokenNotifier
	member   string
	viewer   string
	base     string
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DatabaseURL = filepath.Join(dir, "contracts.db")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.JWTSecret = "test-secret"
	cfg.SharePasswordCost = bcrypt.MinCost
	for _, m := range mutate {
		m(cfg)
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	notifier := &tokenNotifier{tokens: map[string]string{}}
	router := SetupRouter(cfg, db, services.Dependencies{Notifier: notifier})

	auth := services.NewAuthService(cfg)
	tenantID := uuid.New()
	member, err := auth.GenerateToken(uuid.New(), tenantID, "dana@example.com", "Dana Owner", services.RoleMember)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	viewer, err := auth.GenerateToken(uuid.New(), tenantID, "vic@example.com", "Vic Viewer", services.RoleViewer)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	return &testServer{
		router:   router,
		notifier: notifier,
		member:   member,
		viewer:   viewer,
		base:     "/api/opportunities/" + uuid.NewString() + "/contracts",
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("Expected structured error, got %v", body)
	}
	kind, _ := errObj["kind"].(string)
	return kind
}

func (s *testServer) createNDA(t *testing.T) string {
	t.Helper()
	w := s.do(t, "POST", s.base, s.member, gin.H{
		"type":  "nda",
		"title": "Mutual NDA",
		"sections": []gin.H{
			{"heading": "Confidentiality", "body": "Both parties keep shared information private."},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	contract := decode(t, w)["contract"].(map[string]any)
	return contract["id"].(string)
}

var twoSigners = []gin.H{
	{"name": "Alice Client", "email": "alice@client.test", "signer_type": "primary_client"},
	{"name": "Bob Consultant", "email": "bob@consult.test", "signer_type": "consultant"},
}

func typedSignature(name string) gin.H {
	return gin.H{"method": "typed", "typed_name": name, "agreed": true}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if decode(t, w)["db_connected"] != true {
		t.Error("Expected database to be reachable")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a request id header")
	}
}

func TestUnavailableWithoutDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := SetupRouter(config.Defaults(), nil, services.Dependencies{})

	req := httptest.NewRequest("GET", "/api/public/contracts/abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestSigningOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createNDA(t)

	w := s.do(t, "POST", s.base+"/"+id+"/send", s.member, twoSigners)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from send, got %d: %s", w.Code, w.Body.String())
	}

	alice := s.notifier.token("alice@client.test")
	bob := s.notifier.token("bob@consult.test")
	if alice == "" || bob == "" {
		t.Fatal("Expected both signers to be notified")
	}

	w = s.do(t, "GET", "/api/public/contracts/sign/"+alice, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from signing view, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["can_sign"] != true {
		t.Error("Expected signer to be able to sign")
	}

	w = s.do(t, "POST", "/api/public/contracts/sign/"+alice, "", typedSignature("Alice Client"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from sign, got %d: %s", w.Code, w.Body.String())
	}
	if status := decode(t, w)["contract_status"]; status != "partially_signed" {
		t.Errorf("Expected partially_signed, got %v", status)
	}

	w = s.do(t, "POST", "/api/public/contracts/sign/"+alice, "", typedSignature("Alice Client"))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 when signing twice, got %d", w.Code)
	}

	w = s.do(t, "POST", "/api/public/contracts/sign/"+bob, "", gin.H{"method": "typed", "typed_name": "Bob"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 without consent, got %d", w.Code)
	}

	w = s.do(t, "POST", "/api/public/contracts/sign/"+bob, "", typedSignature("Bob Consultant"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from final sign, got %d: %s", w.Code, w.Body.String())
	}
	if status := decode(t, w)["contract_status"]; status != "signed" {
		t.Errorf("Expected signed, got %v", status)
	}

	w = s.do(t, "GET", s.base+"/"+id+"/signatures", s.member, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from signatures, got %d", w.Code)
	}
	summary := decode(t, w)
	if summary["signed"] != float64(2) || summary["total"] != float64(2) {
		t.Errorf("Unexpected summary: %v", summary)
	}

	w = s.do(t, "GET", s.base+"/"+id+"/audit?limit=2", s.member, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from audit, got %d", w.Code)
	}
	page := decode(t, w)
	if entries := page["entries"].([]any); len(entries) != 2 {
		t.Errorf("Expected 2 entries on the page, got %d", len(entries))
	}
	if page["total"].(float64) <= 2 {
		t.Errorf("Expected more entries than one page, got %v", page["total"])
	}

	w = s.do(t, "GET", s.base+"/"+id+"/pdf", s.member, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from pdf, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "%PDF") {
		t.Error("Expected a PDF document")
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), ".pdf") {
		t.Errorf("Unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}

	w = s.do(t, "GET", s.base+"/"+id+"/audit/export", s.member, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from export, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "PK") {
		t.Error("Expected an XLSX archive")
	}
}

func TestDeclineOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createNDA(t)

	w := s.do(t, "POST", s.base+"/"+id+"/send", s.member, gin.H{"signers": twoSigners})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from send, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, "POST", "/api/public/contracts/sign/"+s.notifier.token("alice@client.test")+"/decline", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from decline, got %d: %s", w.Code, w.Body.String())
	}
	if status := decode(t, w)["contract_status"]; status != "voided" {
		t.Errorf("Expected voided, got %v", status)
	}

	w = s.do(t, "POST", "/api/public/contracts/sign/"+s.notifier.token("bob@consult.test"), "", typedSignature("Bob Consultant"))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 after the contract was voided, got %d", w.Code)
	}
}

func TestShareOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createNDA(t)

	w := s.do(t, "POST", s.base+"/"+id+"/share", s.member, gin.H{"expires_in_days": 7, "password": "abc123"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 from share, got %d: %s", w.Code, w.Body.String())
	}
	share := decode(t, w)["share"].(map[string]any)
	token := share["token"].(string)

	w = s.do(t, "GET", "/api/public/contracts/"+token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from resolve, got %d", w.Code)
	}
	view := decode(t, w)
	if view["password_required"] != true {
		t.Error("Expected a password prompt")
	}
	if _, ok := view["contract"]; ok {
		t.Error("Content must not be disclosed before the password check")
	}

	w = s.do(t, "POST", "/api/public/contracts/"+token+"/verify", "", gin.H{"password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong password, got %d", w.Code)
	}

	w = s.do(t, "POST", "/api/public/contracts/"+token+"/verify", "", gin.H{"password": "abc123"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for correct password, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := decode(t, w)["contract"]; !ok {
		t.Error("Expected content after the password check")
	}

	w = s.do(t, "GET", "/api/public/contracts/not-a-real-token", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown token, got %d", w.Code)
	}
	if msg := decode(t, w)["error"]; msg != "link invalid or expired" {
		t.Errorf("Expected generic message, got %v", msg)
	}
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t)
	id := s.createNDA(t)

	w := s.do(t, "POST", s.base+"/"+id+"/void", s.member, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from void without a body, got %d: %s", w.Code, w.Body.String())
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown contract", "GET", s.base + "/" + uuid.NewString(), nil, http.StatusNotFound, "not_found"},
		{"malformed id", "GET", s.base + "/abc", nil, http.StatusBadRequest, "validation"},
		{"void twice", "POST", s.base + "/" + id + "/void", gin.H{"reason": "again"}, http.StatusConflict, "invalid_state"},
		{"send voided", "POST", s.base + "/" + id + "/send", twoSigners, http.StatusConflict, "invalid_state"},
		{"empty send", "POST", s.base + "/" + id + "/send", nil, http.StatusBadRequest, "validation"},
		{"unknown type", "POST", s.base, gin.H{"type": "lease", "title": "Lease"}, http.StatusBadRequest, "validation"},
		{"bad audit limit", "GET", s.base + "/" + id + "/audit?limit=x", nil, http.StatusBadRequest, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, s.member, tt.body)
			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if kind := errorKind(t, w); kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, kind)
			}
		})
	}
}

func TestViewerIsReadOnly(t *testing.T) {
	s := newTestServer(t)
	s.createNDA(t)

	w := s.do(t, "GET", s.base, s.viewer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 listing as viewer, got %d", w.Code)
	}
	if contracts := decode(t, w)["contracts"].([]any); len(contracts) != 1 {
		t.Errorf("Expected viewer to see the tenant's contract, got %d", len(contracts))
	}

	w = s.do(t, "POST", s.base, s.viewer, gin.H{"type": "nda", "title": "Viewer NDA"})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 creating as viewer, got %d", w.Code)
	}

	w = s.do(t, "GET", s.base, "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a token, got %d", w.Code)
	}
}

func TestPublicRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimitRequests = 2
	})

	for i := 0; i < 2; i++ {
		w := s.do(t, "GET", "/api/public/contracts/unknown", "", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("Request %d: expected 404, got %d", i, w.Code)
		}
	}

	w := s.do(t, "GET", "/api/public/contracts/unknown", "", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
}

func TestTerminateRequiresManager(t *testing.T) {
	s := newTestServer(t)
	id := s.createNDA(t)

	w := s.do(t, "POST", s.base+"/"+id+"/terminate", s.member, gin.H{"reason": "ended early"})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a member, got %d", w.Code)
	}
}
