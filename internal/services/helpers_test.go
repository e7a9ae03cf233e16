package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/database"
	"github.com/ukuvago/contractdesk/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu        sync.Mutex
	requests  []string
	reminders []string
	completed []string
	declined  []string
}

func (n *recordingNotifier) SendSignatureRequest(c *models.Contract, r *models.SignatureRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, r.Email)
	return nil
}

func (n *recordingNotifier) SendSignatureReminder(c *models.Contract, r *models.SignatureRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, r.Email)
	return nil
}

func (n *recordingNotifier) SendContractCompleted(c *models.Contract, r *models.SignatureRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, r.Email)
	return nil
}

func (n *recordingNotifier) SendContractDeclined(c *models.Contract, r *models.SignatureRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.declined = append(n.declined, r.Email)
	return nil
}

type recordingViewCache struct {
	mu          sync.Mutex
	views       map[uuid.UUID]models.PublicView
	hits        int
	sets        int
	invalidated []uuid.UUID
}

func newRecordingViewCache() *recordingViewCache {
	return &recordingViewCache{views: map[uuid.UUID]models.PublicView{}}
}

func (c *recordingViewCache) Get(ctx context.Context, id uuid.UUID) (*models.PublicView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[id]
	if !ok {
		return nil, false
	}
	c.hits++
	return &v, true
}

func (c *recordingViewCache) Set(ctx context.Context, view *models.PublicView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.views[view.ContractID] = *view
}

func (c *recordingViewCache) Invalidate(ctx context.Context, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, id)
	delete(c.views, id)
}

func (c *recordingViewCache) put(view models.PublicView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[view.ContractID] = view
}

func (c *recordingViewCache) invalidations(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, got := range c.invalidated {
		if got == id {
			n++
		}
	}
	return n
}

func (c *recordingViewCache) counts() (hits, sets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.sets
}

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, req GenerationRequest) ([]models.Section, error) {
	return nil, errors.New("model unavailable")
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, req GenerationRequest) ([]models.Section, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type harness struct {
	svc      *ContractService
	db       *gorm.DB
	cfg      *config.Config
	clock    *testClock
	notifier *recordingNotifier
	owner    Principal
	opp      uuid.UUID
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DatabaseType = "sqlite"
	cfg.DatabaseURL = filepath.Join(dir, "contracts.db")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.SharePasswordCost = bcrypt.MinCost
	cfg.JWTSecret = "test-secret"
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*config.Config, *Dependencies)) *harness {
	t.Helper()
	cfg := testConfig(t)

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store, err := NewStorageService(cfg)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	notifier := &recordingNotifier{}
	deps := Dependencies{Store: store, Notifier: notifier}
	for _, m := range mutate {
		m(cfg, &deps)
	}

	svc := NewContractService(cfg, db, NewAuthService(cfg), deps)
	clock := &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	svc.setClock(clock.Now)

	return &harness{
		svc:      svc,
		db:       db,
		cfg:      cfg,
		clock:    clock,
		notifier: notifier,
		owner: Principal{
			UserID:    uuid.New(),
			TenantID:  uuid.New(),
			Name:      "Dana Owner",
			Email:     "dana@example.com",
			IPAddress: "10.0.0.1",
		},
		opp: uuid.New(),
	}
}

func ptr[T any](v T) *T {
	return &v
}

func (h *harness) createDraft(t *testing.T, typ models.ContractType, in ContractInput) *models.Contract {
	t.Helper()
	if in.Title == nil {
		in.Title = ptr("Website Redesign")
	}
	if in.Sections == nil {
		in.Sections = []models.Section{
			{Heading: "Scope", Body: "Consultant will redesign the marketing site."},
			{Heading: "Fees", Body: "Fees are due within 30 days."},
		}
	}
	c, err := h.svc.Create(context.Background(), h.owner, h.opp, CreateContractInput{Type: typ, ContractInput: in})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return c
}

func (h *harness) send(t *testing.T, c *models.Contract, n int) []models.SignatureRequest {
	t.Helper()
	specs := []SignerSpec{
		{Name: "Alice Client", Email: "alice@client.test", SignerType: models.SignerTypePrimaryClient},
		{Name: "Bob Consultant", Email: "bob@consult.test", SignerType: models.SignerTypeConsultant},
		{Name: "Wes Witness", Email: "wes@witness.test", SignerType: models.SignerTypeWitness},
	}
	requests, err := h.svc.Send(context.Background(), h.owner, h.opp, c.ID, specs[:n])
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	return requests
}

// sentNDA creates an NDA and sends it to n signers.
func (h *harness) sentNDA(t *testing.T, n int) (*models.Contract, []models.SignatureRequest) {
	t.Helper()
	c := h.createDraft(t, models.ContractTypeNDA, ContractInput{})
	return c, h.send(t, c, n)
}

func (h *harness) get(t *testing.T, id uuid.UUID) *models.Contract {
	t.Helper()
	c, err := h.svc.Get(context.Background(), h.owner, h.opp, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return c
}

func (h *harness) trail(t *testing.T, id uuid.UUID) []models.AuditLogEntry {
	t.Helper()
	page, err := h.svc.Audit(context.Background(), h.owner, h.opp, id, 1000, 0)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	return page.Entries
}

func countAction(entries []models.AuditLogEntry, action models.AuditAction) int {
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func statusChangesTo(entries []models.AuditLogEntry, to models.ContractStatus) []models.AuditLogEntry {
	var out []models.AuditLogEntry
	for _, e := range entries {
		if e.Metadata["to"] == string(to) {
			out = append(out, e)
		}
	}
	return out
}

func typed(name string) SignatureEvidence {
	return SignatureEvidence{Method: models.SignatureMethodTyped, TypedName: name, Agreed: true}
}

func client() ClientInfo {
	return ClientInfo{IPAddress: "203.0.113.7", UserAgent: "test-agent"}
}

func expectKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("Expected %s error, got %s (%v)", kind, got, err)
	}
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for x := 0; x < 8; x++ {
		img.Set(x, 2, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
