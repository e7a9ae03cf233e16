package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/models"
	"google.golang.org/api/option"
)

// GenerationRequest carries everything a generator may draw on.
type GenerationRequest struct {
	Type               models.ContractType `json:"type"`
	Title              string              `json:"title"`
	ProviderName       string              `json:"provider_name"`
	ClientName         string              `json:"client_name"`
	ClientCompany      string              `json:"client_company"`
	ScopeSummary       string              `json:"scope_summary"`
	CustomInstructions string              `json:"custom_instructions"`
	TotalAmount        *int64              `json:"total_amount"`
	Currency           string              `json:"currency"`
	PaymentTerms       string              `json:"payment_terms"`
	EffectiveDate      *time.Time          `json:"effective_date"`
	ExpirationDate     *time.Time          `json:"expiration_date"`
	AutoRenew          bool                `json:"auto_renew"`
	RenewalTerms       string              `json:"renewal_terms"`
	StatementOfWorkID  *uuid.UUID          `json:"statement_of_work_id"`
	CostEstimateID     *uuid.UUID          `json:"cost_estimate_id"`
}

// Generator produces contract sections.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) ([]models.Section, error)
}

// NewGenerator returns the Gemini generator when an API key is configured
// and the built-in template generator otherwise.
func NewGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	if cfg.GenerationAPIKey == "" {
		logger.Info(ctx, "generation api key not set, using built-in templates")
		return NewTemplateGenerator(cfg.AppName), nil
	}
	return NewGeminiGenerator(ctx, cfg)
}

// TemplateGenerator fills the built-in outline for each contract type.
type TemplateGenerator struct {
	appName string
}

func NewTemplateGenerator(appName string) *TemplateGenerator {
	return &TemplateGenerator{appName: appName}
}

func (g *TemplateGenerator) Generate(ctx context.Context, req GenerationRequest) ([]models.Section, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outline := defaultSections(req.Type)
	if outline == nil {
		return nil, fmt.Errorf("no template for contract type %q", req.Type)
	}
	sections, err := renderSections(outline, newTemplateData(req, g.appName))
	if err != nil {
		return nil, err
	}
	if s := strings.TrimSpace(req.CustomInstructions); s != "" {
		sections = append(sections, models.Section{Heading: "Additional Terms", Body: s})
	}
	return sections, nil
}

// GeminiGenerator drafts contracts with the Gemini API.
type GeminiGenerator struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	appName string
}

func NewGeminiGenerator(ctx context.Context, cfg *config.Config) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GenerationAPIKey))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.GenerationModel)
	logger.Info(ctx, "Gemini generation client initialized", "model", cfg.GenerationModel)
	return &GeminiGenerator{client: client, model: model, appName: cfg.AppName}, nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerationRequest) ([]models.Section, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(buildPrompt(req, g.appName)))
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini returned no result")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	sections := parseSections(text.String())
	if len(sections) == 0 {
		return nil, fmt.Errorf("gemini response contained no sections")
	}
	return sections, nil
}

func buildPrompt(req GenerationRequest, appName string) string {
	data := newTemplateData(req, appName)

	var b strings.Builder
	fmt.Fprintf(&b, "You are drafting a %s for a professional services firm.\n", req.Type.Label())
	b.WriteString("Write clear, plain-English contract language. Do not invent party names, amounts or dates that are not given.\n")
	b.WriteString("Format the answer as sections. Start each section with a line of the form '## Heading' followed by its text. Do not use any other markdown.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	fmt.Fprintf(&b, "Consultant: %s\n", data.ProviderName)
	fmt.Fprintf(&b, "Client: %s\n", data.ClientDisplay)
	if req.TotalAmount != nil {
		fmt.Fprintf(&b, "Total: %s\n", data.Amount)
	}
	if req.PaymentTerms != "" {
		fmt.Fprintf(&b, "Payment terms: %s\n", req.PaymentTerms)
	}
	if data.EffectiveDate != "" {
		fmt.Fprintf(&b, "Effective date: %s\n", data.EffectiveDate)
	}
	if data.ExpirationDate != "" {
		fmt.Fprintf(&b, "Expiration date: %s\n", data.ExpirationDate)
	}
	if req.AutoRenew {
		fmt.Fprintf(&b, "Auto-renews: %s\n", req.RenewalTerms)
	}
	if req.ScopeSummary != "" {
		fmt.Fprintf(&b, "Scope: %s\n", req.ScopeSummary)
	}

	b.WriteString("\nUse these sections in order:\n")
	for _, st := range defaultSections(req.Type) {
		fmt.Fprintf(&b, "- %s\n", st.Heading)
	}
	if req.CustomInstructions != "" {
		fmt.Fprintf(&b, "\nAdditional instructions: %s\n", req.CustomInstructions)
	}
	return b.String()
}

// parseSections splits '## Heading' delimited text. Text before the first
// heading is dropped.
func parseSections(text string) []models.Section {
	text = strings.Trim(text, "`\n ")
	var sections []models.Section
	var current *models.Section
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if current.Heading != "" || current.Body != "" {
			sections = append(sections, *current)
		}
		current = nil
		body = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			heading = strings.Trim(heading, "* ")
			flush()
			current = &models.Section{Heading: heading}
			continue
		}
		if current != nil {
			body = append(body, strings.TrimRight(line, " \t"))
		}
	}
	flush()
	return sections
}
