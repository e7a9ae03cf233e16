package services

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/ukuvago/contractdesk/internal/models"
)

type sectionTemplate struct {
	Heading string
	Body    string
}

// defaultSections is the outline for each contract type. Bodies are
// text/template sources executed against GenerationRequest.
func defaultSections(t models.ContractType) []sectionTemplate {
	parties := sectionTemplate{"Parties", `This {{.TypeLabel}} is entered into between {{.ProviderName}} ("Consultant") and {{.ClientDisplay}} ("Client"){{if .EffectiveDate}}, effective {{.EffectiveDate}}{{end}}.`}
	signatures := sectionTemplate{"Signatures", `The parties agree that electronic signatures applied through {{.AppName}} are binding and have the same effect as handwritten signatures.`}
	governing := sectionTemplate{"Governing Law", `This agreement is governed by the laws of the jurisdiction in which the Consultant has its principal place of business.`}
	fees := sectionTemplate{"Fees and Payment", `Client shall pay {{.Amount}} for the services described in this agreement. {{if .PaymentTerms}}{{.PaymentTerms}}{{else}}Invoices are due within thirty (30) days of receipt.{{end}}`}
	term := sectionTemplate{"Term", `This agreement begins on {{if .EffectiveDate}}{{.EffectiveDate}}{{else}}the date of the last signature{{end}}{{if .ExpirationDate}} and ends on {{.ExpirationDate}}{{end}}.{{if .AutoRenew}} It renews automatically{{if .RenewalTerms}}: {{.RenewalTerms}}{{else}} for successive periods of equal length unless either party gives thirty (30) days written notice{{end}}.{{end}}`}

	switch t {
	case models.ContractTypeMasterAgreement:
		return []sectionTemplate{
			parties,
			{"Services", `Consultant will provide services described in one or more statements of work executed under this agreement. Each statement of work is governed by these terms.`},
			{"Ordering", `A statement of work becomes binding once signed by both parties. If a statement of work conflicts with this agreement, this agreement prevails unless the statement of work expressly states otherwise.`},
			{"Confidentiality", `Each party will protect the other's confidential information with at least reasonable care and use it only to perform under this agreement.`},
			{"Intellectual Property", `Upon full payment, Client owns the deliverables created specifically for Client. Consultant retains its pre-existing tools, know-how and methods.`},
			{"Limitation of Liability", `Neither party is liable for indirect or consequential damages. Each party's total liability is limited to the fees paid in the twelve (12) months preceding the claim.`},
			term,
			governing,
			signatures,
		}
	case models.ContractTypeStatementOfWork:
		return []sectionTemplate{
			parties,
			{"Scope of Work", `{{if .ScopeSummary}}{{.ScopeSummary}}{{else}}Consultant will perform the services and provide the deliverables agreed with Client for this engagement.{{end}}`},
			{"Deliverables and Acceptance", `Client will review each deliverable within ten (10) business days of delivery. A deliverable is accepted unless Client identifies a material nonconformity in writing within that period.`},
			fees,
			{"Change Requests", `Changes to scope, schedule or fees require a written change request signed by both parties.`},
			term,
			signatures,
		}
	case models.ContractTypeCombined:
		return []sectionTemplate{
			parties,
			{"Master Terms", `The general terms in this document govern the working relationship between the parties and every future statement of work that references it.`},
			{"Scope of Work", `{{if .ScopeSummary}}{{.ScopeSummary}}{{else}}Consultant will perform the services and provide the deliverables agreed with Client for the initial engagement.{{end}}`},
			fees,
			{"Confidentiality", `Each party will protect the other's confidential information with at least reasonable care and use it only to perform under this agreement.`},
			{"Intellectual Property", `Upon full payment, Client owns the deliverables created specifically for Client. Consultant retains its pre-existing tools, know-how and methods.`},
			{"Limitation of Liability", `Neither party is liable for indirect or consequential damages. Each party's total liability is limited to the fees paid under this agreement.`},
			term,
			governing,
			signatures,
		}
	case models.ContractTypeNDA:
		return []sectionTemplate{
			parties,
			{"Purpose", `The parties wish to exchange confidential information to evaluate a potential business relationship.`},
			{"Confidential Information", `Confidential information includes business plans, financial data, technical information and any other non-public information disclosed by either party, whether orally or in writing.`},
			{"Obligations", `The receiving party will hold confidential information in strict confidence, will not disclose it to third parties without prior written consent, and will use it solely for the stated purpose.`},
			{"Exclusions", `These obligations do not apply to information that is publicly available, already known to the receiving party, independently developed, or lawfully received from a third party.`},
			{"Term", `The obligations of this agreement survive for two (2) years from {{if .EffectiveDate}}{{.EffectiveDate}}{{else}}the date of the last signature{{end}}.`},
			governing,
			signatures,
		}
	case models.ContractTypeConsultingAgreement:
		return []sectionTemplate{
			parties,
			{"Engagement", `Client engages Consultant as an independent contractor to provide advisory services. {{if .ScopeSummary}}{{.ScopeSummary}}{{end}}`},
			fees,
			{"Expenses", `Client will reimburse reasonable pre-approved expenses incurred by Consultant in performing the services.`},
			{"Independent Contractor", `Consultant is not an employee of Client and is responsible for its own taxes, insurance and benefits.`},
			{"Confidentiality", `Consultant will keep Client's confidential information private during and after the engagement.`},
			term,
			governing,
			signatures,
		}
	case models.ContractTypeRetainer:
		return []sectionTemplate{
			parties,
			{"Retained Services", `Consultant will remain available to Client for the services described below. {{if .ScopeSummary}}{{.ScopeSummary}}{{end}}`},
			{"Retainer Fee", `Client shall pay a retainer of {{.Amount}} per billing period in advance. {{if .PaymentTerms}}{{.PaymentTerms}}{{else}}Unused hours do not roll over.{{end}}`},
			{"Additional Work", `Work beyond the retained capacity is billed at Consultant's standard rates after Client's written approval.`},
			term,
			{"Termination", `Either party may end this retainer with thirty (30) days written notice. Fees already paid for the current period are non-refundable.`},
			signatures,
		}
	case models.ContractTypeAmendment:
		return []sectionTemplate{
			parties,
			{"Background", `The parties previously entered into an agreement and now wish to amend it as set out below.`},
			{"Amendments", `{{if .ScopeSummary}}{{.ScopeSummary}}{{else}}The parties amend the original agreement as agreed in writing between them.{{end}}`},
			{"Effect", `Except as amended by this document, the original agreement remains in full force and effect.`},
			signatures,
		}
	}
	return nil
}

type templateData struct {
	GenerationRequest
	AppName        string
	TypeLabel      string
	ClientDisplay  string
	Amount         string
	EffectiveDate  string
	ExpirationDate string
}

func newTemplateData(req GenerationRequest, appName string) templateData {
	client := req.ClientName
	if req.ClientCompany != "" {
		if client != "" {
			client = fmt.Sprintf("%s of %s", client, req.ClientCompany)
		} else {
			client = req.ClientCompany
		}
	}
	if client == "" {
		client = "the Client"
	}

	provider := req.ProviderName
	if provider == "" {
		provider = appName
	}
	req.ProviderName = provider

	return templateData{
		GenerationRequest: req,
		AppName:           appName,
		TypeLabel:         req.Type.Label(),
		ClientDisplay:     client,
		Amount:            formatAmount(req.TotalAmount, req.Currency),
		EffectiveDate:     formatDate(req.EffectiveDate),
		ExpirationDate:    formatDate(req.ExpirationDate),
	}
}

// renderSections executes every outline body against data.
func renderSections(outline []sectionTemplate, data templateData) ([]models.Section, error) {
	sections := make([]models.Section, 0, len(outline))
	for _, st := range outline {
		tmpl, err := template.New(st.Heading).Parse(st.Body)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, err
		}
		sections = append(sections, models.Section{Heading: st.Heading, Body: strings.TrimSpace(buf.String())})
	}
	return sections, nil
}

func formatAmount(amount *int64, currency string) string {
	if amount == nil {
		return "the agreed fees"
	}
	v := *amount
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	units := fmt.Sprintf("%d", v/100)
	var grouped strings.Builder
	for i, r := range units {
		if i > 0 && (len(units)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%s %s%s.%02d", strings.ToUpper(currency), sign, grouped.String(), v%100)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("January 2, 2006")
}
