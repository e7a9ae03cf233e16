package services

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"

	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/models"
)

// Notifier delivers lifecycle emails. Delivery happens after the state
// change has committed; a failed send never rolls anything back.
type Notifier interface {
	SendSignatureRequest(contract *models.Contract, signer *models.SignatureRequest) error
	SendSignatureReminder(contract *models.Contract, signer *models.SignatureRequest) error
	SendContractCompleted(contract *models.Contract, signer *models.SignatureRequest) error
	SendContractDeclined(contract *models.Contract, signer *models.SignatureRequest) error
}

type EmailService struct {
	config *config.Config
}

func NewEmailService(cfg *config.Config) *EmailService {
	return &EmailService{config: cfg}
}

// contractEmail is the data behind every lifecycle message. All fields are
// escaped by the template.
type contractEmail struct {
	AppName     string
	To          string
	Recipient   string
	Subject     string
	Title       string
	Reference   string
	Paragraphs  []string
	Facts       []emailFact
	ActionURL   string
	ActionLabel string
}

type emailFact struct {
	Label string
	Value string
}

var contractEmailTemplate = template.Must(template.New("contract_email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Subject}}</title>
</head>
<body style="margin:0;padding:24px;background:#eef1f5;font-family:Helvetica,Arial,sans-serif;color:#222;">
<table role="presentation" width="100%" cellpadding="0" cellspacing="0" style="max-width:620px;margin:0 auto;background:#fff;border:1px solid #d8dde4;">
<tr><td style="padding:20px 28px;border-bottom:3px solid #1f3a5f;font-size:13px;letter-spacing:1px;text-transform:uppercase;color:#1f3a5f;">{{.AppName}}</td></tr>
<tr><td style="padding:28px;">
<p style="margin:0 0 6px;font-size:20px;font-weight:bold;">{{.Title}}</p>
{{with .Reference}}<p style="margin:0 0 20px;font-size:12px;color:#667;">{{.}}</p>{{end}}
<p>Dear {{.Recipient}},</p>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}
{{if .Facts}}<table role="presentation" cellpadding="4" cellspacing="0" style="margin:16px 0;font-size:14px;">
{{range .Facts}}<tr><td style="color:#667;padding-right:16px;">{{.Label}}</td><td>{{.Value}}</td></tr>
{{end}}</table>{{end}}
{{if .ActionURL}}<p style="margin:28px 0;"><a href="{{.ActionURL}}" style="background:#1f3a5f;color:#fff;padding:12px 26px;text-decoration:none;">{{.ActionLabel}}</a></p>{{end}}
</td></tr>
<tr><td style="padding:16px 28px;font-size:11px;color:#889;border-top:1px solid #d8dde4;">Sent by {{.AppName}} on behalf of the contract owner. Replies to this address are not monitored.</td></tr>
</table>
</body>
</html>
`))

func (s *EmailService) render(msg contractEmail) (string, error) {
	msg.AppName = s.config.AppName

	var buf bytes.Buffer
	if err := contractEmailTemplate.Execute(&buf, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// send delivers msg over SMTP. Without SMTP_HOST the message is only logged.
func (s *EmailService) send(msg contractEmail) error {
	body, err := s.render(msg)
	if err != nil {
		return err
	}

	if s.config.SMTPHost == "" {
		slog.Info("email not sent, SMTP_HOST is empty", "to", msg.To, "subject", msg.Subject)
		return nil
	}

	var raw bytes.Buffer
	fmt.Fprintf(&raw, "From: %s\r\n", s.config.FromEmail)
	fmt.Fprintf(&raw, "To: %s\r\n", msg.To)
	fmt.Fprintf(&raw, "Subject: %s\r\n", msg.Subject)
	raw.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n")
	raw.WriteString(body)

	auth := smtp.PlainAuth("", s.config.SMTPUser, s.config.SMTPPassword, s.config.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)
	return smtp.SendMail(addr, auth, s.config.FromEmail, []string{msg.To}, raw.Bytes())
}

func (s *EmailService) signingURL(signer *models.SignatureRequest) string {
	return fmt.Sprintf("%s/sign/%s", s.config.AppURL, signer.Token)
}

func emailReference(contract *models.Contract) string {
	if contract.ContractNumber == "" {
		return contract.Type.Label()
	}
	return fmt.Sprintf("%s, version %d", contract.ContractNumber, contract.Version)
}

// SendSignatureRequest invites a signer to review and sign
func (s *EmailService) SendSignatureRequest(contract *models.Contract, signer *models.SignatureRequest) error {
	return s.send(contractEmail{
		To:        signer.Email,
		Recipient: signer.Name,
		Subject:   fmt.Sprintf("Signature requested: %s", contract.Title),
		Title:     contract.Title,
		Reference: emailReference(contract),
		Paragraphs: []string{
			fmt.Sprintf("%s has asked you to sign this %s.", contract.CreatedByName, contract.Type.Label()),
			"Please review the whole document before signing. The link below is personal to you.",
		},
		Facts: []emailFact{
			{"Signing as", string(signer.SignerType)},
			{"Link expires", signer.TokenExpiresAt.Format("January 2, 2006")},
		},
		ActionURL:   s.signingURL(signer),
		ActionLabel: "Review and Sign",
	})
}

// SendSignatureReminder re-sends the original signing link
func (s *EmailService) SendSignatureReminder(contract *models.Contract, signer *models.SignatureRequest) error {
	return s.send(contractEmail{
		To:         signer.Email,
		Recipient:  signer.Name,
		Subject:    fmt.Sprintf("Reminder: please sign %s", contract.Title),
		Title:      contract.Title,
		Reference:  emailReference(contract),
		Paragraphs: []string{"This contract is still waiting for your signature."},
		Facts: []emailFact{
			{"Link expires", signer.TokenExpiresAt.Format("January 2, 2006")},
		},
		ActionURL:   s.signingURL(signer),
		ActionLabel: "Review and Sign",
	})
}

// SendContractCompleted notifies a signer that every party has signed
func (s *EmailService) SendContractCompleted(contract *models.Contract, signer *models.SignatureRequest) error {
	return s.send(contractEmail{
		To:        signer.Email,
		Recipient: signer.Name,
		Subject:   fmt.Sprintf("Completed: %s", contract.Title),
		Title:     contract.Title,
		Reference: emailReference(contract),
		Paragraphs: []string{
			"Every party has signed. Keep this email for your records.",
		},
		Facts: []emailFact{
			{"Document fingerprint", contract.Content.Hash},
		},
	})
}

// SendContractDeclined tells the contract owner that a signer declined
func (s *EmailService) SendContractDeclined(contract *models.Contract, signer *models.SignatureRequest) error {
	if contract.CreatedByEmail == "" {
		return nil
	}

	reason := signer.DeclineReason
	if reason == "" {
		reason = "No reason was given."
	}

	return s.send(contractEmail{
		To:        contract.CreatedByEmail,
		Recipient: contract.CreatedByName,
		Subject:   fmt.Sprintf("Declined: %s", contract.Title),
		Title:     contract.Title,
		Reference: emailReference(contract),
		Paragraphs: []string{
			fmt.Sprintf("%s declined to sign, and the contract has been voided.", signer.Name),
			"You can revise the contract and send a new version for signature.",
		},
		Facts: []emailFact{
			{"Reason", reason},
		},
		ActionURL:   fmt.Sprintf("%s/opportunities/%s/contracts/%s", s.config.AppURL, contract.OpportunityID, contract.ID),
		ActionLabel: "View Contract",
	})
}
