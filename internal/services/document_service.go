package services

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/models"
)

type DocumentService struct {
	config *config.Config
}

func NewDocumentService(cfg *config.Config) *DocumentService {
	return &DocumentService{config: cfg}
}

// RenderContractPDF renders the contract content followed by a signature
// certificate listing every signer and their evidence.
func (s *DocumentService) RenderContractPDF(contract *models.Contract, requests []models.SignatureRequest) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(contract.Title, true)
	pdf.SetAuthor(s.config.AppName, true)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s v%d  |  Page %d", contract.ContractNumber, contract.Version, pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 18)
	pdf.MultiCell(190, 9, tr(strings.ToUpper(contract.Type.Label())), "", "C", false)
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(190, 7, tr(contract.Title), "", "C", false)
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(190, 6, tr(fmt.Sprintf("Contract %s, version %d", contract.ContractNumber, contract.Version)), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	// Key terms
	if contract.TotalAmount != nil || contract.EffectiveDate != nil || contract.ExpirationDate != nil {
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(190, 7, "KEY TERMS")
		pdf.Ln(7)
		pdf.SetFont("Arial", "", 10)
		if contract.TotalAmount != nil {
			pdf.Cell(50, 6, "Total:")
			pdf.Cell(140, 6, tr(formatAmount(contract.TotalAmount, contract.Currency)))
			pdf.Ln(6)
		}
		if contract.EffectiveDate != nil {
			pdf.Cell(50, 6, "Effective Date:")
			pdf.Cell(140, 6, formatDate(contract.EffectiveDate))
			pdf.Ln(6)
		}
		if contract.ExpirationDate != nil {
			pdf.Cell(50, 6, "Expiration Date:")
			pdf.Cell(140, 6, formatDate(contract.ExpirationDate))
			pdf.Ln(6)
		}
		pdf.Ln(4)
	}

	// Content
	for i, section := range contract.Content.SectionList() {
		if section.Heading != "" {
			pdf.SetFont("Arial", "B", 11)
			pdf.MultiCell(190, 6, tr(fmt.Sprintf("%d. %s", i+1, strings.ToUpper(section.Heading))), "", "", false)
			pdf.Ln(1)
		}
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(190, 5, tr(section.Body), "", "", false)
		pdf.Ln(4)
	}

	if len(requests) > 0 {
		s.writeCertificate(pdf, tr, contract, requests)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *DocumentService) writeCertificate(pdf *gofpdf.Fpdf, tr func(string) string, contract *models.Contract, requests []models.SignatureRequest) {
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(190, 10, "SIGNATURE CERTIFICATE", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.MultiCell(190, 5, tr("Document hash (SHA-256): "+contract.Content.Hash), "", "", false)
	pdf.MultiCell(190, 5, tr("Status: "+string(contract.Status)), "", "", false)
	pdf.Ln(4)

	for _, r := range requests {
		if pdf.GetY() > 230 {
			pdf.AddPage()
		}

		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(190, 7, tr(fmt.Sprintf("%s (%s)", r.Name, signerTypeLabel(r.SignerType))))
		pdf.Ln(7)

		pdf.SetFont("Arial", "", 9)
		line := func(label, value string) {
			if value == "" {
				return
			}
			pdf.Cell(40, 5, label)
			pdf.MultiCell(150, 5, tr(value), "", "", false)
		}
		line("Email:", r.Email)
		if r.Title != "" || r.Company != "" {
			line("Title:", strings.Trim(r.Title+", "+r.Company, ", "))
		}
		line("Status:", string(r.Status))

		switch r.Status {
		case models.SignatureStatusSigned:
			s.writeSignatureMark(pdf, tr, r)
			line("Signed:", formatTimestamp(r.SignedAt))
			line("Method:", string(r.SignatureMethod))
			line("Provider:", r.SignatureProvider)
			line("IP Address:", r.IPAddress)
			line("Evidence Hash:", r.EvidenceHash)
			if r.DocumentHash != "" && r.DocumentHash != contract.Content.Hash {
				line("Warning:", "signed against a different document hash "+r.DocumentHash)
			}
		case models.SignatureStatusDeclined:
			line("Declined:", formatTimestamp(r.DeclinedAt))
			line("Reason:", r.DeclineReason)
		default:
			line("Viewed:", formatTimestamp(r.ViewedAt))
			line("Link Expires:", r.TokenExpiresAt.UTC().Format(time.RFC1123))
		}
		pdf.Ln(5)
	}

	pdf.SetFont("Arial", "I", 8)
	pdf.MultiCell(190, 4, tr(fmt.Sprintf("This document was electronically signed via %s. Electronic signatures are legally binding under applicable e-signature laws.", s.config.AppName)), "", "", false)
}

// writeSignatureMark draws the signer's image when there is one and the
// typed name otherwise.
func (s *DocumentService) writeSignatureMark(pdf *gofpdf.Fpdf, tr func(string) string, r models.SignatureRequest) {
	switch r.SignatureMethod {
	case models.SignatureMethodDrawn, models.SignatureMethodUploaded:
		declared, raw, err := decodeDataURL(r.SignatureData)
		if err == nil {
			imageType := "PNG"
			if declared == "image/jpeg" {
				imageType = "JPG"
			}
			name := "sig-" + r.ID.String()
			opts := gofpdf.ImageOptions{ImageType: imageType, ReadDpi: false}
			info := pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(raw))
			if pdf.Ok() && info != nil {
				pdf.ImageOptions(name, pdf.GetX()+40, pdf.GetY(), 50, 0, true, opts, 0, "")
				return
			}
			pdf.ClearError()
		}
		pdf.SetFont("Arial", "I", 9)
		pdf.Cell(190, 5, "[signature image unavailable]")
		pdf.Ln(5)
		pdf.SetFont("Arial", "", 9)
	case models.SignatureMethodTyped:
		pdf.SetFont("Times", "I", 16)
		pdf.Cell(40, 8, "")
		pdf.Cell(150, 8, tr(r.SignatureData))
		pdf.Ln(9)
		pdf.SetFont("Arial", "", 9)
	case models.SignatureMethodExternal:
		pdf.Cell(40, 5, "Reference:")
		pdf.Cell(150, 5, tr(r.SignatureData))
		pdf.Ln(5)
	}
}

// ExecutedDocumentName is the download filename of a contract PDF.
func ExecutedDocumentName(contract *models.Contract) string {
	return fmt.Sprintf("%s-v%d.pdf", contract.ContractNumber, contract.Version)
}

func signerTypeLabel(t models.SignerType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC1123)
}
