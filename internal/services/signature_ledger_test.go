package services

import (
	"encoding/base64"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ukuvago/contractdesk/internal/models"
)

func TestValidateEvidence(t *testing.T) {
	png := pngDataURL(t)
	jpeg := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"))

	tests := []struct {
		name     string
		method   models.SignatureMethod
		evidence SignatureEvidence
		want     string
		wantErr  bool
	}{
		{"typed", models.SignatureMethodTyped, SignatureEvidence{TypedName: "  Alice  ", Agreed: true}, "Alice", false},
		{"typed without consent", models.SignatureMethodTyped, SignatureEvidence{TypedName: "Alice"}, "", true},
		{"typed blank", models.SignatureMethodTyped, SignatureEvidence{TypedName: "   ", Agreed: true}, "", true},
		{"typed too long", models.SignatureMethodTyped, SignatureEvidence{TypedName: strings.Repeat("x", 201), Agreed: true}, "", true},
		{"method mismatch", models.SignatureMethodTyped, SignatureEvidence{Method: models.SignatureMethodDrawn, ImageData: png, Agreed: true}, "", true},
		{"drawn png", models.SignatureMethodDrawn, SignatureEvidence{ImageData: png, Agreed: true}, png, false},
		{"drawn jpeg", models.SignatureMethodDrawn, SignatureEvidence{ImageData: jpeg, Agreed: true}, "", true},
		{"drawn empty", models.SignatureMethodDrawn, SignatureEvidence{ImageData: "data:image/png;base64,", Agreed: true}, "", true},
		{"drawn bad base64", models.SignatureMethodDrawn, SignatureEvidence{ImageData: "data:image/png;base64,@@@", Agreed: true}, "", true},
		{"drawn mislabelled", models.SignatureMethodDrawn, SignatureEvidence{ImageData: strings.Replace(png, "image/png", "image/gif", 1), Agreed: true}, "", true},
		{"uploaded jpeg", models.SignatureMethodUploaded, SignatureEvidence{ImageData: jpeg, Agreed: true}, jpeg, false},
		{"external", models.SignatureMethodExternal, SignatureEvidence{Provider: "docusign", Reference: "env-123", Agreed: true}, "env-123", false},
		{"external missing reference", models.SignatureMethodExternal, SignatureEvidence{Provider: "docusign", Agreed: true}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateEvidence(tt.method, tt.evidence)
			if tt.wantErr {
				if KindOf(translate(err)) != KindInvalidEvidence {
					t.Fatalf("Expected invalid evidence, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("validateEvidence() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOversizedSignatureImage(t *testing.T) {
	big := make([]byte, MaxSignatureImageSize+1)
	copy(big, []byte("\x89PNG\r\n\x1a\n"))
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(big)

	_, err := validateEvidence(models.SignatureMethodDrawn, SignatureEvidence{ImageData: dataURL, Agreed: true})
	if err == nil || !strings.Contains(err.Error(), "2MB") {
		t.Errorf("Expected size error, got %v", err)
	}
}

func TestSummarizeOrdersBySignerOrder(t *testing.T) {
	summary := summarize([]models.SignatureRequest{
		{Name: "third", SignerOrder: 3, Status: models.SignatureStatusExpired},
		{Name: "first", SignerOrder: 1, Status: models.SignatureStatusSigned},
		{Name: "second", SignerOrder: 2, Status: models.SignatureStatusViewed},
	})

	if summary.Total != 3 || summary.Signed != 1 || summary.Pending != 1 || summary.Expired != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	for i, want := range []string{"first", "second", "third"} {
		if summary.Signers[i].Name != want {
			t.Errorf("Signers[%d] = %s, want %s", i, summary.Signers[i].Name, want)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "curl/8.0", 255, "curl/8.0"},
		{"ascii", "abcdef", 4, "abcd"},
		{"split two-byte rune", "abcé", 4, "abc"},
		{"split three-byte rune", "ab€", 3, "ab"},
		{"rune on boundary", "ab€x", 5, "ab€"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate produced invalid UTF-8: %q", got)
			}
		})
	}
}
