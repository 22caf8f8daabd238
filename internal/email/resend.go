package email

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog/log"
)

type resendAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendProvider implements email sending via the Resend API.
type ResendProvider struct {
	emails resendAPI
}

// NewResendProvider creates a new Resend email provider. An empty key leaves
// it unconfigured.
func NewResendProvider(apiKey string) *ResendProvider {
	if apiKey == "" {
		return &ResendProvider{}
	}
	return &ResendProvider{emails: resend.NewClient(apiKey).Emails}
}

// Name returns the provider name.
func (p *ResendProvider) Name() string { return "resend" }

// IsConfigured returns true if Resend is properly configured.
func (p *ResendProvider) IsConfigured() bool { return p.emails != nil }

// Send sends an email via the Resend API.
func (p *ResendProvider) Send(ctx context.Context, req *Request) error {
	if p.emails == nil {
		return fmt.Errorf("Resend client not initialized")
	}
	if len(req.To) == 0 {
		return fmt.Errorf("recipient is required")
	}
	resp, err := p.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Html:    req.HTML,
		Text:    req.Text,
	})
	if err != nil {
		return fmt.Errorf("Resend send failed: %w", err)
	}
	log.Info().Str("email_id", resp.Id).Strs("to", req.To).Msg("Email sent via Resend")
	return nil
}
