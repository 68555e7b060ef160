package services

import (
	"fmt"
	"log"
	"os"

	"github.com/resend/resend-go/v2"
)

type EmailService struct {
	Client *resend.Client
	From   string
}

// NewEmailService returns nil when no Resend API key is configured;
// notification emails are then skipped and only the in-app rows remain.
func NewEmailService() *EmailService {
	apiKey := os.Getenv("RESEND_API_KEY")
	fromEmail := os.Getenv("FROM_EMAIL")

	if apiKey == "" {
		log.Println("⚠️  RESEND_API_KEY not set, notification emails disabled")
		return nil
	}
	if fromEmail == "" {
		fromEmail = "onboarding@resend.dev" // Resend's default test email
	}

	log.Printf("📧 Email Service Initialized (Resend)")
	log.Printf("   - From Email: %s", fromEmail)
	log.Printf("   - API Key: %s", maskAPIKey(apiKey))

	return &EmailService{
		Client: resend.NewClient(apiKey),
		From:   fromEmail,
	}
}

// Helper function to mask API key for logging
func maskAPIKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// SendEventEmail sends one lifecycle event email
func (es *EmailService) SendEventEmail(to, subject, body string) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .event-box { background-color: #f4f4f4; border-left: 4px solid #007bff; padding: 20px; margin: 20px 0; border-radius: 5px; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <h2>%s</h2>
        <div class="event-box">
            <p>%s</p>
        </div>
        <p>Open the RentChain app to review the contract.</p>
        <div class="footer">
            <p>This is an automated message, please do not reply.</p>
        </div>
    </div>
</body>
</html>
    `, subject, body)

	params := &resend.SendEmailRequest{
		From:    es.From,
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
	}

	sent, err := es.Client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send email: %v", err)
	}
	log.Printf("✅ Event email sent to %s (ID: %s)", to, sent.Id)
	return nil
}
