package mailer

import (
	"fmt"
	"os"

	"tikiti/src/lib"
	"tikiti/src/types"
)

// NewMailerMessage enqueues an outgoing email on the email topic. The
// notifications consumer picks it up and delivers it over SMTP, keeping
// slow mail servers out of request handlers.
func NewMailerMessage(input *lib.SendMailInput) error {
	emailQueue := os.Getenv("EMAIL_QUEUE")
	if emailQueue == "" {
		emailQueue = "emails"
	}
	emailBody := types.JSONB{
		"from":      input.From,
		"from-name": input.FromName,
		"to":        input.To,
		"cc":        input.Cc,
		"bcc":       input.Bcc,
		"reply-to":  input.ReplyTo,
		"body":      input.Body,
		"html":      input.Html,
		"subject":   input.Subject,
	}
	if err := lib.KafkaProduceMessage("emails", emailQueue, emailBody); err != nil {
		return fmt.Errorf("error sending message to queue: %s", err.Error())
	}
	return nil
}
