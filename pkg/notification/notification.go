// Package notification delivers MFA codes to users over SMS and email.
package notification

import "context"

// SmsSender delivers a text message to a phone number in E.164 form.
type SmsSender interface {
	SendSms(ctx context.Context, to string, body string) error
}

// EmailSender delivers an HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to string, subject string, htmlBody string) error
}
