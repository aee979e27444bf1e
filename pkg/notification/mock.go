package notification

import (
	"context"
	"sync"
)

// SentSms is one recorded SMS delivery.
type SentSms struct {
	To   string
	Body string
}

// SentEmail is one recorded email delivery.
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// Recorder implements SmsSender and EmailSender by recording every message.
// Tests read the recorded messages to extract codes.
type Recorder struct {
	mu     sync.Mutex
	sms    []SentSms
	emails []SentEmail

	// FailSends makes every send return this error when set.
	FailSends error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SendSms(ctx context.Context, to string, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailSends != nil {
		return r.FailSends
	}
	r.sms = append(r.sms, SentSms{To: to, Body: body})
	return nil
}

func (r *Recorder) SendEmail(ctx context.Context, to string, subject string, htmlBody string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailSends != nil {
		return r.FailSends
	}
	r.emails = append(r.emails, SentEmail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (r *Recorder) Sms() []SentSms {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentSms(nil), r.sms...)
}

func (r *Recorder) Emails() []SentEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentEmail(nil), r.emails...)
}
