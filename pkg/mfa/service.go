// Package mfa implements the second-factor machinery of the login flow:
// TOTP secrets and verification, one-time codes delivered over SMS and
// email, send-rate ceilings, and the email fallback rules.
package mfa

import (
	"time"

	"github.com/tangpian/melody-auth/pkg/counter"
	"github.com/tangpian/melody-auth/pkg/kv"
	"github.com/tangpian/melody-auth/pkg/notification"
)

// Service bundles the stores and senders the factor implementations share.
type Service struct {
	store    kv.Store
	counters *counter.Service
	sms      notification.SmsSender
	email    notification.EmailSender
	codeTTL  time.Duration

	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source used for TOTP validation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store kv.Store, counters *counter.Service, sms notification.SmsSender, email notification.EmailSender, codeTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		store:    store,
		counters: counters,
		sms:      sms,
		email:    email,
		codeTTL:  codeTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
