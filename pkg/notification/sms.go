package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSid string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	From       string `env:"TWILIO_FROM" env-default:"+15005550006"`
}

// TwilioSmsSender sends SMS through the Twilio messaging API.
type TwilioSmsSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSmsSender(config TwilioConfig) *TwilioSmsSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})
	return &TwilioSmsSender{client: client, from: config.From}
}

func (s *TwilioSmsSender) SendSms(ctx context.Context, to string, body string) error {
	if to == "" || body == "" {
		return fmt.Errorf("sms requires recipient and body")
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	if resp.Sid != nil {
		slog.Info("sent sms", "to", to, "sid", *resp.Sid)
	}
	return nil
}
