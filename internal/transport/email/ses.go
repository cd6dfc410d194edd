package email

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
)

const ProviderSES = "ses"

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESTransport struct {
	client SESService
	logger logger.Logger
}

func NewSESTransport(client SESService, log logger.Logger) *SESTransport {
	return &SESTransport{
		client: client,
		logger: log.WithFields(map[string]interface{}{"provider": ProviderSES}),
	}
}

func (t *SESTransport) Provider() string { return ProviderSES }

func (t *SESTransport) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if err := msg.validate(); err != nil {
		return nil, errors.NewTransportError(ProviderSES, err)
	}

	out, err := t.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return nil, errors.NewTransportError(ProviderSES, err)
	}

	return &SendResult{
		MessageID: aws.ToString(out.MessageId),
		Provider:  ProviderSES,
		SentAt:    time.Now().UTC(),
	}, nil
}
