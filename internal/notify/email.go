package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
)

var ErrNoRecipients = errors.New("no alert recipients configured")

// SESClient is the subset of the SES v2 client used to send alerts.
type SESClient interface {
	SendEmail(ctx context.Context, input *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SecretsClient is the subset of the Secrets Manager client used to resolve recipients.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// EmailNotifier e-mails missed heartbeats through AWS SES.
type EmailNotifier struct {
	Client     SESClient
	From       string
	Recipients []string
	Log        *zerolog.Logger
}

func NewEmailNotifier(client SESClient, from string, recipients []string, log *zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		Client:     client,
		From:       from,
		Recipients: recipients,
		Log:        log,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, missed models.MissedHeartbeat) error {
	if len(n.Recipients) == 0 {
		return ErrNoRecipients
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.From),
		Destination: &types.Destination{
			ToAddresses: n.Recipients,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data: aws.String(Subject(missed)),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data: aws.String(Body(missed)),
					},
				},
			},
		},
	}

	out, err := n.Client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	n.Log.Info().Int32("pid", missed.PID).Str("message_id", aws.ToString(out.MessageId)).Msg("Message Sent")
	return nil
}

// ResolveRecipients reads a JSON list of e-mail addresses from a Secrets Manager secret.
func ResolveRecipients(ctx context.Context, client SecretsClient, secretID string) ([]string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", secretID, err)
	}

	var recipients []string
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &recipients); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON list of addresses: %w", secretID, err)
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return recipients, nil
}
