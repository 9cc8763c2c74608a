package cmd

import (
	"context"
	"fmt"

	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/appconfig"
	awsclient "github.com/EO-DataHub/eodhp-heartbeat-services/internal/aws"
	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/events"
	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/notify"
	"github.com/rs/zerolog"
)

// buildNotifier assembles the notifiers named in the config. The returned
// function releases any connections they hold.
func buildNotifier(ctx context.Context, cfg *appconfig.Config, logger *zerolog.Logger) (notify.Notifier, func(), error) {
	var sinks notify.Multi
	var closers []func()

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, name := range cfg.Notifiers {
		switch name {
		case appconfig.NotifierLog:
			sinks = append(sinks, notify.NewLogNotifier(logger))

		case appconfig.NotifierEmail:
			emailer, err := newEmailNotifier(ctx, cfg, logger)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, emailer)

		case appconfig.NotifierPulsar:
			publisher, err := events.NewEventPublisher(cfg.Pulsar.URL, cfg.Pulsar.TopicProducer, logger)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, publisher.Close)
			sinks = append(sinks, notify.NewEventNotifier(publisher))

		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown notifier %q", name)
		}
	}

	switch len(sinks) {
	case 0:
		return notify.NewLogNotifier(logger), closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}

// newEmailNotifier creates an SES notifier. Recipients from the config and
// from the optional Secrets Manager secret are combined.
func newEmailNotifier(ctx context.Context, cfg *appconfig.Config, logger *zerolog.Logger) (*notify.EmailNotifier, error) {
	awsCfg, err := awsclient.LoadAWSConfig(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, err
	}

	recipients := append([]string{}, cfg.AWS.SES.To...)
	if cfg.AWS.SES.RecipientsSecret != "" {
		secret, err := notify.ResolveRecipients(ctx, awsclient.NewSecretsManagerClient(awsCfg), cfg.AWS.SES.RecipientsSecret)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, secret...)
	}

	logger.Info().Str("region", cfg.AWS.Region).Int("recipients", len(recipients)).Msg("Creating AWS SES client")
	return notify.NewEmailNotifier(awsclient.NewSESClient(awsCfg), cfg.AWS.SES.From, recipients, logger), nil
}
