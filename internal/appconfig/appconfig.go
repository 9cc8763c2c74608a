package appconfig

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"
)

const (
	NotifierLog    = "log"
	NotifierEmail  = "email"
	NotifierPulsar = "pulsar"
)

// Config holds all configuration details
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Client    ClientConfig   `yaml:"client"`
	API       APIConfig      `yaml:"api"`
	Database  DatabaseConfig `yaml:"database"`
	Pulsar    PulsarConfig   `yaml:"pulsar"`
	AWS       AWSConfig      `yaml:"aws"`
	Notifiers []string       `yaml:"notifiers"`
}

// ServerConfig defines the heartbeat socket and monitoring thresholds
type ServerConfig struct {
	// Socket is the bind path; a path under /tmp/unx_ss/ is generated when empty.
	Socket    string        `yaml:"socket"`
	Timeout   time.Duration `yaml:"timeout"`
	BufSize   int           `yaml:"bufsize"`
	Threshold time.Duration `yaml:"threshold"`
}

// ClientConfig defines the defaults for the beat command
type ClientConfig struct {
	Socket string        `yaml:"socket"`
	ID     string        `yaml:"id"`
	Rate   time.Duration `yaml:"rate"`
}

// APIConfig defines the status API listener
type APIConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	BasePath string `yaml:"basePath"`
}

// DatabaseConfig defines the database connection details
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Source  string `yaml:"source"`
}

// PulsarConfig defines the messaging system connection details
type PulsarConfig struct {
	URL           string `yaml:"url"`
	TopicProducer string `yaml:"topicProducer"`
	TopicConsumer string `yaml:"topicConsumer"`
	Subscription  string `yaml:"subscription"`
}

// SESConfig defines who alert e-mails are sent from and to
type SESConfig struct {
	From             string   `yaml:"from"`
	To               []string `yaml:"to"`
	RecipientsSecret string   `yaml:"recipientsSecret"`
}

type AWSConfig struct {
	Region string    `yaml:"region"`
	SES    SESConfig `yaml:"ses"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout:   10 * time.Second,
			BufSize:   26,
			Threshold: 10 * time.Second,
		},
		Client: ClientConfig{
			Socket: "/tmp/unx_ss/server.s",
			Rate:   5 * time.Second,
		},
		API: APIConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			BasePath: "/api",
		},
		Pulsar: PulsarConfig{
			TopicProducer: "heartbeat-missed",
			TopicConsumer: "heartbeat-missed",
			Subscription:  "heartbeat-alerts",
		},
		AWS: AWSConfig{
			Region: "eu-west-2",
		},
		Notifiers: []string{NotifierLog},
	}
}

// LoadConfig loads and parses the configuration from a given file path. The
// file is rendered as a template over the environment first, so values may be
// written as {{ .VAR_NAME }}. An empty path yields Default().
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	// Parse the template file
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		log.Error().Err(err).Msg("error parsing config file template")
		return nil, err
	}
	tmpl.Option("missingkey=zero")

	// Execute the template with environment variables
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, loadEnvVars()); err != nil {
		log.Error().Err(err).Msg("error executing config file template")
		return nil, err
	}

	// Load and unmarshal the YAML over the defaults
	if err := yaml.Unmarshal(buf.Bytes(), config); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config YAML")
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if c.Server.Threshold <= 0 {
		return fmt.Errorf("server.threshold must be positive")
	}
	if c.Server.BufSize < 14 {
		return fmt.Errorf("server.bufsize must hold at least one 14 byte packet")
	}
	if c.Client.Rate <= 0 {
		return fmt.Errorf("client.rate must be positive")
	}
	if c.Client.Rate >= c.Server.Threshold {
		log.Warn().Dur("rate", c.Client.Rate).Dur("threshold", c.Server.Threshold).
			Msg("client rate is not below the server threshold, expect false alarms")
	}

	for _, n := range c.Notifiers {
		switch n {
		case NotifierLog:
		case NotifierEmail:
			if err := c.ValidateEmail(); err != nil {
				return fmt.Errorf("email notifier: %w", err)
			}
		case NotifierPulsar:
			if c.Pulsar.URL == "" {
				return fmt.Errorf("pulsar notifier requires pulsar.url")
			}
		default:
			return fmt.Errorf("unknown notifier %q", n)
		}
	}
	return nil
}

// ValidateEmail checks that alert e-mails have a sender and at least one
// source of recipients.
func (c *Config) ValidateEmail() error {
	if c.AWS.SES.From == "" {
		return fmt.Errorf("aws.ses.from is required")
	}
	if len(c.AWS.SES.To) == 0 && c.AWS.SES.RecipientsSecret == "" {
		return fmt.Errorf("aws.ses.to or aws.ses.recipientsSecret is required")
	}
	return nil
}

// loadEnvVars loads environment variables into a map
func loadEnvVars() map[string]string {
	envVars := make(map[string]string)
	for _, env := range os.Environ() {
		kv := strings.SplitN(env, "=", 2)
		if len(kv) == 2 {
			envVars[kv[0]] = kv[1]
		}
	}
	return envVars
}
