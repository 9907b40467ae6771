package connection

import "github.com/lexfront/connkit/errors"

// Config is the `connection` configuration section.
type Config struct {
	URL       string          `yaml:"url" mapstructure:"url"`
	Policy    Policy          `yaml:"policy" mapstructure:"policy"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
	Token     TokenConfig     `yaml:"token" mapstructure:"token"`
}

// ApplyDefaults fills the policy and websocket defaults.
func (c *Config) ApplyDefaults() {
	c.Policy.ApplyDefaults()
	c.WebSocket.ApplyDefaults()
}

// Validate reports a missing URL. Field ranges are checked by struct tags.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.ConfigurationIssue("connection.url", "must not be empty")
	}
	return nil
}

// TokenSource returns a SignedTokenSource when a secret is configured, nil
// otherwise.
func (c *Config) TokenSource() (TokenSource, error) {
	if c.Token.Secret == "" {
		return nil, nil
	}
	return NewSignedTokenSource(c.Token)
}
