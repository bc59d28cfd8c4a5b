package stream

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/argo-stream/internal/schema"
	"github.com/rxtech-lab/argo-stream/pkg/errors"
	"github.com/rxtech-lab/argo-stream/pkg/transport"
)

// ThrottleMode controls how the frequency limit is enforced.
type ThrottleMode string

const (
	// ThrottleDrop keeps reading frames and discards those that arrive before
	// the limit has elapsed since the last delivery.
	ThrottleDrop ThrottleMode = "drop"
	// ThrottleWait stops reading until the limit has elapsed.
	ThrottleWait ThrottleMode = "wait"
)

// CallbackPolicy controls what a callback failure does to the worker.
type CallbackPolicy string

const (
	CallbackTerminate CallbackPolicy = "terminate"
	CallbackContinue  CallbackPolicy = "continue"
)

// Default configuration values.
const (
	DefaultBaseURL         = "wss://api.lemon.markets/streams/v1/"
	DefaultConnectTimeout  = 10 * time.Second
	DefaultStopGracePeriod = 5 * time.Second
	DefaultInitialBackoff  = 500 * time.Millisecond
	DefaultMaxBackoff      = 30 * time.Second
)

// BackoffConfig bounds the delay between failed connection attempts.
type BackoffConfig struct {
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" jsonschema:"description=First delay after a failed connection attempt" validate:"gt=0"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval" jsonschema:"description=Upper bound for the delay between attempts" validate:"gtefield=InitialInterval"`
}

// Config configures a Stream.
type Config struct {
	BaseURL         string         `json:"base_url" yaml:"base_url" jsonschema:"title=Base URL,description=Streaming API base URL,default=wss://api.lemon.markets/streams/v1/" validate:"required,url"`
	Token           string         `json:"token,omitempty" yaml:"token" jsonschema:"title=Token,description=Bearer token sent on connect" keychain:"true"`
	ConnectTimeout  time.Duration  `json:"connect_timeout" yaml:"connect_timeout" jsonschema:"description=Timeout for establishing the transport" validate:"gt=0"`
	FrequencyLimit  time.Duration  `json:"frequency_limit" yaml:"frequency_limit" jsonschema:"description=Minimum interval between two delivered messages (0 disables)" validate:"gte=0"`
	ThrottleMode    ThrottleMode   `json:"throttle_mode" yaml:"throttle_mode" jsonschema:"enum=drop,enum=wait,default=drop" validate:"oneof=drop wait"`
	CallbackPolicy  CallbackPolicy `json:"callback_policy" yaml:"callback_policy" jsonschema:"enum=terminate,enum=continue,default=terminate" validate:"oneof=terminate continue"`
	StopGracePeriod time.Duration  `json:"stop_grace_period" yaml:"stop_grace_period" jsonschema:"description=How long Stop waits for the worker" validate:"gt=0"`
	Transport       transport.Kind `json:"transport" yaml:"transport" jsonschema:"enum=gorilla,enum=nhooyr,default=gorilla" validate:"oneof=gorilla nhooyr"`
	Backoff         BackoffConfig  `json:"backoff" yaml:"backoff"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{}.WithDefaults() //nolint:exhaustruct // defaults fill every field
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}

	if c.ThrottleMode == "" {
		c.ThrottleMode = ThrottleDrop
	}

	if c.CallbackPolicy == "" {
		c.CallbackPolicy = CallbackTerminate
	}

	if c.StopGracePeriod <= 0 {
		c.StopGracePeriod = DefaultStopGracePeriod
	}

	if c.Transport == "" {
		c.Transport = transport.KindGorilla
	}

	if c.Backoff.InitialInterval <= 0 {
		c.Backoff.InitialInterval = DefaultInitialBackoff
	}

	if c.Backoff.MaxInterval <= 0 {
		c.Backoff.MaxInterval = max(DefaultMaxBackoff, c.Backoff.InitialInterval)
	}

	return c
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid config", err)
	}

	return nil
}

// ParseConfig parses YAML into a Config, applies defaults and validates it.
func ParseConfig(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse YAML config", err) //nolint:exhaustruct // zero value for error response
	}

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, err //nolint:exhaustruct // zero value for error response
	}

	return config, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, fmt.Sprintf("failed to read config %s", path), err) //nolint:exhaustruct // zero value for error response
	}

	return ParseConfig(data)
}

// ConfigSchema returns the JSON schema of Config.
func ConfigSchema() (string, error) {
	return schema.ToJSONSchema(&Config{}) //nolint:exhaustruct // Empty config for schema generation
}

// SecretFields returns the JSON names of Config fields that hold credentials.
func SecretFields() []string {
	return schema.KeychainFields(Config{}) //nolint:exhaustruct // Empty struct is intentional for field introspection
}

// Redacted returns a copy of c safe to print.
func (c Config) Redacted() Config {
	if c.Token != "" {
		c.Token = "****"
	}

	return c
}
