package msrp

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/limits"
	"github.com/opd-ai/gomsrp/report"
	"github.com/opd-ai/gomsrp/transaction"
	"github.com/opd-ai/gomsrp/transport"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is the environment prefix used by the command line tools.
const DefaultEnvPrefix = "MSRP"

// DefaultDialTimeout bounds connection establishment in Dial.
const DefaultDialTimeout = 10 * time.Second

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("msrp_uri", func(fl validator.FieldLevel) bool {
		_, err := transport.ParseURI(fl.Field().String())
		return err == nil
	})
	return v
}

// Options contains the configuration of a Session or Server.
//
// Every field can be set from the environment (prefix_FIELD, see
// LoadOptionsFromEnv) or from a YAML file (see LoadOptionsFile).
type Options struct {
	// LocalURI is the From-Path of outgoing requests and the To-Path
	// expected on incoming ones.
	LocalURI string `envconfig:"LOCAL_URI" yaml:"local_uri" validate:"required,msrp_uri"`
	// RemoteURI is the peer. It is required to Dial; accepted sessions
	// learn it from the first request.
	RemoteURI string `envconfig:"REMOTE_URI" yaml:"remote_uri" validate:"omitempty,msrp_uri"`

	// ChunkSize is the largest body of one SEND and the size of the
	// connection output buffer.
	ChunkSize       int   `envconfig:"CHUNK_SIZE" yaml:"chunk_size" validate:"min=64,max=1048576"`
	MaxIncomingSize int64 `envconfig:"MAX_INCOMING_SIZE" yaml:"max_incoming_size" validate:"gt=0"`

	DialTimeout          time.Duration `envconfig:"DIAL_TIMEOUT" yaml:"dial_timeout" validate:"gt=0"`
	ResponseTimeout      time.Duration `envconfig:"RESPONSE_TIMEOUT" yaml:"response_timeout" validate:"gt=0"`
	TimeoutCheckInterval time.Duration `envconfig:"TIMEOUT_CHECK_INTERVAL" yaml:"timeout_check_interval" validate:"gt=0"`
	WriteTimeout         time.Duration `envconfig:"WRITE_TIMEOUT" yaml:"write_timeout" validate:"gt=0"`

	// RejectCode answers incoming messages the accept hook declines.
	RejectCode int `envconfig:"REJECT_CODE" yaml:"reject_code" validate:"oneof=400 403 413 415"`

	// SuccessReport and FailureReport are the report headers of outgoing SENDs.
	SuccessReport bool   `envconfig:"SUCCESS_REPORT" yaml:"success_report"`
	FailureReport string `envconfig:"FAILURE_REPORT" yaml:"failure_report" validate:"oneof=yes no partial"`

	// StatusPercent and ReportGranularity drive progress callbacks;
	// ReportPercent the intermediate success REPORTs (0 sends only the final one).
	StatusPercent     int   `envconfig:"STATUS_PERCENT" yaml:"status_percent" validate:"min=1,max=100"`
	ReportPercent     int   `envconfig:"REPORT_PERCENT" yaml:"report_percent" validate:"min=0,max=100"`
	ReportGranularity int64 `envconfig:"REPORT_GRANULARITY" yaml:"report_granularity" validate:"gt=0"`

	MaxSessions int    `envconfig:"MAX_SESSIONS" yaml:"max_sessions" validate:"gt=0"`
	LogLevel    string `envconfig:"LOG_LEVEL" yaml:"log_level" validate:"oneof=panic fatal error warn warning info debug trace"`
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		ChunkSize:            limits.DefaultChunkSize,
		MaxIncomingSize:      limits.MaxIncomingMessage,
		DialTimeout:          DefaultDialTimeout,
		ResponseTimeout:      limits.DefaultResponseTimeout,
		TimeoutCheckInterval: transport.DefaultTimeoutCheckInterval,
		WriteTimeout:         transport.DefaultWriteTimeout,
		RejectCode:           codec.CodeStopSending,
		FailureReport:        codec.ReportYes,
		StatusPercent:        report.DefaultPercent,
		ReportGranularity:    report.DefaultGranularity,
		MaxSessions:          transport.DefaultMaxSessions,
		LogLevel:             "info",
	}
}

// LoadOptionsFromEnv returns the defaults overridden by environment variables
// named prefix_FIELD, e.g. MSRP_LOCAL_URI. A .env file in the working
// directory is loaded first when present. The result is not validated so
// callers can apply further overrides; NewSession and NewServer validate.
func LoadOptionsFromEnv(prefix string) (*Options, error) {
	_ = godotenv.Load()

	opts := NewOptions()
	if err := envconfig.Process(prefix, opts); err != nil {
		return nil, fmt.Errorf("load options from environment: %w", err)
	}
	return opts, nil
}

// LoadOptionsFile returns the defaults overridden by the YAML file at path.
// Like LoadOptionsFromEnv it does not validate.
func LoadOptionsFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	opts := NewOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return opts, nil
}

// Validate checks every field.
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if err := limits.ValidateChunkSize(o.ChunkSize); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if err := o.mechanism().Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// ApplyLogLevel sets the global logrus level from LogLevel.
func (o *Options) ApplyLogLevel() error {
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

func (o *Options) mechanism() *report.Default {
	return &report.Default{
		Percent:       o.StatusPercent,
		Granularity:   o.ReportGranularity,
		ReportPercent: o.ReportPercent,
	}
}

func (o *Options) transactionConfig(mech report.Mechanism) transaction.Config {
	return transaction.Config{
		LocalURI:        o.LocalURI,
		RemoteURI:       o.RemoteURI,
		ChunkSize:       o.ChunkSize,
		MaxIncomingSize: o.MaxIncomingSize,
		ResponseTimeout: o.ResponseTimeout,
		RejectCode:      o.RejectCode,
		Mechanism:       mech,
	}
}

func (o *Options) connConfig() transport.ConnConfig {
	return transport.ConnConfig{
		ChunkSize:            o.ChunkSize,
		WriteTimeout:         o.WriteTimeout,
		TimeoutCheckInterval: o.TimeoutCheckInterval,
	}
}
