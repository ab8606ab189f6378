// File: internal/config/config.go
// Brief: Typed CLI options for the installer.

// Package config translates Cobra/Viper flag values into the strongly
// typed options the rollout consumes, validates them up front, and feeds
// the user-supplied values into the variable set.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/example/stackup/internal/credfile"
	"github.com/example/stackup/internal/rollout"
	"github.com/example/stackup/internal/state"
	"github.com/example/stackup/internal/vars"
)

// Options holds all CLI configuration for an install run.
type Options struct {
	Domain       string
	ACMEEmail    string
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPass     string
	SMTPSender   string
	RabbitMQUser string

	PortainerURL string
	S3Endpoint   string

	ReadyBudget  time.Duration
	HealthBudget time.Duration

	CredentialFile string
	StateFile      string

	NonInteractive bool
	SkipPrepare    bool
	LogLevel       string
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		SMTPPort:       "587",
		RabbitMQUser:   "admin",
		PortainerURL:   "http://localhost:9000",
		S3Endpoint:     "http://127.0.0.1:9002",
		ReadyBudget:    120 * time.Second,
		HealthBudget:   60 * time.Second,
		CredentialFile: credfile.DefaultPath,
		StateFile:      state.DefaultRelPath,
		LogLevel:       "info",
	}
}

// BindFlags attaches install flags to the given FlagSet.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Domain, "domain", o.Domain, "Base domain for all service hostnames (e.g. example.com)")
	fs.StringVar(&o.ACMEEmail, "acme-email", o.ACMEEmail, "Email for Let's Encrypt certificate registration")
	fs.StringVar(&o.SMTPHost, "smtp-host", o.SMTPHost, "SMTP server hostname for outbound mail")
	fs.StringVar(&o.SMTPPort, "smtp-port", o.SMTPPort, "SMTP server port")
	fs.StringVar(&o.SMTPUser, "smtp-user", o.SMTPUser, "SMTP username")
	fs.StringVar(&o.SMTPPass, "smtp-pass", o.SMTPPass, "SMTP password (prompted when omitted)")
	fs.StringVar(&o.SMTPSender, "smtp-sender", o.SMTPSender, "Mail sender address (defaults to the SMTP username)")
	fs.StringVar(&o.RabbitMQUser, "rabbitmq-user", o.RabbitMQUser, "RabbitMQ administrator username")
	fs.StringVar(&o.PortainerURL, "portainer-url", o.PortainerURL, "Portainer base URL for the control-plane client")
	fs.StringVar(&o.S3Endpoint, "s3-endpoint", o.S3Endpoint, "MinIO S3 endpoint used by the provisioning hook")
	fs.DurationVar(&o.ReadyBudget, "ready-budget", o.ReadyBudget, "How long to wait for the control plane to come up")
	fs.DurationVar(&o.HealthBudget, "health-budget", o.HealthBudget, "How long to wait per stack for services to converge")
	fs.StringVar(&o.CredentialFile, "credential-file", o.CredentialFile, "Where to write the generated credential summary")
	fs.StringVar(&o.StateFile, "state-file", o.StateFile, "Path of the sqlite run history database")
	fs.BoolVar(&o.NonInteractive, "non-interactive", o.NonInteractive, "Fail on missing values instead of prompting")
	fs.BoolVar(&o.SkipPrepare, "skip-prepare", o.SkipPrepare, "Skip network/volume preparation (resources already exist)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn, error")
}

var domainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Validate checks required values and formats. It runs after prompting,
// so in non-interactive mode a missing value surfaces here.
func (o *Options) Validate() error {
	if o.Domain == "" {
		return &rollout.ValidationError{Msg: "--domain is required"}
	}
	if !domainRe.MatchString(o.Domain) {
		return &rollout.ValidationError{Msg: fmt.Sprintf("invalid domain %q", o.Domain)}
	}
	if o.ACMEEmail == "" {
		return &rollout.ValidationError{Msg: "--acme-email is required"}
	}
	if !emailRe.MatchString(o.ACMEEmail) {
		return &rollout.ValidationError{Msg: fmt.Sprintf("invalid email %q", o.ACMEEmail)}
	}
	if o.SMTPHost == "" {
		return &rollout.ValidationError{Msg: "--smtp-host is required"}
	}
	if _, err := strconv.Atoi(o.SMTPPort); err != nil {
		return &rollout.ValidationError{Msg: fmt.Sprintf("invalid smtp port %q", o.SMTPPort)}
	}
	if o.SMTPUser == "" {
		return &rollout.ValidationError{Msg: "--smtp-user is required"}
	}
	if o.SMTPPass == "" {
		return &rollout.ValidationError{Msg: "--smtp-pass is required"}
	}
	if o.RabbitMQUser == "" {
		return &rollout.ValidationError{Msg: "--rabbitmq-user must not be empty"}
	}
	for _, u := range []struct{ flag, val string }{
		{"portainer-url", o.PortainerURL},
		{"s3-endpoint", o.S3Endpoint},
	} {
		parsed, err := url.Parse(u.val)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return &rollout.ValidationError{Msg: fmt.Sprintf("invalid --%s %q", u.flag, u.val)}
		}
	}
	if o.ReadyBudget <= 0 || o.HealthBudget <= 0 {
		return &rollout.ValidationError{Msg: "budgets must be positive"}
	}
	return nil
}

// CollectInto feeds the user-supplied values into the variable set.
func (o *Options) CollectInto(vs *vars.Set) error {
	puts := []struct {
		key vars.Key
		val string
	}{
		{vars.Domain, o.Domain},
		{vars.ACMEEmail, o.ACMEEmail},
		{vars.SMTPHost, o.SMTPHost},
		{vars.SMTPPort, o.SMTPPort},
		{vars.SMTPUser, o.SMTPUser},
		{vars.SMTPPass, o.SMTPPass},
		{vars.RabbitMQDefaultUser, o.RabbitMQUser},
	}
	for _, p := range puts {
		if err := vs.Put(p.key, p.val); err != nil {
			return err
		}
	}
	if o.SMTPSender != "" {
		if err := vs.Put(vars.SMTPSender, o.SMTPSender); err != nil {
			return err
		}
	}
	return nil
}
