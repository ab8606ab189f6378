// File: internal/vars/vars.go
// Brief: Typed configuration variable set threaded through the rollout.

// Package vars models the configuration values that flow into stack
// templates. The key space is a closed enumeration: every key a template
// may reference is declared here with its source, so a renamed or missing
// key fails at construction instead of at render time.
package vars

import (
	"fmt"
	"sort"

	"github.com/example/stackup/internal/secrets"
)

// Key identifies one configuration value. The set of valid keys is fixed
// at compile time; Put rejects anything else.
type Key string

// Source describes how a key's value comes into existence.
type Source int

const (
	// User values are collected from flags or prompts before the run starts.
	User Source = iota
	// Generated values are produced once by the secret generator.
	Generated
	// Derived values are aliases of other keys or are produced by
	// post-deploy hooks while the rollout is in flight.
	Derived
)

// User-supplied keys.
const (
	Domain              Key = "DOMAIN"
	ACMEEmail           Key = "ACME_EMAIL"
	SMTPHost            Key = "SMTP_HOST"
	SMTPPort            Key = "SMTP_PORT"
	SMTPUser            Key = "SMTP_USER"
	SMTPPass            Key = "SMTP_PASS"
	SMTPSender          Key = "SMTP_SENDER"
	RabbitMQDefaultUser Key = "RABBITMQ_DEFAULT_USER"
)

// Generated keys.
const (
	PostgresPassword      Key = "POSTGRES_PASSWORD"
	MinIORootUser         Key = "MINIO_ROOT_USER"
	MinIORootPassword     Key = "MINIO_ROOT_PASSWORD"
	RabbitMQDefaultPass   Key = "RABBITMQ_DEFAULT_PASS"
	RabbitMQErlangCookie  Key = "RABBITMQ_ERLANG_COOKIE"
	N8NEncryptionKey      Key = "N8N_ENCRYPTION_KEY"
	SecretKeyBase         Key = "SECRET_KEY_BASE"
	PortainerAdminPass    Key = "PORTAINER_ADMIN_PASSWORD"
)

// Derived keys.
const (
	DBPostgresDBPassword   Key = "DB_POSTGRESDB_PASSWORD"
	SMTPAddress            Key = "SMTP_ADDRESS"
	SMTPDomain             Key = "SMTP_DOMAIN"
	SMTPUsername           Key = "SMTP_USERNAME"
	SMTPPassword           Key = "SMTP_PASSWORD"
	MailerSenderEmail      Key = "MAILER_SENDER_EMAIL"
	StorageAccessKeyID     Key = "STORAGE_ACCESS_KEY_ID"
	StorageSecretAccessKey Key = "STORAGE_SECRET_ACCESS_KEY"
	PostgresImage          Key = "POSTGRES_IMAGE"
)

// Spec declares how a key is populated.
type Spec struct {
	Source Source
	// Length and Class apply to Generated keys only.
	Length int
	Class  secrets.Class
	// Default applies to Derived keys that carry a static default.
	Default string
	// Secret marks values that must be redacted in rendered previews
	// and recorded in the credential file.
	Secret bool
	// Service names the owning service for credential records.
	Service string
}

var registry = map[Key]Spec{
	Domain:              {Source: User},
	ACMEEmail:           {Source: User},
	SMTPHost:            {Source: User},
	SMTPPort:            {Source: User, Default: "587"},
	SMTPUser:            {Source: User},
	SMTPPass:            {Source: User, Secret: true},
	SMTPSender:          {Source: User},
	RabbitMQDefaultUser: {Source: User, Default: "admin"},

	PostgresPassword:     {Source: Generated, Length: 32, Class: secrets.Alphanumeric, Secret: true, Service: "postgres"},
	MinIORootUser:        {Source: Generated, Length: 16, Class: secrets.Alphanumeric, Service: "minio"},
	MinIORootPassword:    {Source: Generated, Length: 32, Class: secrets.Alphanumeric, Secret: true, Service: "minio"},
	RabbitMQDefaultPass:  {Source: Generated, Length: 32, Class: secrets.Alphanumeric, Secret: true, Service: "rabbitmq"},
	RabbitMQErlangCookie: {Source: Generated, Length: 48, Class: secrets.Alphanumeric, Secret: true, Service: "rabbitmq"},
	N8NEncryptionKey:     {Source: Generated, Length: 32, Class: secrets.Alphanumeric, Secret: true, Service: "n8n"},
	SecretKeyBase:        {Source: Generated, Length: 128, Class: secrets.Hex, Secret: true, Service: "chatwoot"},
	PortainerAdminPass:   {Source: Generated, Length: 24, Class: secrets.Alphanumeric, Secret: true, Service: "portainer"},

	DBPostgresDBPassword:   {Source: Derived, Secret: true},
	SMTPAddress:            {Source: Derived},
	SMTPDomain:             {Source: Derived},
	SMTPUsername:           {Source: Derived},
	SMTPPassword:           {Source: Derived, Secret: true},
	MailerSenderEmail:      {Source: Derived},
	StorageAccessKeyID:     {Source: Derived, Secret: true, Service: "minio"},
	StorageSecretAccessKey: {Source: Derived, Secret: true, Service: "minio"},
	PostgresImage:          {Source: Derived, Default: "pgvector/pgvector:pg16"},
}

// Lookup returns the spec for a key.
func Lookup(k Key) (Spec, bool) {
	spec, ok := registry[k]
	return spec, ok
}

// Keys returns every declared key, sorted.
func Keys() []Key {
	out := make([]Key, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Set holds the resolved values for a single run. Values are write-once:
// a second Put for the same key is an error, which keeps generated
// secrets immutable and catches accidental hook overwrites.
type Set struct {
	values map[Key]string
}

// NewSet returns an empty set with static defaults applied.
func NewSet() *Set {
	s := &Set{values: make(map[Key]string, len(registry))}
	for k, spec := range registry {
		if spec.Source == Derived && spec.Default != "" {
			s.values[k] = spec.Default
		}
	}
	return s
}

// Put records a value. Unknown keys and overwrites are rejected.
func (s *Set) Put(k Key, v string) error {
	if _, ok := registry[k]; !ok {
		return fmt.Errorf("unknown configuration key %q", k)
	}
	if v == "" {
		return fmt.Errorf("empty value for key %q", k)
	}
	if prev, ok := s.values[k]; ok && prev != v {
		return fmt.Errorf("key %q already set", k)
	}
	s.values[k] = v
	return nil
}

// Get returns the value for a key, if populated.
func (s *Set) Get(k Key) (string, bool) {
	v, ok := s.values[k]
	return v, ok
}

// GenerateSecrets populates every Generated key that is still empty.
func (s *Set) GenerateSecrets() error {
	for k, spec := range registry {
		if spec.Source != Generated {
			continue
		}
		if _, ok := s.values[k]; ok {
			continue
		}
		v, err := secrets.Generate(spec.Length, spec.Class)
		if err != nil {
			return fmt.Errorf("generate %s: %w", k, err)
		}
		s.values[k] = v
	}
	return nil
}

// DeriveAliases fills the derived keys that mirror user or generated
// values. It must run after GenerateSecrets and user collection, and
// before the first unit renders.
func (s *Set) DeriveAliases() error {
	aliases := []struct {
		dst Key
		src Key
	}{
		{DBPostgresDBPassword, PostgresPassword},
		{SMTPAddress, SMTPHost},
		{SMTPDomain, SMTPHost},
		{SMTPUsername, SMTPUser},
		{SMTPPassword, SMTPPass},
	}
	for _, a := range aliases {
		v, ok := s.values[a.src]
		if !ok {
			return fmt.Errorf("alias %s: source %s not populated", a.dst, a.src)
		}
		if err := s.Put(a.dst, v); err != nil {
			return err
		}
	}
	// Mailer sender falls back to the SMTP user when no explicit sender
	// was provided.
	sender, ok := s.values[SMTPSender]
	if !ok {
		sender = s.values[SMTPUser]
	}
	if sender != "" {
		if err := s.Put(MailerSenderEmail, sender); err != nil {
			return err
		}
	}
	return nil
}

// Missing reports which of the given keys are not yet populated.
func (s *Set) Missing(keys []Key) []Key {
	var out []Key
	for _, k := range keys {
		if _, ok := s.values[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Snapshot returns a string-keyed copy for template substitution.
func (s *Set) Snapshot() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[string(k)] = v
	}
	return out
}

// CredentialRecord is one generated secret with its owning service.
type CredentialRecord struct {
	Service string
	Key     Key
	Value   string
}

// Credentials returns every populated secret that belongs to a service,
// sorted by service then key, for the end-of-run credential file.
func (s *Set) Credentials() []CredentialRecord {
	var out []CredentialRecord
	for k, spec := range registry {
		if spec.Service == "" {
			continue
		}
		v, ok := s.values[k]
		if !ok {
			continue
		}
		out = append(out, CredentialRecord{Service: spec.Service, Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Key < out[j].Key
	})
	return out
}
