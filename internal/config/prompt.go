// File: internal/config/prompt.go
// Brief: Interactive prompting for values missing from flags.

package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptMissing asks for required values that were not supplied by flags
// or environment. Secrets are read without echo when stdin is a
// terminal. No-op when NonInteractive is set; Validate reports the gaps
// instead.
func (o *Options) PromptMissing() error {
	if o.NonInteractive {
		return nil
	}
	reader := bufio.NewReader(os.Stdin)
	fields := []struct {
		name   string
		dst    *string
		secret bool
	}{
		{"Base domain (e.g. example.com)", &o.Domain, false},
		{"ACME email for TLS certificates", &o.ACMEEmail, false},
		{"SMTP host", &o.SMTPHost, false},
		{"SMTP user", &o.SMTPUser, false},
		{"SMTP password", &o.SMTPPass, true},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		v, err := promptOne(reader, f.name, f.secret)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

func promptOne(reader *bufio.Reader, label string, secret bool) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	if secret && term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return strings.TrimSpace(line), nil
}
