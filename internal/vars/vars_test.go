package vars

import (
	"sort"
	"testing"
)

func TestPutRejectsUnknownAndEmpty(t *testing.T) {
	s := NewSet()
	if err := s.Put(Key("NOT_A_KEY"), "x"); err == nil {
		t.Error("unknown key accepted")
	}
	if err := s.Put(Domain, ""); err == nil {
		t.Error("empty value accepted")
	}
}

func TestPutIsWriteOnce(t *testing.T) {
	s := NewSet()
	if err := s.Put(Domain, "example.com"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(Domain, "other.com"); err == nil {
		t.Error("overwrite with different value accepted")
	}
	// Same value again is a no-op, not an error.
	if err := s.Put(Domain, "example.com"); err != nil {
		t.Errorf("idempotent re-put rejected: %v", err)
	}
}

func TestNewSetAppliesDefaults(t *testing.T) {
	s := NewSet()
	img, ok := s.Get(PostgresImage)
	if !ok || img != "pgvector/pgvector:pg16" {
		t.Errorf("PostgresImage default = %q, %v", img, ok)
	}
}

func TestGenerateSecretsPopulatesAllGeneratedKeys(t *testing.T) {
	s := NewSet()
	if err := s.GenerateSecrets(); err != nil {
		t.Fatal(err)
	}
	for _, k := range Keys() {
		spec, _ := Lookup(k)
		if spec.Source != Generated {
			continue
		}
		v, ok := s.Get(k)
		if !ok {
			t.Errorf("%s not generated", k)
			continue
		}
		if len(v) != spec.Length {
			t.Errorf("%s length = %d, want %d", k, len(v), spec.Length)
		}
	}
}

func TestGenerateSecretsPreservesExisting(t *testing.T) {
	s := NewSet()
	if err := s.Put(PostgresPassword, "fixedfixedfixedfixedfixedfixed32"); err != nil {
		t.Fatal(err)
	}
	if err := s.GenerateSecrets(); err != nil {
		t.Fatal(err)
	}
	v, _ := s.Get(PostgresPassword)
	if v != "fixedfixedfixedfixedfixedfixed32" {
		t.Errorf("pre-set secret was regenerated to %q", v)
	}
}

func TestDeriveAliases(t *testing.T) {
	s := NewSet()
	for k, v := range map[Key]string{
		Domain:   "example.com",
		SMTPHost: "smtp.example.com",
		SMTPUser: "mailer@example.com",
		SMTPPass: "hunter2hunter2",
	} {
		if err := s.Put(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.GenerateSecrets(); err != nil {
		t.Fatal(err)
	}
	if err := s.DeriveAliases(); err != nil {
		t.Fatal(err)
	}

	pg, _ := s.Get(PostgresPassword)
	for dst, want := range map[Key]string{
		DBPostgresDBPassword: pg,
		SMTPAddress:          "smtp.example.com",
		SMTPDomain:           "smtp.example.com",
		SMTPUsername:         "mailer@example.com",
		SMTPPassword:         "hunter2hunter2",
		// No explicit sender: falls back to the SMTP user.
		MailerSenderEmail: "mailer@example.com",
	} {
		got, ok := s.Get(dst)
		if !ok || got != want {
			t.Errorf("%s = %q (%v), want %q", dst, got, ok, want)
		}
	}
}

func TestDeriveAliasesExplicitSenderWins(t *testing.T) {
	s := NewSet()
	for k, v := range map[Key]string{
		SMTPHost:   "smtp.example.com",
		SMTPUser:   "mailer@example.com",
		SMTPPass:   "pw",
		SMTPSender: "noreply@example.com",
	} {
		if err := s.Put(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.GenerateSecrets(); err != nil {
		t.Fatal(err)
	}
	if err := s.DeriveAliases(); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(MailerSenderEmail)
	if got != "noreply@example.com" {
		t.Errorf("MailerSenderEmail = %q, want explicit sender", got)
	}
}

func TestMissing(t *testing.T) {
	s := NewSet()
	if err := s.Put(Domain, "example.com"); err != nil {
		t.Fatal(err)
	}
	missing := s.Missing([]Key{Domain, ACMEEmail, SMTPHost})
	if len(missing) != 2 {
		t.Fatalf("Missing = %v", missing)
	}
}

func TestCredentialsSortedAndComplete(t *testing.T) {
	s := NewSet()
	if err := s.GenerateSecrets(); err != nil {
		t.Fatal(err)
	}
	records := s.Credentials()
	if len(records) == 0 {
		t.Fatal("no credential records")
	}
	if !sort.SliceIsSorted(records, func(i, j int) bool {
		if records[i].Service != records[j].Service {
			return records[i].Service < records[j].Service
		}
		return records[i].Key < records[j].Key
	}) {
		t.Error("records not sorted by service then key")
	}
	seen := map[Key]bool{}
	for _, r := range records {
		if seen[r.Key] {
			t.Errorf("key %s appears twice", r.Key)
		}
		seen[r.Key] = true
		if r.Value == "" {
			t.Errorf("key %s has empty value", r.Key)
		}
	}
	for _, k := range Keys() {
		spec, _ := Lookup(k)
		if spec.Source == Generated && spec.Service != "" && !seen[k] {
			t.Errorf("generated key %s missing from records", k)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewSet()
	if err := s.Put(Domain, "example.com"); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	snap["DOMAIN"] = "mutated"
	got, _ := s.Get(Domain)
	if got != "example.com" {
		t.Error("snapshot mutation leaked into set")
	}
}
