package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// configEnvKeys lists every environment variable Load consults.
var configEnvKeys = []string{
	"HTTP_ADDR", "SMTP_ADDR", "MAIL_DOMAIN",
	"MAILBOX_BLACKLIST", "BANNED_SENDER_DOMAINS",
	"MAX_MESSAGES_PER_MAILBOX", "MESSAGE_TTL_MINUTES", "MAX_MESSAGE_BYTES",
	"LOG_LEVEL", "METRICS_ENABLED", "CONFIG_FILE",
}

// clearEnv unsets all config variables for the test, restoring them afterward.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.HTTPAddr != "0.0.0.0:3000" {
		t.Errorf("Expected HTTP addr '0.0.0.0:3000', got '%s'", cfg.HTTPAddr)
	}
	if cfg.SMTPAddr != "0.0.0.0:25" {
		t.Errorf("Expected SMTP addr '0.0.0.0:25', got '%s'", cfg.SMTPAddr)
	}
	if cfg.Domain != "" {
		t.Errorf("Expected empty domain, got '%s'", cfg.Domain)
	}
	if cfg.MaxMessagesPerMailbox != 200 {
		t.Errorf("Expected max messages 200, got %d", cfg.MaxMessagesPerMailbox)
	}
	if cfg.MessageTTLMinutes != 1440 {
		t.Errorf("Expected TTL 1440 minutes, got %d", cfg.MessageTTLMinutes)
	}
	if cfg.MaxMessageBytes != 10*1024*1024 {
		t.Errorf("Expected max message bytes 10485760, got %d", cfg.MaxMessageBytes)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got '%s'", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected metrics enabled by default")
	}

	if len(cfg.MailboxBlacklist) != 9 {
		t.Errorf("Expected 9 default blacklist entries, got %d", len(cfg.MailboxBlacklist))
	}
	for _, name := range []string{"admin", "postmaster", "noreply"} {
		if !cfg.IsMailboxBlacklisted(name) {
			t.Errorf("Expected '%s' to be blacklisted by default", name)
		}
	}
	if len(cfg.BannedSenderDomains) != 0 {
		t.Errorf("Expected empty banned sender domains, got %d entries", len(cfg.BannedSenderDomains))
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", "127.0.0.1:8080")
	t.Setenv("SMTP_ADDR", ":2525")
	t.Setenv("MAIL_DOMAIN", "  Example.COM  ")
	t.Setenv("MAX_MESSAGES_PER_MAILBOX", "5")
	t.Setenv("MESSAGE_TTL_MINUTES", "10")
	t.Setenv("MAX_MESSAGE_BYTES", "2048")
	t.Setenv("BANNED_SENDER_DOMAINS", "Spam.example, ads.example ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("Expected HTTP addr '127.0.0.1:8080', got '%s'", cfg.HTTPAddr)
	}
	if cfg.SMTPAddr != "0.0.0.0:2525" {
		t.Errorf("Expected SMTP addr '0.0.0.0:2525', got '%s'", cfg.SMTPAddr)
	}
	if cfg.Domain != "example.com" {
		t.Errorf("Expected domain 'example.com', got '%s'", cfg.Domain)
	}
	if cfg.MaxMessagesPerMailbox != 5 {
		t.Errorf("Expected max messages 5, got %d", cfg.MaxMessagesPerMailbox)
	}
	if cfg.MessageTTLMinutes != 10 {
		t.Errorf("Expected TTL 10 minutes, got %d", cfg.MessageTTLMinutes)
	}
	if cfg.MessageTTL() != 10*time.Minute {
		t.Errorf("Expected TTL duration 10m, got %v", cfg.MessageTTL())
	}
	if cfg.MaxMessageBytes != 2048 {
		t.Errorf("Expected max message bytes 2048, got %d", cfg.MaxMessageBytes)
	}

	if !cfg.IsSenderDomainBlocked("spam.example") {
		t.Error("Expected 'spam.example' to be blocked")
	}
	if !cfg.IsSenderDomainBlocked("  ADS.EXAMPLE ") {
		t.Error("Expected blocked lookup to trim and lowercase")
	}
	if cfg.IsSenderDomainBlocked("ok.example") {
		t.Error("Expected 'ok.example' not to be blocked")
	}
}

func TestLoad_UnparsableAndEmptyEnvFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_MESSAGES_PER_MAILBOX", "not-a-number")
	t.Setenv("MESSAGE_TTL_MINUTES", "   ")
	t.Setenv("METRICS_ENABLED", "banana")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.MaxMessagesPerMailbox != 200 {
		t.Errorf("Expected fallback max messages 200, got %d", cfg.MaxMessagesPerMailbox)
	}
	if cfg.MessageTTLMinutes != 1440 {
		t.Errorf("Expected fallback TTL 1440, got %d", cfg.MessageTTLMinutes)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected fallback metrics enabled")
	}
}

func TestLoad_ClampsMinimums(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_MESSAGES_PER_MAILBOX", "0")
	t.Setenv("MESSAGE_TTL_MINUTES", "-5")
	t.Setenv("MAX_MESSAGE_BYTES", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.MaxMessagesPerMailbox != 1 {
		t.Errorf("Expected max messages clamped to 1, got %d", cfg.MaxMessagesPerMailbox)
	}
	if cfg.MessageTTLMinutes != 1 {
		t.Errorf("Expected TTL clamped to 1, got %d", cfg.MessageTTLMinutes)
	}
	if cfg.MaxMessageBytes != 1024 {
		t.Errorf("Expected max message bytes clamped to 1024, got %d", cfg.MaxMessageBytes)
	}
}

func TestLoad_EmptyBlacklistEnvDisablesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAILBOX_BLACKLIST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(cfg.MailboxBlacklist) != 0 {
		t.Errorf("Expected empty blacklist, got %d entries", len(cfg.MailboxBlacklist))
	}
	if cfg.IsMailboxBlacklisted("admin") {
		t.Error("Expected 'admin' to be allowed when blacklist is explicitly empty")
	}
}

func TestLoad_CustomBlacklist(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAILBOX_BLACKLIST", " Root , ADMIN ,,backup")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(cfg.MailboxBlacklist) != 3 {
		t.Errorf("Expected 3 blacklist entries, got %d", len(cfg.MailboxBlacklist))
	}
	for _, name := range []string{"root", "admin", "backup", " ROOT "} {
		if !cfg.IsMailboxBlacklisted(name) {
			t.Errorf("Expected '%s' to be blacklisted", name)
		}
	}
	if cfg.IsMailboxBlacklisted("postmaster") {
		t.Error("Expected default entry 'postmaster' to be replaced by the custom list")
	}
}

func TestLoad_ConfigFileUnderEnv(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "forsaken-mail.yml")
	configContent := `http_addr: "10.0.0.1:9000"
smtp_addr: "10.0.0.1:2525"
domain: file.example
max_messages_per_mailbox: 7
message_ttl_minutes: 30
banned_sender_domains:
  - filespam.example
metrics_enabled: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", configPath)
	// Env should still win over the file for this knob.
	t.Setenv("MAX_MESSAGES_PER_MAILBOX", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.HTTPAddr != "10.0.0.1:9000" {
		t.Errorf("Expected HTTP addr from file, got '%s'", cfg.HTTPAddr)
	}
	if cfg.Domain != "file.example" {
		t.Errorf("Expected domain 'file.example', got '%s'", cfg.Domain)
	}
	if cfg.MaxMessagesPerMailbox != 3 {
		t.Errorf("Expected env to override file, got %d", cfg.MaxMessagesPerMailbox)
	}
	if cfg.MessageTTLMinutes != 30 {
		t.Errorf("Expected TTL 30 from file, got %d", cfg.MessageTTLMinutes)
	}
	if !cfg.IsSenderDomainBlocked("filespam.example") {
		t.Error("Expected banned sender domain from file")
	}
	if cfg.MetricsEnabled {
		t.Error("Expected metrics disabled by file")
	}
	// Keys the file omits keep their defaults.
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Errorf("Expected default max message bytes, got %d", cfg.MaxMessageBytes)
	}
	if !cfg.IsMailboxBlacklisted("admin") {
		t.Error("Expected default blacklist when file omits the key")
	}
}

func TestLoad_MissingConfigFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yml"))

	if _, err := Load(); err != nil {
		t.Fatalf("Expected no error for missing config file, got: %v", err)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "forsaken-mail.yml")
	invalidYAML := `domain: [broken
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", configPath)

	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

func TestNormalizeListenAddr(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"port only", ":3000", "0.0.0.0:3000"},
		{"host and port", "127.0.0.1:3000", "127.0.0.1:3000"},
		{"already wildcard", "0.0.0.0:25", "0.0.0.0:25"},
		{"hostname", "mail.example:25", "mail.example:25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeListenAddr(tt.in); got != tt.want {
				t.Errorf("Expected '%s', got '%s'", tt.want, got)
			}
		})
	}
}
