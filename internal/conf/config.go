// Package conf resolves service configuration from environment variables
// layered over an optional YAML config file. Every knob has a built-in
// default; startup never fails on a bad or missing value, only on a config
// file that exists but cannot be parsed.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Defaults applied when neither the environment nor the config file sets a knob.
const (
	DefaultHTTPAddr              = ":3000"
	DefaultSMTPAddr              = ":25"
	DefaultMaxMessagesPerMailbox = 200
	DefaultMessageTTLMinutes     = 1440
	DefaultMaxMessageBytes       = 10 * 1024 * 1024
	DefaultLogLevel              = "info"
)

// defaultMailboxBlacklist lists reserved local parts rejected as recipients.
var defaultMailboxBlacklist = []string{
	"admin", "master", "info", "mail", "webadmin",
	"webmaster", "noreply", "system", "postmaster",
}

// Config holds the resolved runtime configuration.
type Config struct {
	HTTPAddr string
	SMTPAddr string

	// Domain is the mail domain announced by the SMTP server and appended to
	// bare mailbox names. Empty means accept any recipient domain.
	Domain string

	MailboxBlacklist    map[string]struct{}
	BannedSenderDomains map[string]struct{}

	MaxMessagesPerMailbox int
	MessageTTLMinutes     int
	MaxMessageBytes       int

	LogLevel       string
	MetricsEnabled bool
}

// fileConfig mirrors the optional YAML config file. Pointer fields distinguish
// an absent key from an explicit zero value.
type fileConfig struct {
	HTTPAddr              string    `yaml:"http_addr"`
	SMTPAddr              string    `yaml:"smtp_addr"`
	Domain                string    `yaml:"domain"`
	MailboxBlacklist      *[]string `yaml:"mailbox_blacklist"`
	BannedSenderDomains   *[]string `yaml:"banned_sender_domains"`
	MaxMessagesPerMailbox *int      `yaml:"max_messages_per_mailbox"`
	MessageTTLMinutes     *int      `yaml:"message_ttl_minutes"`
	MaxMessageBytes       *int      `yaml:"max_message_bytes"`
	LogLevel              string    `yaml:"log_level"`
	MetricsEnabled        *bool     `yaml:"metrics_enabled"`
}

// Load resolves the configuration. Each knob resolves as: environment
// variable (set, non-empty after trimming, parsable) -> config file key ->
// default, with minimum clamps applied last.
func Load() (*Config, error) {
	file, err := readFileConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr: NormalizeListenAddr(resolveString("HTTP_ADDR", file.HTTPAddr, DefaultHTTPAddr)),
		SMTPAddr: NormalizeListenAddr(resolveString("SMTP_ADDR", file.SMTPAddr, DefaultSMTPAddr)),

		Domain: strings.ToLower(resolveString("MAIL_DOMAIN", file.Domain, "")),

		MailboxBlacklist:    resolveList("MAILBOX_BLACKLIST", file.MailboxBlacklist, defaultMailboxBlacklist),
		BannedSenderDomains: resolveList("BANNED_SENDER_DOMAINS", file.BannedSenderDomains, nil),

		MaxMessagesPerMailbox: max(1, resolveInt("MAX_MESSAGES_PER_MAILBOX", file.MaxMessagesPerMailbox, DefaultMaxMessagesPerMailbox)),
		MessageTTLMinutes:     max(1, resolveInt("MESSAGE_TTL_MINUTES", file.MessageTTLMinutes, DefaultMessageTTLMinutes)),
		MaxMessageBytes:       max(1024, resolveInt("MAX_MESSAGE_BYTES", file.MaxMessageBytes, DefaultMaxMessageBytes)),

		LogLevel:       strings.ToLower(resolveString("LOG_LEVEL", file.LogLevel, DefaultLogLevel)),
		MetricsEnabled: resolveBool("METRICS_ENABLED", file.MetricsEnabled, true),
	}

	return cfg, nil
}

// MessageTTL returns the message lifetime as a duration.
func (c *Config) MessageTTL() time.Duration {
	return time.Duration(c.MessageTTLMinutes) * time.Minute
}

// IsMailboxBlacklisted reports whether the mailbox name is reserved.
func (c *Config) IsMailboxBlacklisted(mailbox string) bool {
	key := strings.ToLower(strings.TrimSpace(mailbox))
	_, ok := c.MailboxBlacklist[key]
	return ok
}

// IsSenderDomainBlocked reports whether the sender domain is on the deny list.
func (c *Config) IsSenderDomainBlocked(domain string) bool {
	key := strings.ToLower(strings.TrimSpace(domain))
	_, ok := c.BannedSenderDomains[key]
	return ok
}

// NormalizeListenAddr prepends 0.0.0.0 to addresses that only name a port,
// such as ":3000".
func NormalizeListenAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}
	return addr
}

// readFileConfig loads the first readable config file from the search list.
// A missing file is not an error; an unparsable one is.
func readFileConfig() (*fileConfig, error) {
	configPaths := []string{}
	if p := strings.TrimSpace(os.Getenv("CONFIG_FILE")); p != "" {
		configPaths = append(configPaths, p)
	}
	configPaths = append(configPaths,
		"./forsaken-mail.yml",
		"/etc/forsaken-mail/config.yml",
	)

	for _, path := range configPaths {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			continue
		}

		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		return &fc, nil
	}

	return &fileConfig{}, nil
}

// resolveString returns the trimmed environment value if non-empty, then the
// file value, then the fallback.
func resolveString(key, fileValue, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if fileValue != "" {
		return strings.TrimSpace(fileValue)
	}
	return fallback
}

// resolveInt returns the environment value when it parses as an integer, then
// the file value, then the fallback. Unparsable values fall through.
func resolveInt(key string, fileValue *int, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if fileValue != nil {
		return *fileValue
	}
	return fallback
}

// resolveBool returns the environment value when it parses as a bool, then
// the file value, then the fallback.
func resolveBool(key string, fileValue *bool, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	if fileValue != nil {
		return *fileValue
	}
	return fallback
}

// resolveList builds a lowercased set from a comma-separated environment
// value, the file list, or the fallback, in that order. A set-but-empty
// environment variable deliberately yields an empty set, overriding both the
// file and the default.
func resolveList(key string, fileValue *[]string, fallback []string) map[string]struct{} {
	if raw, ok := os.LookupEnv(key); ok {
		return listToSet(strings.Split(raw, ","))
	}
	if fileValue != nil {
		return listToSet(*fileValue)
	}
	return listToSet(fallback)
}

// listToSet lowercases and trims each item, dropping empties.
func listToSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		set[item] = struct{}{}
	}
	return set
}
