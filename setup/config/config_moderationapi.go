package config

import (
	"net/mail"
	"os"
	"sync"
	"time"
)

type ModerationAPI struct {
	Global *Global `yaml:"-"`

	// The ModerationAPI database stores the pending-change queue, the
	// audit log and the author block list. It is only accessed by the
	// ModerationAPI.
	Database DatabaseOptions `yaml:"database,omitempty"`

	// How long after rejection a change can still be re-approved by a
	// reviewer, in hours. Outside this window rejected changes are
	// terminal. The boundary is inclusive: a change rejected exactly
	// this long ago can still be approved.
	RejectedGraceHours int64 `yaml:"rejected_grace_hours"`

	// Notification emails sent to reviewers when new changes are queued.
	Notifications Notifications `yaml:"notifications"`

	// Rate limiting applied to the change submission endpoints.
	RateLimiting RateLimiting `yaml:"rate_limiting"`

	// The base URL of the platform's internal content API, used to
	// replay approved changes through the normal save path. When empty
	// the service runs queue-only: approvals fail until it is set.
	PlatformURL string `yaml:"platform_url"`
}

// DefaultRejectedGraceHours mirrors a two week re-approval window.
const DefaultRejectedGraceHours = 14 * 24

// RejectedGrace is the re-approval window as a duration.
func (c *ModerationAPI) RejectedGrace() time.Duration {
	return time.Duration(c.RejectedGraceHours) * time.Hour
}

func (c *ModerationAPI) Defaults() {
	if c.RejectedGraceHours == 0 {
		c.RejectedGraceHours = DefaultRejectedGraceHours
	}
	c.Notifications.Defaults()
	c.RateLimiting.Defaults()
}

func (c *ModerationAPI) Verify(configErrs *ConfigErrors) {
	if c.Global.DatabaseOptions.ConnectionString == "" {
		checkNotEmpty(configErrs, "moderation_api.database.connection_string", string(c.Database.ConnectionString))
	}
	checkPositive(configErrs, "moderation_api.rejected_grace_hours", c.RejectedGraceHours)
	c.Notifications.Verify(configErrs)
	c.RateLimiting.Verify(configErrs)
}

type Notifications struct {
	Enabled bool     `yaml:"enabled"`
	From    string   `yaml:"from"`
	To      []string `yaml:"to"`
	Subject string   `yaml:"subject"`
	SMTP    SMTP     `yaml:"smtp"`
}

func (n *Notifications) Defaults() {
	if n.Subject == "" {
		n.Subject = "New changes are awaiting moderation"
	}
	n.SMTP.Defaults()
}

func (n *Notifications) Verify(configErrs *ConfigErrors) {
	if !n.Enabled {
		return
	}
	if n.From == "" {
		configErrs.Add("moderation_api.notifications.from must be set when notifications are enabled")
	}
	if n.From != "" {
		if _, err := mail.ParseAddress(n.From); err != nil {
			configErrs.Add("moderation_api.notifications.from must be a valid email address")
		}
	}
	if len(n.To) == 0 {
		configErrs.Add("moderation_api.notifications.to must list at least one recipient")
	}
	for _, to := range n.To {
		if _, err := mail.ParseAddress(to); err != nil {
			configErrs.Add("moderation_api.notifications.to must contain valid email addresses")
		}
	}
	if containsHeaderInjection(n.Subject) {
		configErrs.Add("moderation_api.notifications.subject must not contain control characters")
	}
	if n.SMTP.Host == "" {
		configErrs.Add("moderation_api.notifications.smtp.host must be set when notifications are enabled")
	}
	if n.SMTP.Port <= 0 {
		configErrs.Add("moderation_api.notifications.smtp.port must be set to a positive value when notifications are enabled")
	}
	if n.SMTP.Username != "" && n.SMTP.GetPassword() == "" {
		configErrs.Add("moderation_api.notifications.smtp.username set but MARGINALIA_SMTP_PASSWORD is empty")
	}
}

type RateLimiting struct {
	// Is rate limiting enabled or disabled?
	Enabled bool `yaml:"enabled"`

	// How many "slots" a client can occupy sending requests to a
	// rate-limited endpoint before we apply rate-limiting
	Threshold int64 `yaml:"threshold"`

	// The cooloff period in milliseconds after a request before the
	// "slot" is freed again
	CooloffMS int64 `yaml:"cooloff_ms"`

	// A list of IP addresses or CIDR ranges that bypass rate limiting.
	ExemptIPAddresses []string `yaml:"exempt_ip_addresses"`
}

func (r *RateLimiting) Defaults() {
	r.Enabled = false
	r.Threshold = 5
	r.CooloffMS = 500
}

func (r *RateLimiting) Verify(configErrs *ConfigErrors) {
	if r.Enabled {
		if r.Threshold <= 0 || r.CooloffMS <= 0 {
			configErrs.Add(
				"moderation_api.rate_limiting: both 'threshold' and 'cooloff_ms' must be positive when rate limiting is enabled. " +
					"Set 'enabled: false' to disable rate limiting, or provide valid positive values for both parameters.",
			)
		}
	}
}

type SMTP struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	RequireTLS    bool   `yaml:"require_tls"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`
	passwordOnce  sync.Once
	password      string
}

func (s *SMTP) Defaults() {
	if s.Port == 0 {
		s.Port = 587
	}
	// Opportunistic TLS only when explicitly configured.
	s.RequireTLS = true
}

func (s *SMTP) GetPassword() string {
	s.passwordOnce.Do(func() {
		s.password = os.Getenv("MARGINALIA_SMTP_PASSWORD")
	})
	return s.password
}
