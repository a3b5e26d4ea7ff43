package rules

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/poa-ops/poactl/internal/document"
)

// RuleID names a validation rule. IDs appear verbatim in violation reports
// so operators can map a message back to the rule that produced it.
type RuleID string

const (
	RuleRequired          RuleID = "required"
	RuleRange             RuleID = "range"
	RuleEnum              RuleID = "enum"
	RuleNonDefault        RuleID = "non_default"
	RuleGroupCompleteness RuleID = "group_completeness"
	RuleUnique            RuleID = "unique"
	RuleFormat            RuleID = "format"
)

// Violation is one failed rule, addressed by the document field path that
// caused it.
type Violation struct {
	FieldPath string `json:"field_path"`
	Rule      RuleID `json:"rule"`
	Message   string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.FieldPath, v.Message, v.Rule)
}

// Rule is one entry of the catalog: a field path and a pure check over the
// whole document. Checks return every violation they find, never just the
// first.
type Rule struct {
	FieldPath   string
	Description string
	Check       func(doc *document.Document) []Violation
}

// Catalog returns the static rule table. Order matters: violations are
// reported in catalog order so repeated runs produce identical output.
func Catalog() []Rule {
	return []Rule{
		{
			FieldPath:   "system.port",
			Description: "listen port must be a valid TCP port",
			Check: func(doc *document.Document) []Violation {
				return checkPort("system.port", doc.System.Port)
			},
		},
		{
			FieldPath:   "system.log_level",
			Description: "log level must be one of DEBUG, INFO, WARN, ERROR",
			Check:       checkLogLevel,
		},
		{
			FieldPath:   "database.id",
			Description: "database admin identity is required",
			Check: func(doc *document.Document) []Violation {
				return checkRequired("database.id", doc.Database.ID)
			},
		},
		{
			FieldPath:   "database.password",
			Description: "database admin password is required",
			Check: func(doc *document.Document) []Violation {
				return checkRequired("database.password", doc.Database.Password)
			},
		},
		{
			FieldPath:   "database.port",
			Description: "database port must be a valid TCP port",
			Check: func(doc *document.Document) []Violation {
				return checkPort("database.port", doc.Database.Port)
			},
		},
		{
			FieldPath:   "security.password",
			Description: "operator password must be set and differ from the published default",
			Check:       checkOperatorPassword,
		},
		{
			FieldPath:   "security.whitelist",
			Description: "whitelist entries must be unique IP literals, at least one entry",
			Check:       checkWhitelist,
		},
		{
			FieldPath:   "discord.webhook_url",
			Description: "webhook URL must be https when set",
			Check:       checkDiscordWebhook,
		},
		{
			FieldPath:   "exchanges",
			Description: "enabled credential groups must be complete",
			Check:       checkExchanges,
		},
		{
			FieldPath:   "kis_accounts",
			Description: "KIS records must be fully populated, numbered 1-50, unique",
			Check:       checkKISAccounts,
		},
		{
			FieldPath:   "services.pm2",
			Description: "PM2 instance count and mode must be sane",
			Check:       checkPM2,
		},
		{
			FieldPath:   "services.monitoring",
			Description: "monitoring interval must be positive when enabled",
			Check:       checkMonitoring,
		},
		{
			FieldPath:   "logging.retention_days",
			Description: "log retention must be at least one day",
			Check: func(doc *document.Document) []Violation {
				if doc.Logging.RetentionDays < 1 {
					return []Violation{{
						FieldPath: "logging.retention_days",
						Rule:      RuleRange,
						Message:   fmt.Sprintf("retention must be at least 1 day, got %d", doc.Logging.RetentionDays),
					}}
				}
				return nil
			},
		},
		{
			FieldPath:   "backup.retention_count",
			Description: "backup retention must not be negative",
			Check: func(doc *document.Document) []Violation {
				if doc.Backup.RetentionCount < 0 {
					return []Violation{{
						FieldPath: "backup.retention_count",
						Rule:      RuleRange,
						Message:   fmt.Sprintf("retention count must not be negative, got %d", doc.Backup.RetentionCount),
					}}
				}
				return nil
			},
		},
		{
			FieldPath:   "backup.schedule",
			Description: "backup schedule must be a valid cron expression when set",
			Check:       checkBackupSchedule,
		},
	}
}

func checkRequired(path, value string) []Violation {
	if strings.TrimSpace(value) == "" {
		return []Violation{{FieldPath: path, Rule: RuleRequired, Message: "value is required"}}
	}
	return nil
}

func checkPort(path string, port int) []Violation {
	if port < 1 || port > 65535 {
		return []Violation{{
			FieldPath: path,
			Rule:      RuleRange,
			Message:   fmt.Sprintf("port must be within 1-65535, got %d", port),
		}}
	}
	return nil
}

var validLogLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}

func checkLogLevel(doc *document.Document) []Violation {
	level := strings.ToUpper(doc.System.LogLevel)
	if !validLogLevels[level] {
		return []Violation{{
			FieldPath: "system.log_level",
			Rule:      RuleEnum,
			Message:   fmt.Sprintf("log level %q is not one of DEBUG, INFO, WARN, ERROR", doc.System.LogLevel),
		}}
	}
	return nil
}

func checkOperatorPassword(doc *document.Document) []Violation {
	password := doc.Security.Password
	if strings.TrimSpace(password) == "" {
		return []Violation{{
			FieldPath: "security.password",
			Rule:      RuleRequired,
			Message:   "operator password is required",
		}}
	}
	if password == document.DefaultPassword {
		return []Violation{{
			FieldPath: "security.password",
			Rule:      RuleNonDefault,
			Message:   "operator password still matches the published default and must be changed",
		}}
	}
	return nil
}

func checkWhitelist(doc *document.Document) []Violation {
	var violations []Violation
	whitelist := doc.Security.Whitelist
	if len(whitelist) == 0 {
		violations = append(violations, Violation{
			FieldPath: "security.whitelist",
			Rule:      RuleRequired,
			Message:   "at least one whitelist IP is required",
		})
		return violations
	}
	seen := make(map[string]bool, len(whitelist))
	for i, entry := range whitelist {
		path := fmt.Sprintf("security.whitelist[%d]", i)
		if _, err := netip.ParseAddr(entry); err != nil {
			violations = append(violations, Violation{
				FieldPath: path,
				Rule:      RuleFormat,
				Message:   fmt.Sprintf("%q is not a valid IP address", entry),
			})
			continue
		}
		if seen[entry] {
			violations = append(violations, Violation{
				FieldPath: path,
				Rule:      RuleUnique,
				Message:   fmt.Sprintf("duplicate whitelist entry %q", entry),
			})
		}
		seen[entry] = true
	}
	return violations
}

func checkDiscordWebhook(doc *document.Document) []Violation {
	url := doc.Discord.WebhookURL
	if url == "" {
		return nil // empty means disabled
	}
	if !strings.HasPrefix(url, "https://") {
		return []Violation{{
			FieldPath: "discord.webhook_url",
			Rule:      RuleFormat,
			Message:   "webhook URL must start with https://",
		}}
	}
	return nil
}

func checkExchanges(doc *document.Document) []Violation {
	var violations []Violation
	var unknown []string
	for id := range doc.Exchanges {
		if !id.IsKnown() {
			unknown = append(unknown, string(id))
		}
	}
	sort.Strings(unknown)
	for _, id := range unknown {
		violations = append(violations, Violation{
			FieldPath: fmt.Sprintf("exchanges.%s", id),
			Rule:      RuleEnum,
			Message:   fmt.Sprintf("unknown exchange %q; supported: binance, upbit, bybit, bitget, okx", id),
		})
	}
	for _, id := range document.KnownExchanges {
		ex, ok := doc.Exchanges[id]
		if !ok || !ex.Enabled {
			continue
		}
		base := fmt.Sprintf("exchanges.%s", id)
		if strings.TrimSpace(ex.Key) == "" {
			violations = append(violations, Violation{
				FieldPath: base + ".key",
				Rule:      RuleGroupCompleteness,
				Message:   fmt.Sprintf("%s is enabled but the API key is empty", id),
			})
		}
		if strings.TrimSpace(ex.Secret) == "" {
			violations = append(violations, Violation{
				FieldPath: base + ".secret",
				Rule:      RuleGroupCompleteness,
				Message:   fmt.Sprintf("%s is enabled but the API secret is empty", id),
			})
		}
		if id.RequiresPassphrase() && strings.TrimSpace(ex.Passphrase) == "" {
			violations = append(violations, Violation{
				FieldPath: base + ".passphrase",
				Rule:      RuleGroupCompleteness,
				Message:   fmt.Sprintf("%s requires a passphrase", id),
			})
		}
	}
	return violations
}

func checkKISAccounts(doc *document.Document) []Violation {
	var violations []Violation
	seen := make(map[int]bool, len(doc.KISAccounts))
	for i, account := range doc.KISAccounts {
		base := fmt.Sprintf("kis_accounts[%d]", i)
		if account.Number < document.KISNumberMin || account.Number > document.KISNumberMax {
			violations = append(violations, Violation{
				FieldPath: base + ".number",
				Rule:      RuleRange,
				Message: fmt.Sprintf("KIS account number %d is outside the valid range %d-%d",
					account.Number, document.KISNumberMin, document.KISNumberMax),
			})
		} else if seen[account.Number] {
			violations = append(violations, Violation{
				FieldPath: base + ".number",
				Rule:      RuleUnique,
				Message:   fmt.Sprintf("KIS account number %d appears more than once", account.Number),
			})
		} else {
			seen[account.Number] = true
		}

		for _, field := range []struct {
			name  string
			value string
		}{
			{"key", account.Key},
			{"secret", account.Secret},
			{"account_number", account.AccountNumber},
			{"account_code", account.AccountCode},
		} {
			if strings.TrimSpace(field.value) == "" {
				violations = append(violations, Violation{
					FieldPath: fmt.Sprintf("%s.%s", base, field.name),
					Rule:      RuleGroupCompleteness,
					Message:   fmt.Sprintf("KIS%d record is missing %s", account.Number, field.name),
				})
			}
		}
	}
	return violations
}

func checkPM2(doc *document.Document) []Violation {
	var violations []Violation
	if doc.Services.PM2.Instances < 1 {
		violations = append(violations, Violation{
			FieldPath: "services.pm2.instances",
			Rule:      RuleRange,
			Message:   fmt.Sprintf("instance count must be at least 1, got %d", doc.Services.PM2.Instances),
		})
	}
	if mode := doc.Services.PM2.Mode; mode != "fork" && mode != "cluster" {
		violations = append(violations, Violation{
			FieldPath: "services.pm2.mode",
			Rule:      RuleEnum,
			Message:   fmt.Sprintf("mode %q is not one of fork, cluster", mode),
		})
	}
	return violations
}

func checkMonitoring(doc *document.Document) []Violation {
	if doc.Services.Monitoring.Enabled && doc.Services.Monitoring.IntervalSeconds < 1 {
		return []Violation{{
			FieldPath: "services.monitoring.interval_seconds",
			Rule:      RuleRange,
			Message:   fmt.Sprintf("interval must be positive when monitoring is enabled, got %d", doc.Services.Monitoring.IntervalSeconds),
		}}
	}
	return nil
}

func checkBackupSchedule(doc *document.Document) []Violation {
	schedule := doc.Backup.Schedule
	if schedule == "" {
		return nil // scheduled backups disabled
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return []Violation{{
			FieldPath: "backup.schedule",
			Rule:      RuleFormat,
			Message:   fmt.Sprintf("%q is not a valid cron expression: %v", schedule, err),
		}}
	}
	return nil
}
