package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// ExchangeID identifies one of the supported crypto exchanges. The set is
// closed: the trading process only understands credentials for these five.
type ExchangeID string

const (
	ExchangeBinance ExchangeID = "binance"
	ExchangeUpbit   ExchangeID = "upbit"
	ExchangeBybit   ExchangeID = "bybit"
	ExchangeBitget  ExchangeID = "bitget"
	ExchangeOKX     ExchangeID = "okx"
)

// KnownExchanges lists every supported exchange in canonical order. The order
// is load-bearing: the translator walks it so output generation is
// deterministic regardless of map iteration.
var KnownExchanges = []ExchangeID{
	ExchangeBinance,
	ExchangeUpbit,
	ExchangeBybit,
	ExchangeBitget,
	ExchangeOKX,
}

// IsKnown reports whether the identifier belongs to the supported set.
func (e ExchangeID) IsKnown() bool {
	for _, known := range KnownExchanges {
		if e == known {
			return true
		}
	}
	return false
}

// RequiresPassphrase reports whether the exchange API needs a passphrase in
// addition to key and secret.
func (e ExchangeID) RequiresPassphrase() bool {
	return e == ExchangeBitget || e == ExchangeOKX
}

// DefaultPassword is the operator password the install templates ship with.
// Validation rejects documents that still carry it.
const DefaultPassword = "poabot!@#$"

// DefaultDBID is the database admin identity the install templates ship with.
const DefaultDBID = "poa@admin.com"

// KISNumberMin and KISNumberMax bound valid KIS sub-account numbers.
const (
	KISNumberMin = 1
	KISNumberMax = 50
)

// Document is the single source of truth for the trading service
// configuration. It is created once from the template and mutated only
// through the edit/apply cycle.
type Document struct {
	System      SystemSection                  `yaml:"system"`
	Database    DatabaseSection                `yaml:"database"`
	Security    SecuritySection                `yaml:"security"`
	Discord     DiscordSection                 `yaml:"discord"`
	Exchanges   map[ExchangeID]ExchangeSection `yaml:"exchanges"`
	KISAccounts []KISAccount                   `yaml:"kis_accounts"`
	Services    ServicesSection                `yaml:"services"`
	Logging     LoggingSection                 `yaml:"logging"`
	Backup      BackupSection                  `yaml:"backup"`
}

// SystemSection holds the base service settings.
type SystemSection struct {
	AppName  string `yaml:"app_name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	Timezone string `yaml:"timezone"`
}

// DatabaseSection holds the admin identity for the bundled database.
type DatabaseSection struct {
	ID       string `yaml:"id"`
	Password string `yaml:"password"`
	Port     int    `yaml:"port"`
}

// SecuritySection holds the operator password and the webhook IP whitelist.
// Whitelist order is preserved through translation because the reverse proxy
// applies entries in precedence order.
type SecuritySection struct {
	Password  string   `yaml:"password"`
	Whitelist []string `yaml:"whitelist"`
}

// DiscordSection configures alerting. An empty webhook URL disables it.
type DiscordSection struct {
	WebhookURL string `yaml:"webhook_url"`
}

// ExchangeSection is one exchange credential group. When Enabled is true the
// key and secret must be present; bitget and okx additionally need the
// passphrase.
type ExchangeSection struct {
	Enabled    bool   `yaml:"enabled"`
	Key        string `yaml:"key"`
	Secret     string `yaml:"secret"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

// KISAccount is a numbered Korea Investment & Securities sub-account record.
type KISAccount struct {
	Number        int    `yaml:"number"`
	Key           string `yaml:"key"`
	Secret        string `yaml:"secret"`
	AccountNumber string `yaml:"account_number"`
	AccountCode   string `yaml:"account_code"`
}

// ServicesSection configures the collaborating host services.
type ServicesSection struct {
	PM2        PM2Settings        `yaml:"pm2"`
	Caddy      CaddySettings      `yaml:"caddy"`
	Monitoring MonitoringSettings `yaml:"monitoring"`
}

// PM2Settings controls the process manager running the trading service.
type PM2Settings struct {
	Instances int    `yaml:"instances"`
	Mode      string `yaml:"mode"`
}

// CaddySettings configures the reverse proxy in front of the service.
type CaddySettings struct {
	Domain string `yaml:"domain"`
}

// MonitoringSettings toggles host monitoring.
type MonitoringSettings struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// LoggingSection holds log retention settings.
type LoggingSection struct {
	RetentionDays int `yaml:"retention_days"`
	MaxSizeMB     int `yaml:"max_size_mb"`
}

// BackupSection holds backup retention and scheduling settings. Schedule is
// a standard cron expression; empty disables scheduled backups.
type BackupSection struct {
	RetentionCount int    `yaml:"retention_count"`
	Schedule       string `yaml:"schedule"`
}

// Default returns the first-boot template document. It intentionally carries
// the published default credentials so that validation forces the operator to
// change them before the first apply.
func Default() *Document {
	return &Document{
		System: SystemSection{
			AppName:  "POA",
			Port:     80,
			LogLevel: "INFO",
			Timezone: "Asia/Seoul",
		},
		Database: DatabaseSection{
			ID:       DefaultDBID,
			Password: DefaultPassword,
			Port:     8090,
		},
		Security: SecuritySection{
			Password:  DefaultPassword,
			Whitelist: []string{"127.0.0.1"},
		},
		Exchanges: map[ExchangeID]ExchangeSection{
			ExchangeBinance: {},
			ExchangeUpbit:   {},
			ExchangeBybit:   {},
			ExchangeBitget:  {},
			ExchangeOKX:     {},
		},
		Services: ServicesSection{
			PM2:        PM2Settings{Instances: 1, Mode: "fork"},
			Monitoring: MonitoringSettings{Enabled: true, IntervalSeconds: 60},
		},
		Logging: LoggingSection{RetentionDays: 30, MaxSizeMB: 100},
		Backup:  BackupSection{RetentionCount: 10},
	}
}

// Marshal serializes the document to its canonical YAML form.
func (d *Document) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return data, nil
}

// Parse decodes a document from YAML bytes. Unknown fields are rejected so a
// typoed section name surfaces as a parse error instead of silently dropping
// configuration.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &doc, nil
}

// Hash returns the SHA-256 of the canonical YAML form, used as snapshot
// provenance.
func (d *Document) Hash() (string, error) {
	data, err := d.Marshal()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// UpsertKISAccount inserts the record, replacing any existing record with the
// same number. The sequence stays sorted by number.
func (d *Document) UpsertKISAccount(account KISAccount) {
	for i, existing := range d.KISAccounts {
		if existing.Number == account.Number {
			d.KISAccounts[i] = account
			return
		}
	}
	d.KISAccounts = append(d.KISAccounts, account)
	sort.Slice(d.KISAccounts, func(i, j int) bool {
		return d.KISAccounts[i].Number < d.KISAccounts[j].Number
	})
}

// RemoveKISAccount deletes the record with the given number. It reports
// whether a record was removed.
func (d *Document) RemoveKISAccount(number int) bool {
	for i, existing := range d.KISAccounts {
		if existing.Number == number {
			d.KISAccounts = append(d.KISAccounts[:i], d.KISAccounts[i+1:]...)
			return true
		}
	}
	return false
}

// EnabledExchanges returns the enabled exchange identifiers in canonical
// order.
func (d *Document) EnabledExchanges() []ExchangeID {
	var enabled []ExchangeID
	for _, id := range KnownExchanges {
		if ex, ok := d.Exchanges[id]; ok && ex.Enabled {
			enabled = append(enabled, id)
		}
	}
	return enabled
}
