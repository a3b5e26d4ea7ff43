package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/poa-ops/poactl/internal/apply"
	"github.com/poa-ops/poactl/internal/backup"
	"github.com/poa-ops/poactl/internal/document"
	poaerrors "github.com/poa-ops/poactl/internal/errors"
	"github.com/poa-ops/poactl/internal/rules"
	"github.com/poa-ops/poactl/internal/runtime"
	"github.com/poa-ops/poactl/internal/supervisor"
)

// Report is the read-only view of the system: document summary without
// secrets, last apply outcome and live service health.
type Report struct {
	System        document.SystemSection `json:"system"`
	Valid         bool                   `json:"valid"`
	Violations    int                    `json:"violations"`
	Exchanges     []string               `json:"enabled_exchanges"`
	KISNumbers    []int                  `json:"kis_numbers"`
	WhitelistSize int                    `json:"whitelist_size"`
	DiscordSet    bool                   `json:"discord_configured"`
	EnvKeys       int                    `json:"env_keys"`
	Backups       []backup.Meta          `json:"backups"`
	LastApply     *apply.Result          `json:"last_apply,omitempty"`
	Services      map[string]bool        `json:"services"`
}

// Reporter renders system state without mutating anything. It reads the
// document directly off disk instead of going through the store, so status
// never contends with a running apply.
type Reporter struct {
	docPath    string
	envPath    string
	recordPath string
	backups    *backup.Manager
	restarts   *supervisor.Stack
	validator  *rules.Validator
}

// NewReporter creates a reporter over the fixed persisted layout.
func NewReporter(docPath, envPath, recordPath string, backups *backup.Manager, restarts *supervisor.Stack) *Reporter {
	return &Reporter{
		docPath:    docPath,
		envPath:    envPath,
		recordPath: recordPath,
		backups:    backups,
		restarts:   restarts,
		validator:  rules.NewValidator(),
	}
}

// Collect gathers the report. It fails only when the document itself is
// unreadable; everything else degrades to empty sections.
func (r *Reporter) Collect(ctx context.Context) (*Report, error) {
	data, err := os.ReadFile(r.docPath)
	if err != nil {
		return nil, poaerrors.NewIOError("status", "collect", err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, poaerrors.NewParseError("status", err)
	}

	validation := r.validator.Validate(doc)

	report := &Report{
		System:        doc.System,
		Valid:         validation.Valid(),
		Violations:    len(validation.Violations),
		WhitelistSize: len(doc.Security.Whitelist),
		DiscordSet:    doc.Discord.WebhookURL != "",
	}
	for _, id := range doc.EnabledExchanges() {
		report.Exchanges = append(report.Exchanges, string(id))
	}
	for _, account := range doc.KISAccounts {
		report.KISNumbers = append(report.KISNumbers, account.Number)
	}

	if vars, err := runtime.ReadEnvFile(r.envPath); err == nil {
		report.EnvKeys = len(vars)
	}
	if metas, err := r.backups.List(); err == nil {
		report.Backups = metas
	}
	if last, err := apply.LoadLastResult(r.recordPath); err == nil {
		report.LastApply = last
	}
	if r.restarts != nil {
		report.Services = r.restarts.Health(ctx)
	}
	return report, nil
}

// Render writes the human-readable status tables.
func (r *Reporter) Render(w io.Writer, report *Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("POA CONFIGURATION STATUS")
	t.SetStyle(table.StyleRounded)

	valid := "valid"
	if !report.Valid {
		valid = fmt.Sprintf("%d violations", report.Violations)
	}
	exchanges := strings.Join(report.Exchanges, ", ")
	if exchanges == "" {
		exchanges = "none"
	}
	t.AppendRows([]table.Row{
		{"App", report.System.AppName},
		{"Port", report.System.Port},
		{"Log level", report.System.LogLevel},
		{"Timezone", report.System.Timezone},
		{"Document", valid},
		{"Enabled exchanges", exchanges},
		{"KIS accounts", formatKISNumbers(report.KISNumbers)},
		{"Whitelist IPs", report.WhitelistSize},
		{"Discord alerts", onOff(report.DiscordSet)},
		{"Runtime env keys", report.EnvKeys},
		{"Backups", len(report.Backups)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, Align: text.AlignLeft},
	})
	t.Render()

	if report.LastApply != nil {
		la := table.NewWriter()
		la.SetOutputMirror(w)
		la.SetTitle("LAST APPLY")
		la.SetStyle(table.StyleRounded)
		outcome := string(report.LastApply.Stage)
		if report.LastApply.FailedStage != "" {
			outcome = fmt.Sprintf("%s (failed at %s)", report.LastApply.Stage, report.LastApply.FailedStage)
		}
		la.AppendRows([]table.Row{
			{"Outcome", outcome},
			{"Finished", report.LastApply.FinishedAt.Format(time.RFC3339)},
			{"Backup", report.LastApply.BackupID},
			{"Snapshot hash", shortHash(report.LastApply.SnapshotHash)},
		})
		if report.LastApply.RolledBack {
			la.AppendRow(table.Row{"Rolled back", "yes"})
		}
		if report.LastApply.RollbackFailed {
			la.AppendRow(table.Row{"Rollback", "FAILED, manual intervention required"})
		}
		la.Render()
	}

	if len(report.Services) > 0 {
		sv := table.NewWriter()
		sv.SetOutputMirror(w)
		sv.SetTitle("SERVICES")
		sv.SetStyle(table.StyleRounded)
		for _, name := range sortedKeys(report.Services) {
			state := "down"
			if report.Services[name] {
				state = "running"
			}
			sv.AppendRow(table.Row{name, state})
		}
		sv.Render()
	}
}

func formatKISNumbers(numbers []int) string {
	if len(numbers) == 0 {
		return "none"
	}
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = fmt.Sprintf("KIS%d", n)
	}
	return strings.Join(parts, ", ")
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
