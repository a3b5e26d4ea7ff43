package status

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/poa-ops/poactl/internal/backup"
	"github.com/poa-ops/poactl/internal/document"
)

func newReporterFixture(t *testing.T, mutate func(*document.Document)) *Reporter {
	t.Helper()
	dir := t.TempDir()
	docPath := filepath.Join(dir, "poa_config.yaml")

	store := document.NewStore(docPath)
	doc := document.Default()
	doc.Security.Password = "operator-secret"
	if mutate != nil {
		mutate(doc)
	}
	require.NoError(t, store.Save(doc))

	backups := backup.NewManager(filepath.Join(dir, "backups"), zap.NewNop())
	return NewReporter(docPath, filepath.Join(dir, ".env"), filepath.Join(dir, "last_apply.json"), backups, nil)
}

func TestCollect(t *testing.T) {
	reporter := newReporterFixture(t, func(doc *document.Document) {
		doc.Exchanges[document.ExchangeUpbit] = document.ExchangeSection{
			Enabled: true, Key: "k", Secret: "s",
		}
		doc.KISAccounts = []document.KISAccount{
			{Number: 2, Key: "k", Secret: "s", AccountNumber: "n", AccountCode: "c"},
		}
	})

	report, err := reporter.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "POA", report.System.AppName)
	assert.True(t, report.Valid)
	assert.Equal(t, []string{"upbit"}, report.Exchanges)
	assert.Equal(t, []int{2}, report.KISNumbers)
	assert.Equal(t, 1, report.WhitelistSize)
	assert.False(t, report.DiscordSet)
	assert.Zero(t, report.EnvKeys, "no apply has run yet")
	assert.Nil(t, report.LastApply)
}

func TestCollect_InvalidDocumentStillReports(t *testing.T) {
	reporter := newReporterFixture(t, func(doc *document.Document) {
		doc.Security.Password = document.DefaultPassword
	})

	report, err := reporter.Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 1, report.Violations)
}

func TestCollect_MissingDocument(t *testing.T) {
	reporter := NewReporter(filepath.Join(t.TempDir(), "absent.yaml"), "", "", backup.NewManager(t.TempDir(), zap.NewNop()), nil)
	_, err := reporter.Collect(context.Background())
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	reporter := newReporterFixture(t, nil)
	report, err := reporter.Collect(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	reporter.Render(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "POA CONFIGURATION STATUS")
	assert.Contains(t, out, "Enabled exchanges")
	assert.NotContains(t, out, "operator-secret")
}
