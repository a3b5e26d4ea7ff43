package runtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/poa-ops/poactl/internal/document"
	poaerrors "github.com/poa-ops/poactl/internal/errors"
	"github.com/poa-ops/poactl/internal/rules"
)

// Translator maps valid documents into runtime snapshots. The key names it
// emits are a compatibility surface: the trading process reads them
// literally, so they must match the original deployment exactly.
type Translator struct {
	validator *rules.Validator
}

// NewTranslator creates a translator that re-checks its precondition.
func NewTranslator() *Translator {
	return &Translator{validator: rules.NewValidator()}
}

// Translate produces the snapshot for a valid document. Calling it with an
// invalid document is a programming error in the pipeline and yields a
// PreconditionError rather than partial output.
func (t *Translator) Translate(doc *document.Document) (*Snapshot, error) {
	if result := t.validator.Validate(doc); !result.Valid() {
		return nil, poaerrors.NewPreconditionError("translator", "translate",
			fmt.Sprintf("document has %d unresolved violations", len(result.Violations)))
	}

	vars := make(map[string]string)
	setNonEmpty := func(key, value string) {
		if value != "" {
			vars[key] = value
		}
	}

	// system
	setNonEmpty("APP_NAME", doc.System.AppName)
	vars["PORT"] = strconv.Itoa(doc.System.Port)
	setNonEmpty("LOG_LEVEL", strings.ToUpper(doc.System.LogLevel))
	setNonEmpty("TZ", doc.System.Timezone)

	// database
	setNonEmpty("DB_ID", doc.Database.ID)
	setNonEmpty("DB_PASSWORD", doc.Database.Password)
	vars["DB_PORT"] = strconv.Itoa(doc.Database.Port)

	// security; the whitelist is a JSON array string because that is the
	// wire format the consuming process parses, and JSON keeps insertion
	// order, which matters for proxy precedence
	setNonEmpty("PASSWORD", doc.Security.Password)
	whitelist, err := json.Marshal(doc.Security.Whitelist)
	if err != nil {
		return nil, poaerrors.NewIOError("translator", "translate", err)
	}
	vars["WHITELIST"] = string(whitelist)

	// discord; empty means disabled and emits nothing
	setNonEmpty("DISCORD_WEBHOOK_URL", doc.Discord.WebhookURL)

	// exchanges; disabled credential groups emit no keys at all, so stale
	// credentials from a previously enabled exchange can never leak into
	// the new runtime representation
	for _, id := range document.KnownExchanges {
		ex, ok := doc.Exchanges[id]
		if !ok || !ex.Enabled {
			continue
		}
		prefix := strings.ToUpper(string(id))
		vars[prefix+"_KEY"] = ex.Key
		vars[prefix+"_SECRET"] = ex.Secret
		if id.RequiresPassphrase() {
			vars[prefix+"_PASSPHRASE"] = ex.Passphrase
		}
	}

	// KIS sub-accounts, keyed by the literal account number
	for _, account := range doc.KISAccounts {
		prefix := fmt.Sprintf("KIS%d", account.Number)
		vars[prefix+"_KEY"] = account.Key
		vars[prefix+"_SECRET"] = account.Secret
		vars[prefix+"_ACCOUNT_NUMBER"] = account.AccountNumber
		vars[prefix+"_ACCOUNT_CODE"] = account.AccountCode
	}

	// services
	setNonEmpty("DOMAIN", doc.Services.Caddy.Domain)

	hash, err := doc.Hash()
	if err != nil {
		return nil, poaerrors.NewIOError("translator", "translate", err)
	}
	return &Snapshot{
		Vars:        vars,
		SourceHash:  hash,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
