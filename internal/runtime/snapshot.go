package runtime

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/poa-ops/poactl/internal/document"
	poaerrors "github.com/poa-ops/poactl/internal/errors"
)

// Snapshot is the flat key-value materialization of a valid document, plus
// provenance. It is disposable: it can always be regenerated from the
// document that produced it.
type Snapshot struct {
	Vars        map[string]string
	SourceHash  string
	GeneratedAt time.Time
}

// Render serializes the snapshot in env-file form. godotenv sorts keys, so
// rendering the same snapshot twice yields byte-identical output.
func (s *Snapshot) Render() (string, error) {
	content, err := godotenv.Marshal(s.Vars)
	if err != nil {
		return "", poaerrors.NewIOError("runtime", "render", err)
	}
	return content + "\n", nil
}

// Write atomically persists the snapshot to the env file path the trading
// process reads at startup.
func (s *Snapshot) Write(path string) error {
	content, err := s.Render()
	if err != nil {
		return err
	}
	if err := document.AtomicWriteFile(path, []byte(content), 0o600); err != nil {
		return poaerrors.NewIOError("runtime", "write", err)
	}
	return nil
}

// ReadEnvFile parses an existing env file into a key-value map. Used by the
// status reporter and by rollback verification; a missing file yields an
// empty map rather than an error.
func ReadEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, poaerrors.NewIOError("runtime", "read", err)
	}
	return vars, nil
}
