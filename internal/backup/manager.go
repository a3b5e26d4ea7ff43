package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/poa-ops/poactl/internal/document"
	poaerrors "github.com/poa-ops/poactl/internal/errors"
)

const (
	idFormat     = "20060102_150405"
	docSuffix    = ".yaml"
	envSuffix    = ".env"
	backupPrefix = "config."
)

// Meta describes one stored backup, newest first in listings.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Hash      string    `json:"hash"`
	SizeBytes int64     `json:"size_bytes"`
	HasEnv    bool      `json:"has_env"`
}

// Manager stores immutable, timestamped copies of the document and the env
// file in a flat directory. Backups are append-only: nothing ever rewrites
// one after creation, and only Prune or the operator deletes them.
type Manager struct {
	dir    string
	logger *zap.Logger
}

// NewManager creates a manager rooted at dir.
func NewManager(dir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dir: dir, logger: logger}
}

// Dir returns the backup directory path.
func (m *Manager) Dir() string {
	return m.dir
}

// Snapshot durably stores the document and, when envPath names an existing
// file, the current runtime representation next to it. The env copy is what
// makes rollback exact: restoring it reproduces the pre-apply runtime state
// byte for byte instead of re-deriving it.
func (m *Manager) Snapshot(doc *document.Document, envPath string) (Meta, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return Meta{}, poaerrors.NewIOError("backup", "snapshot", err)
	}

	data, err := doc.Marshal()
	if err != nil {
		return Meta{}, poaerrors.NewIOError("backup", "snapshot", err)
	}

	id := m.nextID(time.Now().UTC())
	docPath := m.docPath(id)
	if err := writeDurable(docPath, data, 0o600); err != nil {
		return Meta{}, poaerrors.NewIOError("backup", "snapshot", err)
	}

	meta := Meta{
		ID:        id,
		CreatedAt: mustParseID(id),
		Hash:      hashBytes(data),
		SizeBytes: int64(len(data)),
	}

	if envPath != "" {
		envData, err := os.ReadFile(envPath)
		switch {
		case os.IsNotExist(err):
			// first apply; there is no runtime representation to preserve
		case err != nil:
			return Meta{}, poaerrors.NewIOError("backup", "snapshot", err)
		default:
			if err := writeDurable(m.envPath(id), envData, 0o600); err != nil {
				return Meta{}, poaerrors.NewIOError("backup", "snapshot", err)
			}
			meta.HasEnv = true
		}
	}

	m.logger.Info("backup created",
		zap.String("id", meta.ID),
		zap.String("hash", meta.Hash),
		zap.Bool("has_env", meta.HasEnv))
	return meta, nil
}

// List returns metadata for every stored backup, newest first.
func (m *Manager) List() ([]Meta, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, poaerrors.NewIOError("backup", "list", err)
	}

	var metas []Meta
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, docSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), docSuffix)
		createdAt, err := parseID(id)
		if err != nil {
			continue // not one of ours
		}
		info, err := entry.Info()
		if err != nil {
			return nil, poaerrors.NewIOError("backup", "list", err)
		}
		data, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return nil, poaerrors.NewIOError("backup", "list", err)
		}
		_, envErr := os.Stat(m.envPath(id))
		metas = append(metas, Meta{
			ID:        id,
			CreatedAt: createdAt,
			Hash:      hashBytes(data),
			SizeBytes: info.Size(),
			HasEnv:    envErr == nil,
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].ID > metas[j].ID
	})
	return metas, nil
}

// Restore loads the document stored under id.
func (m *Manager) Restore(id string) (*document.Document, error) {
	data, err := os.ReadFile(m.docPath(id))
	if os.IsNotExist(err) {
		return nil, poaerrors.NewNotFoundError("backup", "restore", fmt.Sprintf("backup %s does not exist", id))
	}
	if err != nil {
		return nil, poaerrors.NewIOError("backup", "restore", err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, poaerrors.NewParseError("backup", err)
	}
	return doc, nil
}

// RestoreEnv returns the env file bytes stored under id, or NotFoundError if
// the backup has no env copy.
func (m *Manager) RestoreEnv(id string) ([]byte, error) {
	data, err := os.ReadFile(m.envPath(id))
	if os.IsNotExist(err) {
		return nil, poaerrors.NewNotFoundError("backup", "restore", fmt.Sprintf("backup %s has no env copy", id))
	}
	if err != nil {
		return nil, poaerrors.NewIOError("backup", "restore", err)
	}
	return data, nil
}

// Prune deletes the oldest backups beyond retentionCount. The most recent
// backup survives even a retention count of zero.
func (m *Manager) Prune(retentionCount int) (int, error) {
	metas, err := m.List()
	if err != nil {
		return 0, err
	}
	keep := retentionCount
	if keep < 1 {
		keep = 1
	}
	if len(metas) <= keep {
		return 0, nil
	}

	removed := 0
	for _, meta := range metas[keep:] {
		if err := os.Remove(m.docPath(meta.ID)); err != nil {
			return removed, poaerrors.NewIOError("backup", "prune", err)
		}
		if meta.HasEnv {
			if err := os.Remove(m.envPath(meta.ID)); err != nil {
				return removed, poaerrors.NewIOError("backup", "prune", err)
			}
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("backups pruned", zap.Int("removed", removed), zap.Int("kept", keep))
	}
	return removed, nil
}

func (m *Manager) docPath(id string) string {
	return filepath.Join(m.dir, backupPrefix+id+docSuffix)
}

func (m *Manager) envPath(id string) string {
	return filepath.Join(m.dir, backupPrefix+id+envSuffix)
}

// nextID produces a timestamp-ordered identifier, bumping by a second when
// two backups land inside the same one.
func (m *Manager) nextID(now time.Time) string {
	id := now.Format(idFormat)
	for {
		if _, err := os.Stat(m.docPath(id)); os.IsNotExist(err) {
			return id
		}
		now = now.Add(time.Second)
		id = now.Format(idFormat)
	}
}

func parseID(id string) (time.Time, error) {
	return time.Parse(idFormat, id)
}

func mustParseID(id string) time.Time {
	t, _ := parseID(id)
	return t
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeDurable writes the file and fsyncs it; a backup must be durably
// stored before the orchestrator attempts any destructive write.
func writeDurable(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
