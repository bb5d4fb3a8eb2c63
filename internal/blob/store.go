package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/common"
)

// Object describes a stored file.
type Object struct {
	Key          string
	Size         int64
	HashHex      string
	Deduplicated bool
}

// Store keeps uploaded files addressed by content hash.
type Store interface {
	Put(ctx context.Context, prefix, name string, data []byte) (Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// LocalStore writes objects below a root directory.
type LocalStore struct {
	root   string
	logger *slog.Logger
}

func NewLocalStore(root string, logger *slog.Logger) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalStore{root: abs, logger: logger}, nil
}

// CasePrefix is where a case upload for orgID is stored.
func CasePrefix(orgID string) string {
	return path.Join("cases", orgID)
}

// HistoryPrefix is where historical orders for orgID are stored.
func HistoryPrefix(orgID string) string {
	return path.Join("history", orgID)
}

// Key is the key Put stores data under: prefix/<sha256>.<ext>.
func Key(prefix, name string, data []byte) string {
	key, _ := contentKey(prefix, name, data)
	return key
}

func contentKey(prefix, name string, data []byte) (key, hexSum string) {
	sum := sha256.Sum256(data)
	hexSum = hex.EncodeToString(sum[:])
	ext := constants.NormalizeExt(filepath.Ext(name))
	if ext == "" {
		ext = "bin"
	}
	return path.Join(prefix, hexSum+"."+ext), hexSum
}

// Put stores data as prefix/<sha256>.<ext>. Identical content maps to the same key.
func (s *LocalStore) Put(ctx context.Context, prefix, name string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	key, hexSum := contentKey(prefix, name, data)
	obj := Object{Key: key, Size: int64(len(data)), HashHex: hexSum}

	dst, err := s.resolve(key)
	if err != nil {
		return Object{}, err
	}
	if _, err := os.Stat(dst); err == nil {
		obj.Deduplicated = true
		s.logger.Debug("blob.put.dedup", "key", key)
		return obj, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("blob mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("blob temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return Object{}, fmt.Errorf("blob write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("blob close: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Object{}, fmt.Errorf("blob rename: %w", err)
	}

	s.logger.Info("blob.put.ok", "key", key, "bytes", obj.Size)
	return obj, nil
}

// Get reads a stored object.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.NewAppError("BLOB_NOT_FOUND", "file not found", common.ErrNotFound)
		}
		return nil, fmt.Errorf("blob open: %w", err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			s.logger.Warn("blob.close.failed", "key", key, "err", err)
		}
	}(f)
	return io.ReadAll(f)
}

// resolve maps a key to a path, refusing keys that escape the root.
func (s *LocalStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", common.NewAppError("INVALID_KEY", "empty blob key", common.ErrInvalidInput)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
