package cursor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"rss-mail-digest/internal/domain"
)

// FileStore хранит курсор в JSON файле.
type FileStore struct {
	path string
	log  zerolog.Logger
}

var _ domain.CursorStore = (*FileStore)(nil)

// NewFileStore создаёт файловое хранилище курсора.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, log: logger}
}

// Path путь к файлу курсора.
func (s *FileStore) Path() string { return s.path }

// Load читает курсор. Отсутствие файла не ошибка.
func (s *FileStore) Load(ctx context.Context) (domain.Cursor, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Cursor{}, false, nil
	}
	if err != nil {
		return domain.Cursor{}, true, fmt.Errorf("read cursor %s: %w", s.path, err)
	}
	cur, err := Decode(data, s.log)
	if err != nil {
		return domain.Cursor{}, true, fmt.Errorf("parse cursor %s: %w", s.path, err)
	}
	return cur, true, nil
}

// Exists сообщает, существует ли файл курсора.
func (s *FileStore) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Persist перезаписывает файл целиком через временный файл и rename.
func (s *FileStore) Persist(ctx context.Context, cur domain.Cursor) error {
	data, err := Encode(cur)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o600)
}

func writeFileAtomic(name string, data []byte, perm fs.FileMode) (err error) {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(name)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp cursor: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write temp cursor: %w", err)
	}
	if err = f.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp cursor: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync temp cursor: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp cursor: %w", err)
	}
	if err = os.Rename(f.Name(), name); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}
	return nil
}
