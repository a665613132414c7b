package builddb

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBackend implements Backend using local filesystem.
// Each document is one file named after its key under basePath.
type FilesystemBackend struct {
	basePath string
	locks    *StripedLocks // Fine-grained locking per key
}

// NewFilesystemBackend creates a new filesystem backend with 32 lock stripes
func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{
		basePath: basePath,
		locks:    NewStripedLocks(32),
	}
}

// NewFilesystemBackendWithStripes creates a filesystem backend with custom stripe count
func NewFilesystemBackendWithStripes(basePath string, stripes int) *FilesystemBackend {
	return &FilesystemBackend{
		basePath: basePath,
		locks:    NewStripedLocks(stripes),
	}
}

// getPath maps key to a file under basePath. Keys are slash-separated and
// every segment must be a plain name, so no key can reach outside basePath.
func (b *FilesystemBackend) getPath(key string) (string, error) {
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsRune(segment, '\\') {
			return "", WithContext(ErrInvalidKey, map[string]interface{}{
				"key": key,
			})
		}
	}
	return filepath.Join(b.basePath, filepath.FromSlash(key)), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Get returns ErrNotFound for keys that cannot name a document: invalid
// keys and directories left behind by longer keys.
func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := b.getPath(key)
	if err != nil {
		return nil, ErrNotFound
	}

	unlock := b.locks.RLock(key)
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) || isDir(path) {
			return nil, ErrNotFound
		}
		if os.IsPermission(err) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return data, nil
}

// Put writes to a hidden temp file and renames it over the target so
// readers never observe a partially written document.
func (b *FilesystemBackend) Put(ctx context.Context, key string, data []byte) error {
	path, err := b.getPath(key)
	if err != nil {
		return err
	}
	if isDir(path) {
		return WithContext(ErrInvalidKey, map[string]interface{}{
			"key":    key,
			"reason": "key names a directory of other documents",
		})
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return err
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+NewID())
	if err := os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		if os.IsPermission(err) {
			return ErrUnauthorized
		}
		return err
	}

	unlock := b.locks.Lock(key)
	defer unlock()

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	path, err := b.getPath(key)
	if err != nil || isDir(path) {
		return ErrNotFound
	}

	unlock := b.locks.Lock(key)
	defer unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		if os.IsPermission(err) {
			return ErrUnauthorized
		}
		return err
	}
	return nil
}

func (b *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	path, err := b.getPath(key)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (b *FilesystemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.ListPaginated(ctx, prefix, func(batch []string) error {
		keys = append(keys, batch...)
		return nil
	})
	return keys, err
}

// ListPaginated walks basePath and hands keys starting with prefix to handler
// in batches. Hidden files (temp files, health checks) are skipped.
func (b *FilesystemBackend) ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error {
	if _, err := os.Stat(b.basePath); os.IsNotExist(err) {
		return nil
	}

	batch := make([]string, 0, DefaultListPaginatedSize)

	err := filepath.WalkDir(b.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != b.basePath {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		// Convert to forward slashes for consistency with S3
		key := filepath.ToSlash(relPath)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		batch = append(batch, key)
		if len(batch) >= DefaultListPaginatedSize {
			if err := handler(batch); err != nil {
				return err
			}
			batch = make([]string, 0, DefaultListPaginatedSize)
		}
		return nil
	})

	// Handle remaining items
	if len(batch) > 0 && err == nil {
		err = handler(batch)
	}

	return err
}

func (b *FilesystemBackend) Ping(ctx context.Context) error {
	if err := os.MkdirAll(b.basePath, DefaultDirPermissions); err != nil {
		return fmt.Errorf("cannot create base path: %w", err)
	}

	info, err := os.Stat(b.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("base path is not a directory: %s", b.basePath)
	}

	// Try to create a temp file to verify write access
	testFile := filepath.Join(b.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), DefaultFilePermissions); err != nil {
		return fmt.Errorf("cannot write to base path: %w", err)
	}
	os.Remove(testFile)

	return nil
}

func (b *FilesystemBackend) Close() error {
	return nil
}
