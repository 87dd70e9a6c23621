package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// NewStore 以 dir 为实例目录构建文件存储；目录在首次写入时惰性创建。
func NewStore(fsys afero.Fs, dir string) (Store, error) {
	if fsys == nil {
		return nil, errors.New("filesystem required")
	}
	if dir == "" {
		return nil, errors.New("storage path required")
	}
	return &fileStore{
		fs:    fsys,
		dir:   filepath.Clean(dir),
		locks: make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一文件并发写入。
type fileStore struct {
	fs  afero.Fs
	dir string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, fileName string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.path(fileName)
	if err != nil {
		return nil, err
	}

	info, err := s.fs.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := afero.ReadFile(s.fs, filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *fileStore) Put(ctx context.Context, fileName string, data []byte) error {
	unlock := s.lockEntry(fileName)
	defer unlock()

	filePath, err := s.path(fileName)
	if err != nil {
		return err
	}
	if err := s.ensureDir(); err != nil {
		return err
	}

	tempFile, err := afero.TempFile(s.fs, s.dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(data))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.fs.Remove(tempName)
		return err
	}

	if err := s.fs.Rename(tempName, filePath); err != nil {
		s.fs.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Remove(ctx context.Context, fileName string) error {
	unlock := s.lockEntry(fileName)
	defer unlock()

	filePath, err := s.path(fileName)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ensureDir 幂等地创建实例目录，目录被外部删除后下一次写入会重新创建。
func (s *fileStore) ensureDir() error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	return nil
}

func (s *fileStore) lockEntry(fileName string) func() {
	s.mu.Lock()
	lock := s.locks[fileName]
	if lock == nil {
		lock = &entryLock{}
		s.locks[fileName] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, fileName)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) path(fileName string) (string, error) {
	if fileName == "" || fileName == "." || fileName == ".." {
		return "", errors.New("file name required")
	}
	if strings.ContainsAny(fileName, `/\`) {
		return "", errors.New("invalid cache file name")
	}
	return filepath.Join(s.dir, fileName), nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
