package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

const (
	metaSuffix = ".json"
	bodySuffix = ".body"
	tempPrefix = ".cache-"
)

// NewDiskStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewDiskStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return NewStorage(osfs.New(abs)), nil
}

// NewMemoryStorage 返回基于 memfs 的缓存，进程退出即丢失，适合测试与演示。
func NewMemoryStorage() Storage {
	return NewStorage(memfs.New())
}

// NewStorage 在任意 billy.Filesystem 上构建缓存，根目录下每个子目录即一个缓存桶。
func NewStorage(fsys billy.Filesystem) Storage {
	return &fsStorage{
		fs:    fsys,
		locks: make(map[string]*entryLock),
	}
}

// fsStorage 通过 entryLock 避免同一条目并发写入；ioMu 串行化目录结构变更，
// memfs 本身不保证并发安全。
type fsStorage struct {
	fs   billy.Filesystem
	ioMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fsBucket struct {
	storage *fsStorage
	name    string
	dir     string
}

// entryMeta 是条目的元数据文件内容，正文单独存放在 .body 文件。
type entryMeta struct {
	Key      RequestKey `json:"key"`
	Response Response   `json:"response"`
	Size     int64      `json:"size"`
}

func (s *fsStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := bucketDir(name)
	if err != nil {
		return nil, err
	}
	s.ioMu.Lock()
	err = s.fs.MkdirAll(dir, 0o755)
	s.ioMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &fsBucket{storage: s, name: name, dir: dir}, nil
}

func (s *fsStorage) Lookup(ctx context.Context, name string) (Bucket, error) {
	exists, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	dir, _ := bucketDir(name)
	return &fsBucket{storage: s, name: name, dir: dir}, nil
}

func (s *fsStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := bucketDir(name)
	if err != nil {
		return false, err
	}
	s.ioMu.RLock()
	info, err := s.fs.Stat(dir)
	s.ioMu.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fsStorage) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	dir, _ := bucketDir(name)
	s.ioMu.Lock()
	err = util.RemoveAll(s.fs, dir)
	s.ioMu.Unlock()
	if err != nil {
		return true, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return true, nil
}

func (s *fsStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.ioMu.RLock()
	infos, err := s.fs.ReadDir("/")
	s.ioMu.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		name, err := url.PathUnescape(info.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *fsBucket) Name() string {
	return b.name
}

func (b *fsBucket) Put(ctx context.Context, key RequestKey, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	unlock := b.storage.lockEntry(b.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	base := b.entryBase(key)
	if err := b.storage.writeAtomic(b.dir, base+bodySuffix, resp.Body); err != nil {
		return fmt.Errorf("write cache body: %w", err)
	}

	meta := entryMeta{Key: key, Response: *resp, Size: int64(len(resp.Body))}
	meta.Response.Body = nil
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := b.storage.writeAtomic(b.dir, base+metaSuffix, raw); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	return nil
}

// Match 与 Put 共用条目锁，保证元数据与正文来自同一次写入。
func (b *fsBucket) Match(ctx context.Context, key RequestKey) (*Response, error) {
	unlock := b.storage.lockEntry(b.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := b.entryBase(key)
	meta, err := b.readMeta(base + metaSuffix)
	if err != nil {
		return nil, err
	}
	if meta.Key != key {
		return nil, ErrNotFound
	}

	body, err := b.readFile(base + bodySuffix)
	if err != nil {
		return nil, err
	}

	resp := meta.Response
	resp.Body = body
	resp.Cached = true
	return &resp, nil
}

func (b *fsBucket) Delete(ctx context.Context, key RequestKey) (bool, error) {
	unlock := b.storage.lockEntry(b.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	base := b.entryBase(key)
	b.storage.ioMu.Lock()
	defer b.storage.ioMu.Unlock()
	err := b.storage.fs.Remove(base + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := b.storage.fs.Remove(base + bodySuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, err
	}
	return true, nil
}

func (b *fsBucket) Keys(ctx context.Context) ([]RequestKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.storage.ioMu.RLock()
	infos, err := b.storage.fs.ReadDir(b.dir)
	b.storage.ioMu.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]RequestKey, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		meta, err := b.readMeta(b.storage.fs.Join(b.dir, name))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		keys = append(keys, meta.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}

func (b *fsBucket) entryBase(key RequestKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return b.storage.fs.Join(b.dir, hex.EncodeToString(sum[:]))
}

func (b *fsBucket) readMeta(path string) (*entryMeta, error) {
	raw, err := b.readFile(path)
	if err != nil {
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode cache meta %s: %w", path, err)
	}
	return &meta, nil
}

func (b *fsBucket) readFile(path string) ([]byte, error) {
	b.storage.ioMu.RLock()
	defer b.storage.ioMu.RUnlock()

	f, err := b.storage.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// writeAtomic 先写入同目录下的临时文件再 rename，读者不会看到写了一半的文件。
func (s *fsStorage) writeAtomic(dir, target string, data []byte) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	tmp, err := s.fs.TempFile(dir, tempPrefix)
	if err != nil {
		return err
	}
	tempName := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.fs.Remove(tempName)
		return err
	}

	if err := s.fs.Rename(tempName, target); err != nil {
		s.fs.Remove(tempName)
		return err
	}
	return nil
}

func (s *fsStorage) lockEntry(bucket string, key RequestKey) func() {
	lockKey := bucket + "::" + key.String()
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// bucketDir 将缓存名转义为单层目录名，避免名称中的 / 或 .. 逃逸根目录。
func bucketDir(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrInvalidName
	}
	escaped := url.PathEscape(name)
	if escaped == "." || escaped == ".." || strings.HasPrefix(escaped, ".") {
		return "", ErrInvalidName
	}
	return escaped, nil
}
