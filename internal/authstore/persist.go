package authstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"
)

// UnixTime is a point in time stored as unix seconds. Older state files
// carry fractional seconds; those are accepted and truncated.
type UnixTime int64

func FromTime(t time.Time) UnixTime { return UnixTime(t.Unix()) }

func (u UnixTime) Time() time.Time { return time.Unix(int64(u), 0) }

func (u UnixTime) IsZero() bool { return u == 0 }

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*u = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("unix time: %w", err)
	}
	*u = UnixTime(int64(f))
	return nil
}

// Persister loads and saves a full snapshot of one keyed structure.
type Persister[T any] interface {
	Load() (map[string]T, error)
	Save(map[string]T) error
}

// JSONFile persists a map as a single JSON object, rewritten atomically
// on every Save.
type JSONFile[T any] struct {
	Path string
}

func NewJSONFile[T any](path string) *JSONFile[T] {
	return &JSONFile[T]{Path: path}
}

// Load returns an empty map when the file does not exist yet.
func (f *JSONFile[T]) Load() (map[string]T, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]T{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]T{}, nil
	}
	m := map[string]T{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(f.Path), err)
	}
	return m, nil
}

func (f *JSONFile[T]) Save(m map[string]T) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(f.Path, append(b, '\n'), 0o600)
}

// MemoryPersister keeps snapshots in memory. SaveErr, when set, is
// returned from Save without storing anything.
type MemoryPersister[T any] struct {
	mu      sync.Mutex
	data    map[string]T
	saves   int
	SaveErr error
}

func NewMemoryPersister[T any](seed map[string]T) *MemoryPersister[T] {
	return &MemoryPersister[T]{data: maps.Clone(seed)}
}

func (p *MemoryPersister[T]) Load() (map[string]T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data == nil {
		return map[string]T{}, nil
	}
	return maps.Clone(p.data), nil
}

func (p *MemoryPersister[T]) Save(m map[string]T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SaveErr != nil {
		return p.SaveErr
	}
	p.data = maps.Clone(m)
	p.saves++
	return nil
}

// Saves reports how many successful saves happened.
func (p *MemoryPersister[T]) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// AccountStore persists credentials. Signup appends; only admin
// deletion rewrites the whole set.
type AccountStore interface {
	Load() (map[string]string, error)
	Append(username, password string) error
	Rewrite(map[string]string) error
}

// AccountsFile is the flat `username|password` line format.
type AccountsFile struct {
	Path string
}

func NewAccountsFile(path string) *AccountsFile {
	return &AccountsFile{Path: path}
}

// Load skips blank and malformed lines. A missing file is an empty set.
func (a *AccountsFile) Load() (map[string]string, error) {
	users := map[string]string{}
	f, err := os.Open(a.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return users, nil
	}
	if err != nil {
		return users, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		// Passwords may end in spaces; only the line ending is stripped.
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, pass, ok := strings.Cut(line, "|")
		if !ok || name == "" {
			continue
		}
		users[name] = pass
	}
	return users, sc.Err()
}

func (a *AccountsFile) Append(username, password string) error {
	if err := os.MkdirAll(filepath.Dir(a.Path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(a.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%s|%s\n", username, password); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Rewrite replaces the file with users sorted by name.
func (a *AccountsFile) Rewrite(users map[string]string) error {
	var buf bytes.Buffer
	for _, name := range slices.Sorted(maps.Keys(users)) {
		fmt.Fprintf(&buf, "%s|%s\n", name, users[name])
	}
	return atomicWriteFile(a.Path, buf.Bytes(), 0o600)
}

// MemoryAccounts is an AccountStore for tests.
type MemoryAccounts struct {
	mu        sync.Mutex
	users     map[string]string
	AppendErr error
}

func NewMemoryAccounts(seed map[string]string) *MemoryAccounts {
	m := maps.Clone(seed)
	if m == nil {
		m = map[string]string{}
	}
	return &MemoryAccounts{users: m}
}

func (m *MemoryAccounts) Load() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.users), nil
}

func (m *MemoryAccounts) Append(username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.users[username] = password
	return nil
}

func (m *MemoryAccounts) Rewrite(users map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = maps.Clone(users)
	return nil
}

// atomicWriteFile writes to a temp file in the same directory, fsyncs it
// and renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	// The rename already happened; a failed dir sync only weakens durability.
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
