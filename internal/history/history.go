// Package history records proxied AI calls as JSON lines and aggregates
// them for the admin usage view.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Anonymous tags calls made without a valid session.
const Anonymous = "anonymous"

// Record is one proxied upstream call.
type Record struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Model      string    `json:"model"`
	Endpoint   string    `json:"endpoint"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Usage is the admin summary over all records.
type Usage struct {
	TotalCalls  int            `json:"total_calls"`
	UniqueUsers int            `json:"unique_users"`
	ModelsStats map[string]int `json:"models_stats"`
	UsersStats  map[string]int `json:"users_stats"`
}

// Log appends records to a JSONL file. It is safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func Open(path string) *Log {
	return &Log{path: path, now: time.Now}
}

func (l *Log) Path() string { return l.path }

// Append fills in ID and Timestamp when missing and writes r.
func (l *Log) Append(r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = l.now().UTC()
	}
	if r.Username == "" {
		r.Username = Anonymous
	}
	b, err := json.Marshal(r)
	if err != nil {
		return r, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return r, err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return r, err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return r, err
	}
	return r, f.Close()
}

// Each calls fn for every decodable record in file order. Corrupt lines
// are skipped.
func (l *Log) Each(fn func(Record)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r Record
		if json.Unmarshal(sc.Bytes(), &r) != nil {
			continue
		}
		fn(r)
	}
	return sc.Err()
}

// Usage aggregates every record. UniqueUsers does not count anonymous
// calls; UsersStats does.
func (l *Log) Usage() (Usage, error) {
	u := Usage{ModelsStats: map[string]int{}, UsersStats: map[string]int{}}
	err := l.Each(func(r Record) {
		u.TotalCalls++
		u.ModelsStats[r.Model]++
		u.UsersStats[r.Username]++
	})
	for name := range u.UsersStats {
		if name != Anonymous {
			u.UniqueUsers++
		}
	}
	return u, err
}

// Recent returns up to n newest records for username, newest first.
// An empty username matches everyone.
func (l *Log) Recent(username string, n int) ([]Record, error) {
	var all []Record
	err := l.Each(func(r Record) {
		if username == "" || r.Username == username {
			all = append(all, r)
		}
	})
	if len(all) > n {
		all = all[len(all)-n:]
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, err
}
