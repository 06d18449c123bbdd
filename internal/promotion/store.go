package promotion

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	recordDateLayout       = "2006-01-02"
	recordFieldSeparator   = " "
	storeFilePermission    = 0o600
	errMessageReadStore    = "read promotion store"
	errMessageWriteStore   = "write promotion store"
	errMessageEmptyPathArg = "promotion store path cannot be empty"
)

// Record tracks one login proactively followed under the promotion policy.
type Record struct {
	Login      string
	FollowedAt time.Time
}

// Eligible reports whether the promotion period has elapsed and the login may
// be unfollowed.
func (record Record) Eligible(now time.Time, daysPeriod int) bool {
	return now.Sub(record.FollowedAt) >= time.Duration(daysPeriod)*24*time.Hour
}

// Records holds the tracked promotions keyed by normalized login. It is the
// only state that outlives a single run.
type Records map[string]Record

// Add inserts or refreshes a tracked login.
func (records Records) Add(login string, followedAt time.Time) {
	normalizedLogin := strings.ToLower(strings.TrimSpace(login))
	if normalizedLogin == "" {
		return
	}
	records[normalizedLogin] = Record{Login: normalizedLogin, FollowedAt: followedAt}
}

// Remove drops a tracked login. Removal is the terminal transition of the
// promotion lifecycle.
func (records Records) Remove(login string) {
	delete(records, strings.ToLower(strings.TrimSpace(login)))
}

// Contains reports membership by normalized login.
func (records Records) Contains(login string) bool {
	_, exists := records[strings.ToLower(strings.TrimSpace(login))]
	return exists
}

// Logins returns the tracked logins in lexicographic order.
func (records Records) Logins() []string {
	logins := make([]string, 0, len(records))
	for login := range records {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	return logins
}

// Expired returns the logins whose promotion period has elapsed, in
// lexicographic order.
func (records Records) Expired(now time.Time, daysPeriod int) []string {
	var expiredLogins []string
	for login, record := range records {
		if record.Eligible(now, daysPeriod) {
			expiredLogins = append(expiredLogins, login)
		}
	}
	sort.Strings(expiredLogins)
	return expiredLogins
}

// Store persists promotion records across runs. Load happens once before
// reconciliation and Save once after execution finishes.
type Store interface {
	Load() (Records, error)
	Save(records Records) error
}

// FileStore keeps one record per line in the format "login YYYY-MM-DD".
type FileStore struct {
	path string
}

// NewFileStore constructs a FileStore for the given path.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errMessageEmptyPathArg)
	}
	return &FileStore{path: path}, nil
}

// Load reads the record file. A missing file yields an empty store; malformed
// lines are skipped.
func (store *FileStore) Load() (Records, error) {
	records := Records{}
	content, err := os.ReadFile(store.path)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, fmt.Errorf("%s: %w", errMessageReadStore, err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		trimmedLine := strings.TrimSpace(line)
		if trimmedLine == "" {
			continue
		}
		separatorIndex := strings.LastIndex(trimmedLine, recordFieldSeparator)
		if separatorIndex <= 0 {
			continue
		}
		login := strings.ToLower(strings.TrimSpace(trimmedLine[:separatorIndex]))
		followedAt, parseErr := time.Parse(recordDateLayout, strings.TrimSpace(trimmedLine[separatorIndex+1:]))
		if parseErr != nil || login == "" {
			continue
		}
		records[login] = Record{Login: login, FollowedAt: followedAt}
	}
	return records, nil
}

// Save writes the records sorted by login, one per line.
func (store *FileStore) Save(records Records) error {
	lines := make([]string, 0, len(records))
	for _, login := range records.Logins() {
		record := records[login]
		lines = append(lines, record.Login+recordFieldSeparator+record.FollowedAt.Format(recordDateLayout))
	}
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if writeErr := os.WriteFile(store.path, []byte(content), storeFilePermission); writeErr != nil {
		return fmt.Errorf("%s: %w", errMessageWriteStore, writeErr)
	}
	return nil
}
