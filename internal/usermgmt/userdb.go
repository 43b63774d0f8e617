package usermgmt

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password AddUser accepts.
const MinPasswordLength = 4

var (
	ErrEmptyUsername      = errors.New("username cannot be empty")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user does not exist")
	ErrUserDisabled       = errors.New("user is disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User represents a user account in the system.
type User struct {
	Username     string     `json:"username"`
	PasswordHash string     `json:"password_hash"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	Enabled      bool       `json:"enabled"`
}

// UserDB manages user accounts with thread-safe operations.
type UserDB struct {
	users    map[string]*User
	filePath string
	cost     int
	mutex    sync.RWMutex

	placeholderOnce sync.Once
	placeholder     []byte
}

// OpenUserDB loads the user database at path. A missing file yields an
// empty database that is created on the first write.
func OpenUserDB(path string) (*UserDB, error) {
	db := &UserDB{
		users:    make(map[string]*User),
		filePath: path,
		cost:     bcrypt.DefaultCost,
	}
	if err := db.loadFromFile(); err != nil {
		return nil, fmt.Errorf("load user database %s: %w", path, err)
	}
	return db, nil
}

// SetCost changes the bcrypt cost used for new hashes.
func (db *UserDB) SetCost(cost int) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.cost = cost
}

// Path returns the backing file path.
func (db *UserDB) Path() string {
	return db.filePath
}

func (db *UserDB) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), db.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// AddUser creates a new, enabled user account.
func (db *UserDB) AddUser(username, password string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	if _, exists := db.users[username]; exists {
		return fmt.Errorf("%q: %w", username, ErrUserExists)
	}
	hash, err := db.hashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	db.users[username] = &User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
		Enabled:      true,
	}
	if err := db.saveToFile(); err != nil {
		delete(db.users, username)
		return fmt.Errorf("failed to save user database: %w", err)
	}
	return nil
}

// RemoveUser deletes a user account.
func (db *UserDB) RemoveUser(username string) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	user, exists := db.users[username]
	if !exists {
		return fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	delete(db.users, username)
	if err := db.saveToFile(); err != nil {
		db.users[username] = user
		return fmt.Errorf("failed to save user database: %w", err)
	}
	return nil
}

// UpdatePassword changes a user's password.
func (db *UserDB) UpdatePassword(username, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return db.update(username, func(u *User) error {
		hash, err := db.hashPassword(newPassword)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		u.PasswordHash = hash
		return nil
	})
}

// EnableUser enables a user account.
func (db *UserDB) EnableUser(username string) error {
	return db.update(username, func(u *User) error {
		u.Enabled = true
		return nil
	})
}

// DisableUser disables a user account.
func (db *UserDB) DisableUser(username string) error {
	return db.update(username, func(u *User) error {
		u.Enabled = false
		return nil
	})
}

// update applies fn to a copy of the user and persists it, leaving the
// in-memory record untouched when saving fails.
func (db *UserDB) update(username string, fn func(*User) error) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	user, exists := db.users[username]
	if !exists {
		return fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	updated := *user
	if err := fn(&updated); err != nil {
		return err
	}
	db.users[username] = &updated
	if err := db.saveToFile(); err != nil {
		db.users[username] = user
		return fmt.Errorf("failed to save user database: %w", err)
	}
	return nil
}

// Check verifies credentials and records the login time. It returns
// ErrInvalidCredentials for unknown users and wrong passwords alike, and
// ErrUserDisabled for a correct password on a disabled account. Unknown
// users are compared against a placeholder hash so both cases take the
// same time.
func (db *UserDB) Check(username, password string) error {
	db.mutex.RLock()
	user, exists := db.users[username]
	var hash []byte
	var enabled bool
	cost := db.cost
	if exists {
		hash, enabled = []byte(user.PasswordHash), user.Enabled
	}
	db.mutex.RUnlock()

	if !exists {
		hash = db.placeholderHash(cost)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || !exists {
		return ErrInvalidCredentials
	}
	if !enabled {
		return ErrUserDisabled
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()
	if user, ok := db.users[username]; ok {
		now := time.Now()
		user.LastLogin = &now
		// A failed save only loses the login timestamp.
		_ = db.saveToFile()
	}
	return nil
}

// placeholderHash returns a hash of a random password at cost. The first
// call fixes the hash.
func (db *UserDB) placeholderHash(cost int) []byte {
	db.placeholderOnce.Do(func() {
		secret := make([]byte, 16)
		_, _ = rand.Read(secret)
		db.placeholder, _ = bcrypt.GenerateFromPassword(secret, cost)
	})
	return db.placeholder
}

// Authenticate reports whether the credentials are valid.
func (db *UserDB) Authenticate(username, password string) bool {
	return db.Check(username, password) == nil
}

// ListUsers returns all usernames, sorted.
func (db *UserDB) ListUsers() []string {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	users := make([]string, 0, len(db.users))
	for username := range db.users {
		users = append(users, username)
	}
	sort.Strings(users)
	return users
}

// HasUser reports whether username exists.
func (db *UserDB) HasUser(username string) bool {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	_, ok := db.users[username]
	return ok
}

// GetUserInfo returns a copy of the user without the password hash.
func (db *UserDB) GetUserInfo(username string) (*User, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	user, exists := db.users[username]
	if !exists {
		return nil, fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	return &User{
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
		LastLogin: user.LastLogin,
		Enabled:   user.Enabled,
	}, nil
}

// saveToFile writes the database atomically. Callers hold the write lock.
func (db *UserDB) saveToFile() error {
	data, err := json.MarshalIndent(db.users, "", "  ")
	if err != nil {
		return err
	}

	tempFile := db.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tempFile, db.filePath); err != nil {
		os.Remove(tempFile)
		return err
	}
	return nil
}

func (db *UserDB) loadFromFile() error {
	data, err := os.ReadFile(db.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &db.users)
}

// BackupDB copies the database file to backupPath.
func (db *UserDB) BackupDB(backupPath string) error {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	sourceFile, err := os.Open(db.filePath)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(backupPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}
