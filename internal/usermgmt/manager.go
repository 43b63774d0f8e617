package usermgmt

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"sshgate/internal/log"
)

// Environment variables read by CreateDefaultUserFromEnv.
const (
	EnvDefaultUser     = "SSHGATE_DEFAULT_USER"
	EnvDefaultPassword = "SSHGATE_DEFAULT_PASSWORD"
)

// CreateDefaultUserFromEnv creates the user named by SSHGATE_DEFAULT_USER
// with SSHGATE_DEFAULT_PASSWORD when both are set and the user does not
// exist yet.
func CreateDefaultUserFromEnv(db *UserDB, logger *slog.Logger) error {
	logger = log.OrDefault(logger)
	defaultUser := os.Getenv(EnvDefaultUser)
	defaultPassword := os.Getenv(EnvDefaultPassword)
	if defaultUser == "" || defaultPassword == "" {
		return nil
	}

	if db.HasUser(defaultUser) {
		logger.Debug("default user already exists", "user", defaultUser)
		return nil
	}
	if err := db.AddUser(defaultUser, defaultPassword); err != nil {
		return fmt.Errorf("failed to create default user %q: %w", defaultUser, err)
	}
	logger.Info("created default user from environment", "user", defaultUser)
	return nil
}

// PrintUsers writes a table of all users to w.
func PrintUsers(w io.Writer, db *UserDB) {
	users := db.ListUsers()
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found.")
		return
	}

	fmt.Fprintf(w, "%-20s %-10s %-20s %-20s\n", "Username", "Status", "Created", "Last login")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, username := range users {
		user, err := db.GetUserInfo(username)
		if err != nil {
			fmt.Fprintf(w, "%-20s ERROR: %v\n", username, err)
			continue
		}
		status := "Enabled"
		if !user.Enabled {
			status = "Disabled"
		}
		lastLogin := "never"
		if user.LastLogin != nil {
			lastLogin = user.LastLogin.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-20s %-10s %-20s %-20s\n",
			user.Username,
			status,
			user.CreatedAt.Format("2006-01-02 15:04:05"),
			lastLogin,
		)
	}
}
