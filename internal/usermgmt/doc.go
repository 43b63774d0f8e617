// Package usermgmt provides the password database behind sshgate's
// authentication service.
//
// Features:
//   - Thread-safe user database persisted as a JSON file (atomic rename)
//   - bcrypt password hashes and credential verification
//   - Account operations: add, remove, enable, disable, update password
//   - Last-login tracking and database backup
//   - Default account creation from environment variables
//
// The command-line front end lives in cmd/sshgate.
package usermgmt
