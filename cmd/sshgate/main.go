// Command sshgate is a password-authenticated SSH server that only offers
// local port forwarding.
//
// Usage:
//
//	sshgate serve                  Run the server
//	sshgate keys                   List host keys and their fingerprints
//	sshgate kex                    Print the advertised key exchange algorithms
//	sshgate moduli <bits>          Show the DH group chosen for a size
//	sshgate user add <name> <pw>   Manage the user database
//	sshgate user backup <path>     Copy the user database to path
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"sshgate/internal/config"
	"sshgate/internal/log"
	"sshgate/internal/server"
	"sshgate/internal/usermgmt"
)

type globalOpts struct {
	HostKeyDir string `long:"host-key-dir" description:"Directory holding ssh_host_*_key files (env SSHGATE_HOST_KEY_DIR)"`
	Moduli     string `long:"moduli" description:"Path to the OpenSSH moduli file (env SSHGATE_MODULI)"`
	UserDB     string `long:"user-db" description:"Path to the user database (env SSHGATE_USER_DB)"`
	LogLevel   string `long:"log-level" description:"Log level: debug|info|warn|error (env SSHGATE_LOG_LEVEL)"`
	Verbose    bool   `short:"v" long:"verbose" description:"Shorthand for --log-level=debug"`

	Serve  serveCommand  `command:"serve" description:"Run the SSH server"`
	Keys   keysCommand   `command:"keys" description:"List host key types and SHA256 fingerprints"`
	Kex    kexCommand    `command:"kex" description:"Print the key exchange algorithms offered to clients"`
	Moduli moduliCommand `command:"moduli" description:"Show the DH group selected for a requested size"`
	User   userCommand   `command:"user" description:"Manage the user database"`
}

var opts globalOpts

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = false

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// loadConfig merges the global flags over the environment defaults.
func loadConfig() (config.ServerConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	override(&cfg.HostKeyDir, opts.HostKeyDir)
	override(&cfg.ModuliFile, opts.Moduli)
	override(&cfg.UserDB, opts.UserDB)
	override(&cfg.LogLevel, opts.LogLevel)
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func newLogger(cfg config.ServerConfig) *slog.Logger {
	return log.New(cfg.LogLevel)
}

type serveCommand struct {
	Listen           string        `long:"listen" description:"TCP listen address, empty to disable (env SSHGATE_LISTEN)"`
	TLSListen        string        `long:"tls-listen" description:"TLS listen address (env SSHGATE_TLS_LISTEN)"`
	TLSCert          string        `long:"tls-cert" description:"TLS certificate file, generated if missing"`
	TLSKey           string        `long:"tls-key" description:"TLS key file, generated if missing"`
	Auth             string        `long:"auth" choice:"userdb" choice:"pam" description:"Password backend (env SSHGATE_AUTH)"`
	Banner           string        `long:"banner" description:"Banner sent before authentication"`
	HTTPUpgrade      bool          `long:"http-upgrade" description:"Also accept SSH inside an HTTP Upgrade request (env SSHGATE_HTTP_UPGRADE)"`
	DialTimeout      time.Duration `long:"dial-timeout" description:"Timeout for connecting to forward targets"`
	HandshakeTimeout time.Duration `long:"handshake-timeout" description:"Timeout for key exchange and authentication"`
}

func (cmd *serveCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	override(&cfg.Listen, cmd.Listen)
	override(&cfg.TLSListen, cmd.TLSListen)
	override(&cfg.TLSCertFile, cmd.TLSCert)
	override(&cfg.TLSKeyFile, cmd.TLSKey)
	override(&cfg.Auth, cmd.Auth)
	override(&cfg.Banner, cmd.Banner)
	cfg.HTTPUpgrade = cfg.HTTPUpgrade || cmd.HTTPUpgrade
	if cmd.DialTimeout > 0 {
		cfg.DialTimeout = cmd.DialTimeout
	}
	if cmd.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = cmd.HandshakeTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	f, err := buildFactory(cfg, logger)
	if err != nil {
		return err
	}
	if err := f.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(f, logger)
	srv.HTTPUpgrade = cfg.HTTPUpgrade
	return runListeners(ctx, logger, listeners(srv, cfg)...)
}

func listeners(srv *server.Server, cfg config.ServerConfig) []func(context.Context) error {
	var fns []func(context.Context) error
	if cfg.Listen != "" {
		fns = append(fns, func(ctx context.Context) error { return srv.ListenAndServe(ctx, cfg.Listen) })
	}
	if cfg.TLSListen != "" {
		fns = append(fns, func(ctx context.Context) error {
			return srv.ListenAndServeTLS(ctx, cfg.TLSListen, cfg.TLSCertFile, cfg.TLSKeyFile)
		})
	}
	return fns
}

// runListeners runs every listener until ctx ends or one of them fails,
// in which case the others are stopped too. It returns the first error.
func runListeners(ctx context.Context, logger *slog.Logger, fns ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(fns))
	for _, fn := range fns {
		go func() { errs <- fn(ctx) }()
	}
	var first error
	for range fns {
		if err := <-errs; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	logger.Info("shutting down")
	return first
}

type keysCommand struct{}

func (cmd *keysCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lines, err := describeHostKeys(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

type kexCommand struct{}

func (cmd *kexCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, algo := range advertisedKeyExchanges(cfg, newLogger(cfg)) {
		fmt.Println(algo)
	}
	return nil
}

type moduliCommand struct {
	Args struct {
		Bits int `positional-arg-name:"bits" required:"true" description:"Requested group size in bits"`
	} `positional-args:"true" required:"true"`
}

func (cmd *moduliCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	line, err := describeGroup(cfg, newLogger(cfg), cmd.Args.Bits)
	if err != nil {
		return err
	}
	fmt.Println(line)
	return nil
}

type userCommand struct {
	Add     userAddCommand     `command:"add" description:"Add a user"`
	Remove  userRemoveCommand  `command:"remove" description:"Remove a user"`
	List    userListCommand    `command:"list" description:"List users"`
	Enable  userEnableCommand  `command:"enable" description:"Enable a user"`
	Disable userDisableCommand `command:"disable" description:"Disable a user"`
	Passwd  userPasswdCommand  `command:"passwd" description:"Change a user's password"`
	Backup  userBackupCommand  `command:"backup" description:"Copy the user database to a file"`
}

type userArgs struct {
	Username string `positional-arg-name:"username" required:"true"`
}

type userPasswordArgs struct {
	Username string `positional-arg-name:"username" required:"true"`
	Password string `positional-arg-name:"password" required:"true"`
}

type userAddCommand struct {
	Args userPasswordArgs `positional-args:"true" required:"true"`
}

type userRemoveCommand struct {
	Args userArgs `positional-args:"true" required:"true"`
}

type userListCommand struct{}

type userEnableCommand struct {
	Args userArgs `positional-args:"true" required:"true"`
}

type userDisableCommand struct {
	Args userArgs `positional-args:"true" required:"true"`
}

type userPasswdCommand struct {
	Args userPasswordArgs `positional-args:"true" required:"true"`
}

type userBackupCommand struct {
	Args struct {
		Path string `positional-arg-name:"path" required:"true"`
	} `positional-args:"true" required:"true"`
}

func openUserDB() (*usermgmt.UserDB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return usermgmt.OpenUserDB(cfg.UserDB)
}

func (cmd *userAddCommand) Execute(args []string) error {
	db, err := openUserDB()
	if err != nil {
		return err
	}
	if err := db.AddUser(cmd.Args.Username, cmd.Args.Password); err != nil {
		return err
	}
	fmt.Printf("User %q added.\n", cmd.Args.Username)
	return nil
}

func (cmd *userRemoveCommand) Execute(args []string) error {
	db, err := openUserDB()
	if err != nil {
		return err
	}
	if err := db.RemoveUser(cmd.Args.Username); err != nil {
		return err
	}
	fmt.Printf("User %q removed.\n", cmd.Args.Username)
	return nil
}

func (cmd *userListCommand) Execute(args []string) error {
	db, err := openUserDB()
	if err != nil {
		return err
	}
	usermgmt.PrintUsers(os.Stdout, db)
	return nil
}

func (cmd *userEnableCommand) Execute(args []string) error {
	db, err := openUserDB()
	if err != nil {
		return err
	}
	if err := db.EnableUser(cmd.Args.Username); err != nil {
		return err
	}
	fmt.Printf("User %q enabled.\n", cmd.Args.Username)
	return nil
}

func (cmd *userDisableCommand) Execute(args []string) error {
	db, err := openUserDB()
	if err != nil {
		return err
	}
	if err := db.DisableUser(cmd.Args.Username); err != nil {
		return err
	}
	fmt.Printf("User %q disabled.\n", cmd.Args.Username)
	return nil
}

func (cmd *userPasswdCommand) Execute(args []string) error {
	db, err := openUserDB()
	if err != nil {
		return err
	}
	if err := db.UpdatePassword(cmd.Args.Username, cmd.Args.Password); err != nil {
		return err
	}
	fmt.Printf("Password for %q updated.\n", cmd.Args.Username)
	return nil
}

func (cmd *userBackupCommand) Execute(args []string) error {
	db, err := openUserDB()
	if err != nil {
		return err
	}
	if err := db.BackupDB(cmd.Args.Path); err != nil {
		return err
	}
	fmt.Printf("User database backed up to %s.\n", cmd.Args.Path)
	return nil
}
