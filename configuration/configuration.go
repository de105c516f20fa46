package configuration

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/bartossh/Accreditor/botserver"
	"github.com/bartossh/Accreditor/natsclient"
	"github.com/bartossh/Accreditor/notifications"
	"github.com/bartossh/Accreditor/reconciler"
	"github.com/bartossh/Accreditor/repomongo"
	"github.com/bartossh/Accreditor/repository"
	"github.com/bartossh/Accreditor/telemetry"
	"github.com/bartossh/Accreditor/texts"
	"github.com/bartossh/Accreditor/verifyinvestor"
	"github.com/bartossh/Accreditor/zincadapter"
)

const (
	LockBackendMemory   = "memory"   // LockBackendMemory locks transactions within the process.
	LockBackendPostgres = "postgres" // LockBackendPostgres locks transactions with PostgreSQL advisory locks.
)

var (
	ErrVerifyInvestorToken = errors.New("verify investor api_token and user_authorization_token must be set")
	ErrAdminToken          = errors.New("bot server admin_token must be set")
	ErrLockBackend         = errors.New("lock_backend must be memory or postgres")
)

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	BotServer      botserver.Config      `yaml:"bot_server"`
	Texts          texts.Config          `yaml:"texts"`
	VerifyInvestor verifyinvestor.Config `yaml:"verify_investor"`
	Reconciler     reconciler.Config     `yaml:"reconciler"`
	Database       repository.DBConfig   `yaml:"database"`
	LockBackend    string                `yaml:"lock_backend"`
	Nats           natsclient.Config     `yaml:"nats"`
	Notifications  notifications.Config  `yaml:"notifications"`
	Telemetry      telemetry.Config      `yaml:"telemetry"`
	ZincLogger     zincadapter.Config    `yaml:"zinc_logger"`
	MongoLogger    repomongo.Config      `yaml:"mongo_logger"`
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	var main Configuration
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}

	if main.LockBackend == "" {
		main.LockBackend = LockBackendMemory
	}
	main.Texts.VerifyInvestorURL = main.VerifyInvestor.URL

	return main, nil
}

// ReadWithEnv reads the configuration file and overrides secrets with the environment.
// Variables from envFile are loaded first, an empty envFile loads nothing.
func ReadWithEnv(path, envFile string) (Configuration, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Configuration{}, fmt.Errorf("env file %q: %w", envFile, err)
		}
	}
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Configuration) applyEnv() error {
	overrides := map[string]*string{
		"VERIFY_INVESTOR_URL":                      &c.VerifyInvestor.URL,
		"VERIFY_INVESTOR_API_TOKEN":                &c.VerifyInvestor.APIToken,
		"VERIFY_INVESTOR_USER_AUTHORIZATION_TOKEN": &c.VerifyInvestor.UserAuthorizationToken,
		"BOT_ADMIN_TOKEN":                          &c.BotServer.AdminToken,
		"DATABASE_CONN_STR":                        &c.Database.ConnStr,
		"NATS_TOKEN":                               &c.Nats.Token,
		"ZINC_TOKEN":                               &c.ZincLogger.Token,
		"MONGO_CONN_STR":                           &c.MongoLogger.ConnStr,
	}
	for key, field := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field = v
		}
	}
	if v, ok := os.LookupEnv("VERIFY_INVESTOR_STAGING"); ok && v != "" {
		staging, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VERIFY_INVESTOR_STAGING: %w", err)
		}
		c.VerifyInvestor.Staging = staging
	}
	c.Texts.VerifyInvestorURL = c.VerifyInvestor.URL
	return nil
}

// Validate checks the settings the bot cannot start without.
func (c *Configuration) Validate() error {
	var err error
	if c.VerifyInvestor.APIToken == "" || c.VerifyInvestor.UserAuthorizationToken == "" {
		err = errors.Join(err, ErrVerifyInvestorToken)
	}
	if c.BotServer.AdminToken == "" {
		err = errors.Join(err, ErrAdminToken)
	}
	if c.LockBackend != LockBackendMemory && c.LockBackend != LockBackendPostgres {
		err = errors.Join(err, ErrLockBackend)
	}
	return err
}
