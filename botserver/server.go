package botserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/bartossh/Accreditor/logger"
	"github.com/bartossh/Accreditor/notifications"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Accreditor-Bot"
)

// AdminTokenHeader is the header carrying the admin token.
const AdminTokenHeader = "Admin-Token"

const (
	adminGroupURL       = "/admin"
	sweepGroupURL       = "/sweep"
	transactionGroupURL = "/transaction"
	authorizationsURL   = "/authorizations"
	verificationsURL    = "/verifications"
	transactionIDURL    = "/:id"
	advanceURL          = "/advance"
	reviewURL           = "/review"
	hooksURL            = "/hooks"
	logsURL             = "/logs"
)

const (
	AliveURL               = "/alive"                                                            // URL to check if server is alive and version.
	WsURL                  = "/ws"                                                               // URL to connect the device websocket.
	SweepAuthorizationsURL = adminGroupURL + sweepGroupURL + authorizationsURL                   // URL to run the authorizations sweep.
	SweepVerificationsURL  = adminGroupURL + sweepGroupURL + verificationsURL                    // URL to run the verifications sweep.
	AdvanceTransactionURL  = adminGroupURL + transactionGroupURL + transactionIDURL + advanceURL // URL to advance a single transaction.
	ReviewTransactionURL   = adminGroupURL + transactionGroupURL + transactionIDURL + reviewURL  // URL to move the verification request to review, staging only.
	TransactionURL         = transactionGroupURL + transactionIDURL                              // URL to read the transaction status.
	HooksURL               = adminGroupURL + hooksURL                                            // URL to add or remove the admin notification webhook.
	LogsURL                = adminGroupURL + logsURL                                             // URL to read the stored logs.
)

var (
	ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")
	ErrNoAdminToken       = errors.New("admin token must be set")
)

// WebsocketHandlerProvider provides the device websocket handler.
type WebsocketHandlerProvider interface {
	Handler(ctx context.Context) fiber.Handler
}

// HookRegistry keeps the webhooks receiving admin notifications.
type HookRegistry interface {
	AddHook(h notifications.Hook)
	RemoveHook(url string)
}

// LogReader reads the stored logs of the service.
type LogReader interface {
	ReadLogs(ctx context.Context, service, level string, limit int64) ([]logger.Log, error)
}

// AdminTools are optional admin back-ends, a nil field disables its endpoints.
type AdminTools struct {
	Hooks HookRegistry
	Logs  LogReader
}

// Config contains configuration of the bot server.
type Config struct {
	Port         int    `yaml:"port"`           // Port to listen on.
	AdminToken   string `yaml:"admin_token"`    // AdminToken guards the admin and transaction endpoints.
	PriceInBytes int64  `yaml:"price_in_bytes"` // PriceInBytes of a single attestation.
}

type server struct {
	repo     Repository
	engine   Engine
	provider Provider
	tools    AdminTools
	token    string
	log      logger.Logger
}

// Run initializes routing and runs the server. To stop the server cancel the context.
// It blocks until the context is canceled.
func Run(ctx context.Context, c Config, bot *Bot, ws WebsocketHandlerProvider, tools AdminTools, log logger.Logger) error {
	if err := validateConfig(&c); err != nil {
		return err
	}
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &server{
		repo:     bot.repo,
		engine:   bot.engine,
		provider: bot.provider,
		tools:    tools,
		token:    c.AdminToken,
		log:      log,
	}
	router := s.router(ctxx, ws)

	errC := make(chan error, 1)
	go func() {
		if err := router.Listen(fmt.Sprintf("0.0.0.0:%v", c.Port)); err != nil {
			errC <- err
			cancel()
		}
	}()

	<-ctxx.Done()

	var err error
	select {
	case err = <-errC:
	default:
	}
	if errx := router.Shutdown(); errx != nil {
		err = errors.Join(err, errx)
	}

	return err
}

func (s *server) router(ctx context.Context, ws WebsocketHandlerProvider) *fiber.App {
	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   time.Second * 5,
		WriteTimeout:  time.Second * 30,
		ServerHeader:  Header,
		AppName:       ApiVersion,
		Concurrency:   4096,
	})
	router.Use(recover.New())

	router.Get(AliveURL, s.alive)
	router.Get(WsURL, ws.Handler(ctx))

	admin := router.Group(adminGroupURL, s.authorize)
	sweep := admin.Group(sweepGroupURL)
	sweep.Post(authorizationsURL, s.sweepAuthorizations)
	sweep.Post(verificationsURL, s.sweepVerifications)
	trx := admin.Group(transactionGroupURL)
	trx.Post(transactionIDURL+advanceURL, s.advance)
	trx.Post(transactionIDURL+reviewURL, s.review)
	if s.tools.Hooks != nil {
		admin.Post(hooksURL, s.addHook)
		admin.Delete(hooksURL, s.removeHook)
	}
	if s.tools.Logs != nil {
		admin.Get(logsURL, s.logs)
	}

	router.Get(TransactionURL, s.authorize, s.transaction)

	return router
}

func validateConfig(c *Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrWrongPortSpecified
	}
	if c.AdminToken == "" {
		return ErrNoAdminToken
	}
	return nil
}
