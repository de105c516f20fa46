package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Accreditor/botserver"
	"github.com/bartossh/Accreditor/configuration"
	"github.com/bartossh/Accreditor/logging"
	"github.com/bartossh/Accreditor/logo"
	"github.com/bartossh/Accreditor/messenger"
	"github.com/bartossh/Accreditor/mutex"
	"github.com/bartossh/Accreditor/natsclient"
	"github.com/bartossh/Accreditor/notifications"
	"github.com/bartossh/Accreditor/reconciler"
	"github.com/bartossh/Accreditor/repomongo"
	"github.com/bartossh/Accreditor/repository"
	"github.com/bartossh/Accreditor/stdoutwriter"
	"github.com/bartossh/Accreditor/telemetry"
	"github.com/bartossh/Accreditor/texts"
	"github.com/bartossh/Accreditor/transaction"
	"github.com/bartossh/Accreditor/verifyinvestor"
	"github.com/bartossh/Accreditor/zincadapter"
)

const serviceName = "accreditor-bot"

const usage = `The Accreditor bot verifies with VerifyInvestor that the paired device user is an accredited investor.
Devices talk to the bot over the websocket, payments and attestations travel over NATS and the admin API
allows to force the sweeps and inspect the transactions.`

func main() {
	logo.Display()

	var file, env string
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.ReadWithEnv(file, env)
		if err != nil {
			return cfg, err
		}

		if err := cfg.Validate(); err != nil {
			if errors.Is(err, configuration.ErrVerifyInvestorToken) {
				pterm.Error.Print(texts.ErrorConfigVerifyInvestorToken(file))
			}
			if errors.Is(err, configuration.ErrAdminToken) {
				pterm.Error.Print(texts.ErrorConfigAdminToken(file))
			}
			return cfg, err
		}

		return cfg, nil
	}

	app := &cli.App{
		Name:  "bot",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
			&cli.StringFlag{
				Name:        "env",
				Aliases:     []string{"e"},
				Usage:       "Load secrets from env `FILE`",
				Destination: &env,
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "migrate",
				Aliases: []string{"m"},
				Usage:   "creates the database tables and exits",
				Action: func(cCtx *cli.Context) error {
					cfg, err := configurator()
					if err != nil {
						return err
					}
					return migrate(cCtx.Context, cfg.Database)
				},
			},
		},
		Action: func(cCtx *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			run(cfg)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func migrate(ctx context.Context, cfg repository.DBConfig) error {
	db, err := repository.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Disconnect(ctx)

	if err := db.RunMigration(ctx); err != nil {
		return err
	}
	pterm.Success.Println("database migrated")
	return nil
}

func run(cfg configuration.Configuration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		cancel()
	}()

	callbackOnErr := func(err error) {
		fmt.Println("logger error: ", err)
	}

	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("fatal error: %s", err))
	}

	var tools botserver.AdminTools
	writers := []io.Writer{stdoutwriter.Logger{}}
	if cfg.ZincLogger.Address != "" {
		zinc, err := zincadapter.New(cfg.ZincLogger)
		if err != nil {
			pterm.Error.Println(err.Error())
			return
		}
		writers = append(writers, &zinc)
	}
	if cfg.MongoLogger.ConnStr != "" {
		mdb, err := repomongo.Connect(ctx, cfg.MongoLogger)
		if err != nil {
			pterm.Error.Println(err.Error())
			return
		}
		defer func() {
			ctxx, cancelClose := context.WithTimeout(context.Background(), time.Second)
			defer cancelClose()
			mdb.Disconnect(ctxx)
		}()
		writers = append(writers, mdb)
		tools.Logs = mdb
	}

	log := logging.New(serviceName, callbackOnErr, callbackOnFatal, writers...)

	db, err := repository.Connect(ctx, cfg.Database)
	if err != nil {
		log.Error(err.Error())
		return
	}
	defer db.Disconnect(context.Background())

	if err := db.RunMigration(ctx); err != nil {
		pterm.Error.Print(texts.ErrorInitSQL())
		log.Error(err.Error())
		return
	}

	var locker reconciler.Locker = mutex.New()
	if cfg.LockBackend == configuration.LockBackendPostgres {
		locker = db
	}

	pub, err := natsclient.PublisherConnect(cfg.Nats)
	if err != nil {
		log.Error(err.Error())
		return
	}
	defer pub.Disconnect()

	sub, err := natsclient.SubscriberConnect(cfg.Nats)
	if err != nil {
		log.Error(err.Error())
		return
	}
	defer sub.Disconnect()

	admin := notifications.New(cfg.Notifications, serviceName, pub, log)
	go admin.Run(ctx)
	tools.Hooks = admin

	provider, err := verifyinvestor.New(cfg.VerifyInvestor, admin, log)
	if err != nil {
		log.Error(err.Error())
		return
	}

	m := telemetry.New()
	go func() {
		if err := telemetry.Run(ctx, cfg.Telemetry, m); err != nil {
			log.Error(err.Error())
		}
	}()

	tx := texts.New(cfg.Texts)
	hub := messenger.New(log)
	rec := reconciler.New(cfg.Reconciler, db, locker, provider, hub, admin, pub, tx, log, m)
	bot := botserver.NewBot(db, pub, hub, rec, provider, tx, log, cfg.BotServer.PriceInBytes)
	hub.SetInbound(bot)

	go hub.Run(ctx)
	go rec.Run(ctx)

	if err := sub.SubscribePayments(func(p *transaction.Payment) {
		bot.HandlePayment(ctx, p)
	}, log); err != nil {
		log.Error(err.Error())
		return
	}

	log.Info(fmt.Sprintf("%s started, lock backend %s", serviceName, cfg.LockBackend))

	if err := botserver.Run(ctx, cfg.BotServer, bot, hub, tools, log); err != nil {
		log.Error(err.Error())
	}
}
