package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Accreditor/botserver"
	"github.com/bartossh/Accreditor/configuration"
	"github.com/bartossh/Accreditor/logging"
	"github.com/bartossh/Accreditor/logo"
	"github.com/bartossh/Accreditor/messenger"
	"github.com/bartossh/Accreditor/natsclient"
	"github.com/bartossh/Accreditor/stdoutwriter"
	"github.com/bartossh/Accreditor/transaction"
)

const usage = `Emulates the device talking to the Accreditor bot and the wallet that allocates receiving addresses
and detects payments. Run the wallet and then the device to go through the whole attestation flow locally.`

func main() {
	logo.Display()

	var file, url, device string
	var delay int
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(file)
		if err != nil {
			return cfg, err
		}

		return cfg, nil
	}

	app := &cli.App{
		Name:  "emulator",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "device",
				Aliases: []string{"d"},
				Usage:   "pairs with the bot and sends lines typed in to the terminal",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "url",
						Aliases:     []string{"u"},
						Usage:       "Bot websocket `URL`",
						Value:       "ws://localhost:8000" + botserver.WsURL,
						Destination: &url,
					},
					&cli.StringFlag{
						Name:        "address",
						Aliases:     []string{"a"},
						Usage:       "Device `ADDRESS`, random when empty",
						Destination: &device,
					},
				},
				Action: func(cCtx *cli.Context) error {
					if device == "" {
						var err error
						device, err = randomAddress()
						if err != nil {
							return err
						}
					}
					return runDevice(url, device)
				},
			},
			{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "allocates receiving addresses and pays them after the delay",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:        "delay",
						Usage:       "Seconds to wait before paying the allocated address",
						Value:       5,
						Destination: &delay,
					},
				},
				Action: func(cCtx *cli.Context) error {
					cfg, err := configurator()
					if err != nil {
						return err
					}
					return runWallet(cfg, time.Duration(delay)*time.Second)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func interrupted() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runDevice(url, device string) error {
	ctx, cancel := interrupted()
	defer cancel()

	header := http.Header{}
	header.Set(messenger.DeviceHeader, device)
	conn, _, err := fws.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	pterm.Info.Printf("paired as device %s\n", device)
	if err := conn.WriteJSON(messenger.Message{Command: messenger.CommandPair}); err != nil {
		return err
	}

	go func() {
		defer cancel()
		for {
			var msg messenger.Message
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					pterm.Error.Println(err.Error())
				}
				return
			}
			pterm.DefaultBox.WithTitle("bot").Println(msg.Text)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(fws.CloseMessage, fws.FormatCloseMessage(fws.CloseNormalClosure, ""))
			return nil
		case line := <-lines:
			if err := conn.WriteJSON(messenger.Message{Command: messenger.CommandText, Text: line}); err != nil {
				return err
			}
		}
	}
}

func runWallet(cfg configuration.Configuration, delay time.Duration) error {
	ctx, cancel := interrupted()
	defer cancel()

	log := logging.New("accreditor-wallet-emulator", func(err error) {
		fmt.Println("logger error: ", err)
	}, func(err error) {
		panic(fmt.Sprintf("fatal error: %s", err))
	}, stdoutwriter.Logger{})

	pub, err := natsclient.PublisherConnect(cfg.Nats)
	if err != nil {
		return err
	}
	defer pub.Disconnect()

	sub, err := natsclient.SubscriberConnect(cfg.Nats)
	if err != nil {
		return err
	}
	defer sub.Disconnect()

	price := cfg.BotServer.PriceInBytes
	allocate := func(deviceAddress, userAddress string) (string, error) {
		receiving, err := randomAddress()
		if err != nil {
			return "", err
		}
		log.Info(fmt.Sprintf("allocated %s for device %s user %s", receiving, deviceAddress, userAddress))
		go pay(ctx, pub, delay, &transaction.Payment{
			ReceivingAddress: receiving,
			AuthorAddress:    userAddress,
			Amount:           price,
			IsSingleAuthor:   true,
		}, log)
		return receiving, nil
	}

	if err := sub.ServeReceivingAddresses(allocate, log); err != nil {
		return err
	}
	pterm.Info.Println("wallet emulator is serving receiving addresses")

	<-ctx.Done()
	return nil
}

func pay(ctx context.Context, pub *natsclient.Publisher, delay time.Duration, p *transaction.Payment, log logging.Helper) {
	unit := make([]byte, 16)
	if _, err := rand.Read(unit); err != nil {
		log.Error(err.Error())
		return
	}
	p.Unit = hex.EncodeToString(unit)

	for _, confirmed := range []bool{false, true} {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		p.IsConfirmed = confirmed
		if err := pub.PublishPayment(p); err != nil {
			log.Error(err.Error())
			return
		}
		raw, _ := json.Marshal(p)
		log.Info(fmt.Sprintf("published payment %s", raw))
	}
}

func randomAddress() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.EncodeToString(buf), nil
}
