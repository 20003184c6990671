// Command client connects to a relay server, sends each typed line as a
// message and prints what everyone else says.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/logging"
)

func main() {
	cmd := &cli.Command{
		Name:  "client",
		Usage: "chat through a relay server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Value:   "ws://localhost:8080/ws",
				Usage:   "relay server URL (ws:// or wss://)",
				Sources: cli.EnvVars("RELAY_URL"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log connection diagnostics to stderr",
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := zerolog.Nop()
	if cmd.Bool("debug") {
		log = logging.New(logging.Config{Level: "debug", Format: "console"}, os.Stderr)
	}

	url := cmd.String("url")
	conn, err := client.Dial(ctx, url, log)
	if err != nil {
		fmt.Printf("Could not connect to server: %v\n", err)
		fmt.Println("Please check the --url flag or the RELAY_URL environment variable")
		return err
	}

	fmt.Printf("Connected to %s\n", url)
	fmt.Println("Type your messages and press Enter. Type 'exit' to quit.")

	err = client.NewSession(conn, os.Stdin, os.Stdout, log).Run(ctx)
	if ctx.Err() != nil {
		fmt.Println("\nExiting...")
		return nil
	}
	return err
}
