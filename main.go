package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	brokerservice "taxi-tracking/cmd/broker_service"
	driveragent "taxi-tracking/cmd/driver_agent"
	tripwatcher "taxi-tracking/cmd/trip_watcher"
	"taxi-tracking/internal/cli"
)

const defaultConfig = "config/config.yaml"

func main() {
	// quick path for global help
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	// parse mode and collect the remaining args for that mode
	mode, modeArgs, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// context cancelled on SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch mode {

	case cli.ModeBroker:
		fs := flag.NewFlagSet(cli.ModeBroker, flag.ContinueOnError)
		cfgPath := fs.String("config", defaultConfig, "Path to the YAML config file")
		instance := fs.String("instance-id", "", "Replica id for RabbitMQ queues (default: hostname + random suffix)")
		debug := fs.Bool("debug", false, "Enable DEBUG logs")
		cli.AttachUsage(fs, cli.ModeBroker)
		parseOrExit(fs, modeArgs)

		exitOnErr(brokerservice.Run(ctx, brokerservice.Options{ConfigPath: *cfgPath, InstanceID: *instance, Debug: *debug}))

	case cli.ModeDriver:
		fs := flag.NewFlagSet(cli.ModeDriver, flag.ContinueOnError)
		cfgPath := fs.String("config", defaultConfig, "Path to the YAML config file")
		fixes := fs.String("fixes", "", "NDJSON fix recording to replay; '-' reads stdin (default: driver.fix_source)")
		paced := fs.Bool("paced", false, "Replay fixes at the pace of their timestamps")
		metricsPort := fs.Int("metrics-port", 0, "Serve /metrics on this port (0 disables)")
		debug := fs.Bool("debug", false, "Enable DEBUG logs")
		cli.AttachUsage(fs, cli.ModeDriver)
		parseOrExit(fs, modeArgs)

		if *metricsPort < 0 || *metricsPort > 65535 {
			fmt.Fprintln(os.Stderr, "Error: --metrics-port must be between 0 and 65535")
			fs.Usage()
			os.Exit(2)
		}
		exitOnErr(driveragent.Run(ctx, driveragent.Options{
			ConfigPath:  *cfgPath,
			FixSource:   *fixes,
			Paced:       *paced,
			MetricsPort: *metricsPort,
			Debug:       *debug,
		}))

	case cli.ModeWatcher:
		fs := flag.NewFlagSet(cli.ModeWatcher, flag.ContinueOnError)
		cfgPath := fs.String("config", defaultConfig, "Path to the YAML config file")
		reservationID := fs.String("reservation", "", "Reservation id to follow (required)")
		wsURL := fs.String("broker", "", "Broker WebSocket URL (default: driver.broker_url)")
		apiURL := fs.String("api", "http://localhost:8080", "Broker HTTP base URL for the reservation snapshot")
		token := fs.String("token", "", "Bearer token for the reservation room and API")
		debug := fs.Bool("debug", false, "Enable DEBUG logs")
		cli.AttachUsage(fs, cli.ModeWatcher)
		parseOrExit(fs, modeArgs)

		if *reservationID == "" {
			fmt.Fprintln(os.Stderr, "Error: --reservation is required")
			fs.Usage()
			os.Exit(2)
		}
		exitOnErr(tripwatcher.Run(ctx, tripwatcher.Options{
			ConfigPath:    *cfgPath,
			BrokerURL:     *wsURL,
			APIURL:        *apiURL,
			ReservationID: *reservationID,
			Token:         *token,
			Debug:         *debug,
		}))

	case cli.ModeToken:
		fs := flag.NewFlagSet(cli.ModeToken, flag.ContinueOnError)
		subject := fs.String("subject", "", "Driver or user id (token subject)")
		role := fs.String("role", "DRIVER", "Role: DRIVER | ADMIN | CUSTOMER")
		plate := fs.String("patente", "", "Plate bound to a DRIVER token")
		secret := fs.String("secret", "", "JWT HMAC secret (HS256)")
		ttl := fs.Duration("ttl", 12*time.Hour, "Token lifetime")
		cli.AttachUsage(fs, cli.ModeToken)
		parseOrExit(fs, modeArgs)

		if *subject == "" || *secret == "" {
			fmt.Fprintln(os.Stderr, "Error: --subject and --secret are required")
			fs.Usage()
			os.Exit(2)
		}
		token, claims, err := cli.GenerateToken(*secret, *ttl, *subject, *role, *plate)
		exitOnErr(err)
		fmt.Println("TOKEN:")
		fmt.Println(token)
		fmt.Printf("role=%s subject=%s patente=%s expires=%s\n", claims.Role, claims.Subject, claims.Plate, claims.ExpiresAt.Time.Format(time.RFC3339))

	default:
		// should not happen because ParseMode validates known modes
		fmt.Fprintln(os.Stderr, "Error: unknown mode")
		os.Exit(2)
	}
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
