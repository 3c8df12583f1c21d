package main

import (
	"bytes"
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/glizzus/srs-radio/internal/broadcast"
	"github.com/glizzus/srs-radio/internal/config"
	"github.com/glizzus/srs-radio/internal/datalayer"
	"github.com/glizzus/srs-radio/internal/generator"
	"github.com/glizzus/srs-radio/internal/health"
	"github.com/glizzus/srs-radio/internal/observe"
	"github.com/glizzus/srs-radio/internal/opus"
	"github.com/glizzus/srs-radio/internal/schedule"
	"github.com/glizzus/srs-radio/internal/session"
	"github.com/glizzus/srs-radio/internal/source"
)

var version = "dev"

var guidGenerator = generator.ClientGUIDGenerator{}

func main() {
	if err := config.LoadEnv(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env file: %v", err)
	}

	app := &cli.App{
		Name:      "srs-radio",
		Usage:     "Broadcast Opus audio on a DCS SimpleRadio Standalone frequency",
		Version:   version,
		ArgsUsage: "PATH",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:    "freq",
				Aliases: []string{"f"},
				Usage:   "transmit frequency in Hz",
				Value:   config.DefaultFrequency,
			},
			&cli.BoolFlag{
				Name:    "loop",
				Aliases: []string{"l"},
				Usage:   "start over when the playlist ends",
			},
			&cli.IntFlag{
				Name:  "loops",
				Usage: "stop after this many passes when looping (0 plays forever)",
			},
			&cli.StringFlag{
				Name:  "modulation",
				Usage: "am or fm",
				Value: "am",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "station name shown to clients",
				Value: "DCS Radio Station",
			},
			&cli.StringFlag{
				Name:  "coalition",
				Usage: "blue, red or spectator",
				Value: "blue",
			},
			&cli.StringFlag{
				Name:  "server",
				Usage: "SRS server address",
				Value: "127.0.0.1:5002",
			},
			&cli.StringFlag{
				Name:  "voice-server",
				Usage: "UDP voice address when it differs from --server",
			},
			&cli.StringFlag{
				Name:  "packet-layout",
				Usage: "legacy or retransmit (SRS 1.9 and later)",
				Value: "legacy",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "broadcast at every tick of this cron expression",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "serve /healthz, /readyz and /metrics on this address",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log at debug level",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			return nil
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:      "remux",
				Usage:     "Copy the frames of an Ogg Opus file into a DCA file",
				ArgsUsage: "SOURCE DESTINATION",
				Action:    remux,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error running srs-radio: %v", err)
	}
}

// loadConfig reads the environment and lets flags that were given win.
func loadConfig(c *cli.Context) (*config.StationConfig, *config.RelayConfig, error) {
	station, err := config.NewStationConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	relay, err := config.NewRelayConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}

	if c.IsSet("freq") {
		station.Frequency = c.Uint64("freq")
	}
	if c.IsSet("modulation") {
		station.Modulation = c.String("modulation")
	}
	if c.IsSet("name") {
		station.Name = c.String("name")
	}
	if c.IsSet("coalition") {
		station.Coalition = c.String("coalition")
	}
	if c.IsSet("server") {
		relay.Addr = c.String("server")
	}
	if c.IsSet("voice-server") {
		relay.VoiceAddr = c.String("voice-server")
	}
	if c.IsSet("packet-layout") {
		relay.PacketLayout = c.String("packet-layout")
	}
	if err := relay.Validate(); err != nil {
		return nil, nil, err
	}
	return station, relay, nil
}

func run(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("Please provide a file, directory or s3:// location to broadcast", 1)
	}
	if c.Int("loops") < 0 {
		return cli.Exit("--loops must not be negative", 1)
	}
	cron := c.String("schedule")
	if cron != "" {
		if err := schedule.ValidateCron(cron); err != nil {
			return cli.Exit("Invalid schedule: "+err.Error(), 1)
		}
	}

	station, relay, err := loadConfig(c)
	if err != nil {
		return cli.Exit("Invalid configuration: "+err.Error(), 1)
	}
	guid, err := guidGenerator.Next()
	if err != nil {
		return cli.Exit("Failed to generate client GUID: "+err.Error(), 1)
	}
	identity, err := broadcast.Identity(station, guid)
	if err != nil {
		return cli.Exit("Invalid station: "+err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return cli.Exit("Failed to set up metrics: "+err.Error(), 1)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("Failed to shut down metrics", "err", err)
		}
	}()

	b := broadcast.New(broadcast.Config{
		Source:   path,
		Identity: identity,
		Relay:    *relay,
		Loop:     c.Bool("loop"),
		MaxLoops: c.Int("loops"),
		Metrics:  observe.DefaultMetrics(),
	})

	if addr := c.String("listen"); addr != "" {
		mux := http.NewServeMux()
		health.New(health.Checker{Name: "relay", Check: b.Ready}).Register(mux)
		go func() {
			if err := health.Serve(ctx, addr, mux); err != nil {
				slog.Error("Health server stopped", "addr", addr, "err", err)
			}
		}()
	}

	slog.Info("Starting broadcast",
		"source", path,
		"frequency", identity.Frequency,
		"modulation", identity.Modulation,
		"coalition", identity.Coalition,
		"guid", identity.GUID,
		"server", relay.Addr,
	)

	if cron != "" {
		err = schedule.Every(ctx, cron, b.Run)
	} else {
		err = b.Run(ctx)
	}
	return exitError(err)
}

func exitError(err error) error {
	var inputErr *source.InputError
	switch {
	case err == nil:
		slog.Info("Broadcast finished")
		return nil
	case errors.As(err, &inputErr):
		return cli.Exit("Cannot broadcast: "+err.Error(), 1)
	case errors.Is(err, session.ErrRejected):
		return cli.Exit("The server refused the station: "+err.Error(), 1)
	default:
		return cli.Exit("Broadcast failed: "+err.Error(), 1)
	}
}

func remux(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("Usage: srs-radio remux SOURCE DESTINATION", 1)
	}
	src, dst := c.Args().Get(0), c.Args().Get(1)

	if format, ok := source.FormatOf(dst); !ok || format != source.FormatDCA {
		return cli.Exit("Destination must be a .dca file", 1)
	}

	in, key, err := datalayer.Resolve(src)
	if err != nil {
		return cli.Exit("Failed to resolve source: "+err.Error(), 1)
	}
	body, err := in.Open(c.Context, key)
	if err != nil {
		return cli.Exit("Failed to open source: "+err.Error(), 1)
	}
	defer body.Close()

	reader, err := opus.NewOggReader(body)
	if err != nil {
		return cli.Exit("Source is not Ogg Opus: "+err.Error(), 1)
	}
	var buf bytes.Buffer
	n, err := opus.Remux(&buf, reader)
	if err != nil {
		return cli.Exit("Failed to remux: "+err.Error(), 1)
	}

	out, key, err := datalayer.Resolve(dst)
	if err != nil {
		return cli.Exit("Failed to resolve destination: "+err.Error(), 1)
	}
	err = out.Put(c.Context, key, &buf, datalayer.PutOptions{
		Size:        int64(buf.Len()),
		ContentType: source.FormatDCA.ContentType(),
	})
	if err != nil {
		return cli.Exit("Failed to write destination: "+err.Error(), 1)
	}

	slog.Info("Remuxed", "source", src, "destination", dst, "frames", n)
	return nil
}
