package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/tlv-telemetry/internal/api"
	"github.com/banshee-data/tlv-telemetry/internal/display"
	"github.com/banshee-data/tlv-telemetry/internal/serialmux"
	"github.com/banshee-data/tlv-telemetry/internal/simulator"
	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
	"github.com/banshee-data/tlv-telemetry/internal/timeutil"
	"github.com/banshee-data/tlv-telemetry/internal/version"
)

// portFactory opens serial devices for the monitor command.
var portFactory serialmux.SerialPortFactory = serialmux.RealPortFactory{}

// snapshotTimeout bounds the snapshot command's request.
const snapshotTimeout = 5 * time.Second

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:   "monitor",
		Usage:  "Decode telemetry from a serial port",
		Flags:  append(pipelineFlags(), serialFlags()...),
		Action: monitorAction,
	}
}

func monitorAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	portOpts, err := cfg.PortOptions()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger, closeLog, err := setupLogging(cfg, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer closeLog()

	path := cfg.GetPort()
	mux, err := serialmux.OpenSerialMux(portFactory, path, portOpts, serialmux.WithReadSize(cfg.GetReadSize()))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open serial port %s: %v", path, err), 1)
	}
	defer mux.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &session{
		cfg:    cfg,
		logger: logger,
		out:    c.App.Writer,
		record: c.String(recordFlag.Name),
		port:   path,
		baud:   portOpts.BaudRate,
		reopen: func() error {
			return mux.Reopen(func() (serialmux.SerialPorter, error) {
				return portFactory.Open(path, portOpts)
			})
		},
		reopenDelay: cfg.GetReopenDelay(),
	}
	return s.run(ctx, mux)
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Decode a recorded capture or the synthetic drive cycle",
		Flags: append(pipelineFlags(),
			fileFlag,
			syntheticFlag,
			chunkSizeFlag,
			intervalFlag,
			loopFlag,
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	file, synthetic := c.String(fileFlag.Name), c.Bool(syntheticFlag.Name)
	if (file == "") == !synthetic {
		return cli.Exit("replay needs exactly one of --file or --synthetic", 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	reg, err := cfg.Registry()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger, closeLog, err := setupLogging(cfg, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer closeLog()

	clock := timeutil.RealClock{}
	var mux *serialmux.SerialMux[*serialmux.GeneratorPort]
	if synthetic {
		mux = simulator.NewSerialMux(reg, clock, c.Duration(intervalFlag.Name))
	} else {
		data, err := fileSystem.ReadFile(file)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to read capture: %v", err), 1)
		}
		mux = serialmux.NewReplaySerialMux(data, c.Int(chunkSizeFlag.Name), c.Duration(intervalFlag.Name),
			c.Bool(loopFlag.Name), clock, serialmux.WithName(file))
	}
	defer mux.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &session{cfg: cfg, logger: logger, out: c.App.Writer, record: c.String(recordFlag.Name)}
	return s.run(ctx, mux)
}

func channelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "channels",
		Usage: "List the channel table",
		Flags: []cli.Flag{configFlag, formatFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			reg, err := cfg.Registry()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return printChannels(c.App.Writer, c.String(formatFlag.Name), reg.Channels())
		},
	}
}

func printChannels(w io.Writer, format string, channels []telemetry.Channel) error {
	switch format {
	case "json":
		return writeJSON(w, channels)
	case "yaml":
		return writeYAML(w, map[string]any{"channels": channels})
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tNAME\tENCODING")
		for _, ch := range channels {
			fmt.Fprintf(tw, "0x%02X\t%s\t%s\n", uint8(ch.Type), ch.Name, ch.Encoding)
		}
		return tw.Flush()
	default:
		return cli.Exit(fmt.Sprintf("unknown format %q: expected table, json or yaml", format), 1)
	}
}

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Print the current values from a running monitor's API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "from",
				Usage:    "Address of the monitor, e.g. localhost:8080",
				Required: true,
			},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			client, err := api.NewClient(c.String("from"), nil)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			ctx, cancel := context.WithTimeout(c.Context, snapshotTimeout)
			defer cancel()
			snap, err := client.Snapshot(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to fetch snapshot: %v", err), 1)
			}
			return printSnapshot(c.App.Writer, c.String(formatFlag.Name), snap)
		},
	}
}

func printSnapshot(w io.Writer, format string, snap api.SnapshotResponse) error {
	switch format {
	case "json":
		return writeJSON(w, snap)
	case "yaml":
		return writeYAML(w, snap)
	case "table":
		return display.NewTerminal(w, display.WithoutClear()).Render(snap.Readings)
	default:
		return cli.Exit(fmt.Sprintf("unknown format %q: expected table, json or yaml", format), 1)
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintln(c.App.Writer, version.String())
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
