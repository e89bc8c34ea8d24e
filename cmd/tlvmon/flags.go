package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/banshee-data/tlv-telemetry/internal/config"
)

// Shared flags for commands that run the decode pipeline.
var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Config file (.json, .yaml, .yml or .toml)",
		EnvVars: []string{"TLVMON_CONFIG"},
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "Serve the HTTP API and /debug/ on this address, e.g. :8080",
	}
	mqttFlag = &cli.StringFlag{
		Name:  "mqtt",
		Usage: "Publish values to this MQTT broker, e.g. mqtt://broker:1883/vehicle",
	}
	mqttClientIDFlag = &cli.StringFlag{
		Name:  "mqtt-client-id",
		Usage: "MQTT client id (default derived from the machine id)",
	}
	displayFlag = &cli.StringFlag{
		Name:  "display",
		Usage: "Display mode: terminal, tui or none",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn or error",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format: console or json",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Write logs to this file instead of stderr",
	}
	recordFlag = &cli.StringFlag{
		Name:  "record",
		Usage: "Copy the raw bytes read to this file for later replay --file",
	}
)

// Serial port flags for the monitor command.
var (
	portFlag = &cli.StringFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Usage:   "Serial device to read",
	}
	baudFlag = &cli.IntFlag{
		Name:    "baud",
		Aliases: []string{"b"},
		Usage:   "Baud rate (default 115200)",
	}
	dataBitsFlag = &cli.IntFlag{
		Name:  "data-bits",
		Usage: "Data bits, 5 to 8 (default 8)",
	}
	stopBitsFlag = &cli.IntFlag{
		Name:  "stop-bits",
		Usage: "Stop bits, 1 or 2 (default 1)",
	}
	parityFlag = &cli.StringFlag{
		Name:  "parity",
		Usage: "Parity: N, E or O (default N)",
	}
	readTimeoutFlag = &cli.DurationFlag{
		Name:  "read-timeout",
		Usage: "Serial read timeout (default 1s)",
	}
	readSizeFlag = &cli.IntFlag{
		Name:  "read-size",
		Usage: "Bytes requested per read (default 64)",
	}
	reopenDelayFlag = &cli.DurationFlag{
		Name:  "reopen-delay",
		Usage: "Reopen the port this long after a read error; 0 exits instead",
	}
)

// Replay flags.
var (
	fileFlag = &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "Raw byte capture to replay",
	}
	syntheticFlag = &cli.BoolFlag{
		Name:  "synthetic",
		Usage: "Generate the sender firmware's mock drive cycle instead of reading a file",
	}
	chunkSizeFlag = &cli.IntFlag{
		Name:  "chunk-size",
		Usage: "Bytes delivered per tick when replaying a file",
		Value: 16,
	}
	intervalFlag = &cli.DurationFlag{
		Name:  "interval",
		Usage: "Time between chunks (file) or frames (synthetic)",
		Value: 50 * time.Millisecond,
	}
	loopFlag = &cli.BoolFlag{
		Name:  "loop",
		Usage: "Restart the capture when it ends",
	}
)

// formatFlag selects output format for read-only commands.
var formatFlag = &cli.StringFlag{
	Name:  "format",
	Usage: "Output format: table, json or yaml",
	Value: "table",
}

func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		configFlag,
		listenFlag,
		mqttFlag,
		mqttClientIDFlag,
		displayFlag,
		logLevelFlag,
		logFormatFlag,
		logFileFlag,
		recordFlag,
	}
}

func serialFlags() []cli.Flag {
	return []cli.Flag{
		portFlag,
		baudFlag,
		dataBitsFlag,
		stopBitsFlag,
		parityFlag,
		readTimeoutFlag,
		readSizeFlag,
		reopenDelayFlag,
	}
}

// loadConfig reads --config if given and applies any flags that were set
// on top of it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.LoadFS(fileSystem, path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	stringFlags := []struct {
		flag string
		dst  **string
	}{
		{listenFlag.Name, &cfg.Listen},
		{mqttFlag.Name, &cfg.MQTTBroker},
		{mqttClientIDFlag.Name, &cfg.MQTTClientID},
		{displayFlag.Name, &cfg.Display},
		{logLevelFlag.Name, &cfg.LogLevel},
		{logFormatFlag.Name, &cfg.LogFormat},
		{logFileFlag.Name, &cfg.LogFile},
		{portFlag.Name, &cfg.Port},
		{parityFlag.Name, &cfg.Parity},
	}
	for _, f := range stringFlags {
		if c.IsSet(f.flag) {
			config.SetString(f.dst, c.String(f.flag))
		}
	}

	intFlags := []struct {
		flag string
		dst  **int
	}{
		{baudFlag.Name, &cfg.BaudRate},
		{dataBitsFlag.Name, &cfg.DataBits},
		{stopBitsFlag.Name, &cfg.StopBits},
		{readSizeFlag.Name, &cfg.ReadSize},
	}
	for _, f := range intFlags {
		if c.IsSet(f.flag) {
			config.SetInt(f.dst, c.Int(f.flag))
		}
	}

	durationFlags := []struct {
		flag string
		dst  **string
	}{
		{readTimeoutFlag.Name, &cfg.ReadTimeout},
		{reopenDelayFlag.Name, &cfg.ReopenDelay},
	}
	for _, f := range durationFlags {
		if c.IsSet(f.flag) {
			config.SetString(f.dst, c.Duration(f.flag).String())
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
