// Command tlvmon decodes the TLV telemetry stream from a serial port and
// shows the latest value of every channel.
//
// Usage:
//
//	tlvmon monitor --port /dev/ttyUSB0
//	tlvmon replay --synthetic --display tui
//	tlvmon replay --file capture.bin --listen :8080
//	tlvmon channels --format yaml
//	tlvmon snapshot --from localhost:8080
//
// Startup failures (missing port, bad config) exit with status 1.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/banshee-data/tlv-telemetry/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "tlvmon",
		Usage:          "Decode and display TLV telemetry from a serial link",
		Version:        version.String(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			monitorCommand(),
			replayCommand(),
			channelsCommand(),
			snapshotCommand(),
			versionCommand(),
		},
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(c.App.ErrWriter, msg)
		}
		osExit(code)
		return
	}

	fmt.Fprintf(c.App.ErrWriter, "Error: %v\n", err)
	osExit(1)
}

// osExit is replaced in tests.
var osExit = os.Exit
