package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/ctlwire/internal/logging"
)

const usage = `usage: ctlwire <command> [flags]

commands:
  decode   parse a control packet body or datagram given as hex
  encode   build a control packet and print its hex encoding
  serve    run the HTTP inspection API
  listen   run a TCP peer that echoes control packets
  send     send one control packet to a listen peer and print the reply
`

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ctlwire: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "decode":
		return runDecode(args[1:], out)
	case "encode":
		return runEncode(args[1:], out)
	case "serve":
		return runServe(args[1:])
	case "listen":
		return runListen(args[1:])
	case "send":
		return runSend(args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
