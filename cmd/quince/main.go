// Command quince is a minimal QUIC client/server for exercising this
// module's transport implementation over a real UDP socket.
package main

import (
	"fmt"
	"os"

	"github.com/quince-project/quic"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "client":
		err = clientCommand(os.Args[2:])
	case "server":
		err = serverCommand(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: quince <client|server> [options] [address]")
}

// newConfig returns the default configuration shared by both subcommands,
// letting each command line tweak only the fields it cares about (TLS
// certificates, server name, insecure verification).
func newConfig() *quic.Config {
	return quic.NewConfig()
}
