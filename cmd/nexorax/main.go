// Command nexorax is the main entry point for the CLI binary.
// It dispatches to the server, admin, user and version subcommands.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/gookit/color"

	"github.com/khang26042012/NexoraX-AI/internal/cmd/admin"
	"github.com/khang26042012/NexoraX-AI/internal/cmd/server"
	"github.com/khang26042012/NexoraX-AI/internal/cmd/user"
	"github.com/khang26042012/NexoraX-AI/internal/version"
)

func main() {
	if err := run(os.Args); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			color.Red.Println("error: " + err.Error())
		}
		os.Exit(1)
	}
}

// run parses argv and invokes the matching subcommand handler.
func run(argv []string) error {
	if len(argv) < 2 {
		usage()
		return fmt.Errorf("missing subcommand")
	}

	switch argv[1] {
	case "server":
		return server.Run(argv[2:])
	case "admin":
		return admin.Run(argv[2:])
	case "user":
		return user.Run(argv[2:])
	case "version", "--version":
		fmt.Printf("nexorax %s\n", version.Version)
		return nil
	case "-h", "--help", "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown subcommand: %s", argv[1])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "nexorax <server|admin|user|version> [flags]")
	fmt.Fprintln(os.Stderr, "  server   run the gateway")
	fmt.Fprintln(os.Stderr, "  admin    open the terminal admin console")
	fmt.Fprintln(os.Stderr, "  user     add, delete or list accounts offline")
}
