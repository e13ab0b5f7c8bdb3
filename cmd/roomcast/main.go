// Package main provides the roomcast server and its maintenance CLI.
//
// Usage:
//
//	roomcast [--config path] <command> [args]
//
// Commands:
//
//	serve             - Run the WebSocket room server
//	retained list     - Print the retained record of every topic
//	retained clear    - Clear the retained record of a topic, or all of them
//
// Configuration:
//
//	Settings are read from the YAML file given with --config, then from
//	environment variables. Without a file the built-in defaults apply.
package main

import (
	"fmt"
	"os"

	"github.com/Tyrowin/roomcast/cmd/roomcast/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
