// Command contextctl is a thin operator CLI over the context orchestration
// core: it can drive one live chat session end to end (the "UI layer"
// spec.md treats as an external collaborator), and inspect any session's
// on-disk snapshots and stats without needing a live process for that
// session.
package main

import (
	"fmt"
	"os"

	"contextcore/pkg/llmerrors"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(os.Args[2:])
	case "snapshot":
		err = runSnapshot(os.Args[2:])
	case "context":
		err = runContext(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "contextctl: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "contextctl: %v\n", err)
		os.Exit(llmerrors.ExitCode(err))
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `contextctl - context orchestration core operator CLI

Usage:
  contextctl chat --provider <name> --model <id> [--session <id>] [--mode <name>] [--config <path>]
  contextctl snapshot list --session <id> [--root <dir>]
  contextctl context stats --session <id> [--root <dir>] [--index <db-path>]

Commands:
  chat              Run one live session: type messages, or a line starting
                     with "/" to invoke a core operation directly.
  snapshot list      List snapshots recorded for a session, newest first.
  context stats      Print token/checkpoint/compression stats for a session.

Within "chat", the spec's CLI surface is available as slash commands:
  /snapshot list
  /snapshot create [purpose]     purpose is recovery|rollback|emergency, default rollback
  /snapshot rollback <id>
  /context stats
  /context compress
  /mode <name>
  /quit
`)
}
