// Command admin is the operator CLI: it talks to a running server's admin
// endpoints and inspects the journal and index on disk.
package main

import (
	"fmt"
	"os"
)

const usage = `usage: admin <command> [flags]

commands:
  state        print the running simulation state
  timescale    set the simulation timescale
  noise        queue a sound event
  checkpoint   write a checkpoint now
  checkpoints  list recorded checkpoints
  journal      print journal transitions
  db           query the local index database
  hashkey      print a bcrypt hash for -admin_key_hash
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "state":
		stateCmd(args)
	case "timescale":
		timescaleCmd(args)
	case "noise":
		noiseCmd(args)
	case "checkpoint":
		checkpointCmd(args)
	case "checkpoints":
		checkpointsCmd(args)
	case "journal":
		journalCmd(args)
	case "db":
		dbCmd(args)
	case "hashkey":
		hashKeyCmd(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}
