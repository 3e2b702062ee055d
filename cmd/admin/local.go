package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/bcrypt"

	"walkersim.dev/internal/persistence/indexdb"
	"walkersim.dev/internal/persistence/journal"
)

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	agent := fs.Int("agent", -1, "only this agent id")
	event := fs.String("event", "", "only this event")
	_ = fs.Parse(args)

	files, err := journal.Files(filepath.Join(*dataDir, "journal"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	n := 0
	for _, f := range files {
		ts, err := journal.ReadFile(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, t := range ts {
			if *agent >= 0 && t.AgentID != *agent {
				continue
			}
			if *event != "" && t.Event != *event {
				continue
			}
			_ = enc.Encode(t)
			n++
		}
	}
	fmt.Fprintf(os.Stderr, "%d transitions in %d files\n", n, len(files))
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/walkersim.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	agent := fs.Int("agent", 0, "agent id (history)")
	_ = fs.Parse(args)

	q := "checkpoints"
	if fs.NArg() > 0 {
		q = fs.Arg(0)
	}
	path := *dbPath
	if path == "" {
		path = filepath.Join(*dataDir, "index", "walkersim.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	idx, err := indexdb.OpenSQLite(ctx, path, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	switch q {
	case "checkpoints":
		cps, err := idx.Checkpoints(ctx, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, c := range cps {
			fmt.Printf("%s  %s  agents=%d  size=%s  %s\n",
				c.SavedAt.Format(time.RFC3339), c.SaveID, c.Agents, humanize.Bytes(uint64(c.Bytes)), humanize.Time(c.SavedAt))
		}
	case "transitions":
		counts, err := idx.TransitionCounts(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		_ = json.NewEncoder(os.Stdout).Encode(counts)
	case "agent":
		hist, err := idx.AgentHistory(ctx, *agent, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		for _, t := range hist {
			_ = enc.Encode(t)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(checkpoints|transitions|agent)")
		os.Exit(2)
	}
}

func hashKeyCmd(args []string) {
	fs := flag.NewFlagSet("hashkey", flag.ExitOnError)
	key := fs.String("key", "", "admin token to hash")
	_ = fs.Parse(args)
	if *key == "" {
		fmt.Fprintln(os.Stderr, "missing -key")
		os.Exit(2)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(*key), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash:", err)
		os.Exit(1)
	}
	fmt.Println(string(h))
}
