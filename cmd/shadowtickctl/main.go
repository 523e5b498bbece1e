// Command shadowtickctl is a read-only inspector for a shadow metadata
// file: it opens the file as a reader session and either drives a single
// end-of-tick pass (printing the resulting header/index state as JSON)
// or, with -watch, drops into an interactive REPL that re-polls on
// demand.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/shadowtick/swmr/codec"
	"github.com/shadowtick/swmr/config"
	"github.com/shadowtick/swmr/internal/mdcache"
	"github.com/shadowtick/swmr/internal/pagebuffer"
	"github.com/shadowtick/swmr/session"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "shadowtickctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("shadowtickctl", flag.ContinueOnError)
	path := fs.String("path", "", "path to the shadow metadata file")
	configPath := fs.String("config", "", "JSONC config file to load options from (overrides -path/-page-size/...)")
	pageSize := fs.Uint32("page-size", 4096, "shadow/data page size in bytes")
	mdPagesReserved := fs.Uint32("md-pages-reserved", 2, "shadow file size reserved at open, in pages")
	tickLen := fs.Duration("tick-len", 100*time.Millisecond, "tick length")
	maxLag := fs.Uint32("max-lag", 5, "reader max lag, in ticks")
	watch := fs.Bool("watch", false, "drop into an interactive REPL instead of printing once and exiting")

	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := session.Options{
		Path:            *path,
		Writer:          false,
		PageSize:        *pageSize,
		MDPagesReserved: *mdPagesReserved,
		TickLen:         *tickLen,
		MaxLag:          *maxLag,
	}

	if *configPath != "" {
		fileOpts, err := config.LoadFile(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		fileOpts.Writer = false
		opts = fileOpts
	}

	if opts.Path == "" {
		return fmt.Errorf("-path (or -config with a \"path\" entry) is required")
	}

	s, err := session.Open(opts, session.Collaborators{
		ReaderPageBuffer: pagebuffer.New(),
		MetadataCache:    mdcache.New(),
	})
	if err != nil {
		return fmt.Errorf("open reader session: %w", err)
	}
	defer func() { _ = s.Close() }()

	if *watch {
		return runWatch(s, opts.Path)
	}

	return tickAndPrint(s, opts.Path, os.Stdout)
}

// tickAndPrint drives one reader end-of-tick pass and prints the
// resulting header/index state as JSON to w.
func tickAndPrint(s *session.Session, path string, w io.Writer) error {
	tickBefore, _, err := s.Inspect()
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	if err := s.EndOfTick(); err != nil {
		return fmt.Errorf("reader end-of-tick: %w", err)
	}

	tick, entries, err := s.Inspect()
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	out := report{
		Path:       path,
		TickBefore: tickBefore,
		Tick:       tick,
		Entries:    entries,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

// runWatch drops into an interactive REPL that lets an operator
// repeatedly poll the shadow file on demand instead of once per process
// invocation: "tick"
// drives one reader end-of-tick pass and prints the result, "info"
// prints the current state without polling, "quit"/"exit" leaves the
// REPL.
func runWatch(s *session.Session, path string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(partial string) []string {
		var out []string

		for _, cmd := range []string{"tick", "info", "help", "quit", "exit"} {
			if strings.HasPrefix(cmd, partial) {
				out = append(out, cmd)
			}
		}

		return out
	})

	fmt.Printf("shadowtickctl watch: %s (type \"help\" for commands)\n", path)

	for {
		input, err := line.Prompt("shadowtick> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}

			return fmt.Errorf("watch: read command: %w", err)
		}

		cmd := strings.TrimSpace(input)
		if cmd == "" {
			continue
		}

		line.AppendHistory(input)

		switch cmd {
		case "quit", "exit", "q":
			return nil
		case "help":
			fmt.Println("commands: tick, info, help, quit")
		case "tick":
			if err := tickAndPrint(s, path, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "shadowtickctl: %v\n", err)
			}
		case "info":
			tick, entries, err := s.Inspect()
			if err != nil {
				fmt.Fprintf(os.Stderr, "shadowtickctl: %v\n", err)

				continue
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(report{Path: path, Tick: tick, TickBefore: tick, Entries: entries})
		default:
			fmt.Printf("unknown command %q; type \"help\"\n", cmd)
		}
	}
}

// report is the JSON shape printed to stdout: the reader's locally
// adopted tick before and after the single end-of-tick pass this run
// drove, and its full current index.
type report struct {
	Path       string        `json:"path"`
	TickBefore uint64        `json:"tick_before"`
	Tick       uint64        `json:"tick"`
	Entries    []codec.Entry `json:"entries"`
}
