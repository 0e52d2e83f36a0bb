package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"shale/internal/config"
	"shale/internal/db"
)

const helpText = `commands:
  put <key> <value>       get <key>             delete <key>
  scan [start] [end]      seed <rounds>         flush | compact | stats
  inspect <file>          dump <file>           history [n]
  help | exit`

func main() {
	configPath := flag.String("config", "", "YAML config file")
	dir := flag.String("dir", "", "data directory (overrides config)")
	memtable := flag.Int("memtable", 0, "memtable flush threshold in bytes (overrides config)")
	verbose := flag.Bool("v", false, "log engine activity to stderr")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	if *dir != "" {
		cfg.BasePath = *dir
	}
	if *memtable > 0 {
		cfg.MemtableLimitBytes = *memtable
	}

	opts := cfg.DBOptions()
	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			defer logger.Sync()
			opts = append(opts, db.WithLogger(logger))
		}
	}

	engine, err := db.Open(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	fmt.Println("shale - LSM key-value store")
	fmt.Printf("config: dir=%s memtable_limit=%d levels=%d\n", cfg.BasePath, cfg.MemtableLimitBytes, cfg.SSTableLevelLimit)
	fmt.Println(helpText)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	history, err := openHistory(line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: history disabled: %v\n", err)
	} else {
		defer func() {
			if err := history.save(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to save history: %v\n", err)
			}
		}()
	}

	seedCursor := loadSeedCursor(engine)
	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintf(os.Stderr, "input error: %v\n", err)
			}
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if history != nil {
			history.add(input)
		}
		if !execute(engine, history, &seedCursor, input) {
			return
		}
	}
}

// execute runs one REPL command and reports whether the loop should go on.
func execute(engine *db.DB, history *History, seedCursor *int, input string) bool {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "put", "insert", "update":
		if len(parts) < 3 {
			fmt.Println("usage: put <key> <value>")
			return true
		}
		value := strings.Join(parts[2:], " ")
		if err := engine.Put([]byte(parts[1]), []byte(value)); err != nil {
			fmt.Printf("put error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "get":
		if len(parts) != 2 {
			fmt.Println("usage: get <key>")
			return true
		}
		value, err := engine.Get([]byte(parts[1]))
		if errors.Is(err, db.ErrNotFound) {
			fmt.Println("(not found)")
			return true
		}
		if err != nil {
			fmt.Printf("get error: %v\n", err)
			return true
		}
		fmt.Printf("%s\n", value)
	case "delete":
		if len(parts) != 2 {
			fmt.Println("usage: delete <key>")
			return true
		}
		if err := engine.Delete([]byte(parts[1])); err != nil {
			fmt.Printf("delete error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "scan":
		if len(parts) > 3 {
			fmt.Println("usage: scan [start] [end]")
			return true
		}
		var start, end []byte
		if len(parts) > 1 {
			start = []byte(parts[1])
		}
		if len(parts) > 2 {
			end = []byte(parts[2])
		}
		dumpRange(engine, start, end)
	case "seed":
		if len(parts) != 2 {
			fmt.Println("usage: seed <rounds>")
			return true
		}
		rounds, err := strconv.Atoi(parts[1])
		if err != nil || rounds < 1 {
			fmt.Println("seed: rounds must be a positive integer")
			return true
		}
		runSeed(engine, rounds, seedCursor)
	case "flush":
		if err := engine.Flush(); err != nil {
			fmt.Printf("flush error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "compact":
		if err := engine.Compact(); err != nil {
			fmt.Printf("compact error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "stats":
		printStats(engine)
	case "inspect", "dump":
		if len(parts) != 2 {
			fmt.Printf("usage: %s <file.log|file.sst|MANIFEST>\n", cmd)
			return true
		}
		dumpFile(parts[1], cmd == "dump")
	case "history":
		if history == nil {
			fmt.Println("history disabled")
			return true
		}
		n := 0
		if len(parts) == 2 {
			n, _ = strconv.Atoi(parts[1])
		}
		for i, c := range history.last(n) {
			fmt.Printf("%4d  %s\n", i+1, c)
		}
	case "help":
		fmt.Println(helpText)
	case "exit", "quit":
		return false
	default:
		fmt.Println("unknown command (try help)")
	}
	return true
}
