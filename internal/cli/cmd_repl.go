package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/tdb"
	"github.com/calvinalkan/tdb/internal/config"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

// ReplCmd returns the interactive REPL command.
func ReplCmd(dir string, cfg config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("repl", flag.ContinueOnError),
		Usage: "repl",
		Short: "Interactive get/put/del/range session",
		Long:  "Open the database once and accept get/put/del/range/stats commands until exit.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execRepl(o, dir, cfg)
		},
	}
}

var replCommands = []string{"get", "put", "del", "range", "stats", "help", "exit", "quit"}

func replCompleter(line string) []string {
	var completions []string
	lower := strings.ToLower(line)
	for _, c := range replCommands {
		if strings.HasPrefix(c, lower) {
			completions = append(completions, c)
		}
	}
	return completions
}

func replHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".tdb_history")
}

func execRepl(o *IO, dir string, cfg config.Config) error {
	db, err := openStore(dir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(replCompleter)

	if f, err := os.Open(replHistoryFile()); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	o.Println("tdb repl - type 'help' for commands, 'exit' to quit")

	for {
		input, err := line.Prompt("tdb> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		fields := strings.Fields(input)
		name, rest := strings.ToLower(fields[0]), fields[1:]

		if name == "exit" || name == "quit" {
			break
		}

		replDispatch(o, db, name, rest)
	}

	if f, err := os.Create(replHistoryFile()); err == nil {
		_, _ = line.WriteHistory(f)
		_ = f.Close()
	}

	return nil
}

func replDispatch(o *IO, db *tdb.Store, name string, args []string) {
	switch name {
	case "help":
		o.Println("commands: get <key> | put <key> <value> | del <key> | range [start] [end] | stats | exit")
	case "get":
		replGet(o, db, args)
	case "put":
		replPut(o, db, args)
	case "del":
		replDel(o, db, args)
	case "range":
		replRange(o, db, args)
	case "stats":
		replStats(o, db)
	default:
		o.Println("unknown command:", name, "(type 'help')")
	}
}

func replGet(o *IO, db *tdb.Store, args []string) {
	if len(args) == 0 {
		o.Println("usage: get <key>")
		return
	}

	r := db.Reader()
	defer r.Close()

	val, found, err := r.Get([]byte(args[0]))
	if err != nil {
		o.Println("error:", err)
		return
	}
	if !found {
		o.Println("(not found)")
		return
	}

	o.Println(string(val))
}

func replPut(o *IO, db *tdb.Store, args []string) {
	if len(args) < 2 {
		o.Println("usage: put <key> <value>")
		return
	}

	w := db.Writer()

	if err := w.Insert([]byte(args[0]), []byte(args[1])); err != nil {
		w.Rollback()
		o.Println("error:", err)
		return
	}

	if err := w.Commit(); err != nil {
		o.Println("error:", err)
		return
	}

	o.Println("OK")
}

func replDel(o *IO, db *tdb.Store, args []string) {
	if len(args) == 0 {
		o.Println("usage: del <key>")
		return
	}

	w := db.Writer()

	_, found, err := w.Remove([]byte(args[0]))
	if err != nil {
		w.Rollback()
		o.Println("error:", err)
		return
	}

	if err := w.Commit(); err != nil {
		o.Println("error:", err)
		return
	}

	if !found {
		o.Println("(did not exist)")
		return
	}

	o.Println("OK")
}

func replRange(o *IO, db *tdb.Store, args []string) {
	var start, end []byte
	if len(args) > 0 {
		start = []byte(args[0])
	}
	if len(args) > 1 {
		end = []byte(args[1])
	}

	r := db.Reader()
	defer r.Close()

	it := r.Range(start, end)

	n := 0
	for {
		k, v, found, err := it.Next()
		if err != nil {
			o.Println("error:", err)
			return
		}
		if !found {
			break
		}

		o.Printf("%s\t%s\n", k, v)
		n++
	}

	if n == 0 {
		o.Println("(empty)")
	}
}

func replStats(o *IO, db *tdb.Store) {
	s := db.Stats()
	o.Printf("ts=%d root_oid=%d data_size=%d data_removed_size=%d table_page_nums=%d\n",
		s.Ts, s.RootOid, s.DataSize, s.DataRemovedSize, s.TablePageNums)
}
