package cli

import (
	"context"

	"github.com/calvinalkan/tdb/internal/config"

	flag "github.com/spf13/pflag"
)

// RangeCmd returns the range command.
func RangeCmd(dir string, cfg config.Config) *Command {
	fs := flag.NewFlagSet("range", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "stop after printing this many pairs (0 = unbounded)")

	return &Command{
		Flags: fs,
		Usage: "range [--limit N] [start] [end]",
		Short: "Scan keys in [start, end)",
		Long:  "Print every key/value pair in [start, end) in ascending key order. Omit start/end for an unbounded scan.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execRange(o, dir, cfg, *limit, args)
		},
	}
}

func execRange(o *IO, dir string, cfg config.Config, limit int, args []string) error {
	var start, end []byte
	if len(args) > 0 {
		start = []byte(args[0])
	}
	if len(args) > 1 {
		end = []byte(args[1])
	}

	db, err := openStore(dir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	r := db.Reader()
	defer r.Close()

	it := r.Range(start, end)

	n := 0
	for {
		k, v, found, err := it.Next()
		if err != nil {
			return err
		}
		if !found {
			break
		}

		o.Printf("%s\t%s\n", k, v)

		n++
		if limit > 0 && n >= limit {
			break
		}
	}

	return nil
}
