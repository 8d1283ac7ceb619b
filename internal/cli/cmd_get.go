package cli

import (
	"context"
	"errors"

	"github.com/calvinalkan/tdb/internal/config"

	flag "github.com/spf13/pflag"
)

var errKeyRequired = errors.New("key required")

// GetCmd returns the get command.
func GetCmd(dir string, cfg config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("get", flag.ContinueOnError),
		Usage: "get <key>",
		Short: "Look up a key",
		Long:  "Print the value stored for key, or report it as not found.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execGet(o, dir, cfg, args)
		},
	}
}

func execGet(o *IO, dir string, cfg config.Config, args []string) error {
	if len(args) == 0 {
		return errKeyRequired
	}

	db, err := openStore(dir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	r := db.Reader()
	defer r.Close()

	val, found, err := r.Get([]byte(args[0]))
	if err != nil {
		return err
	}
	if !found {
		o.Warn("key not found: " + args[0])
		return nil
	}

	o.Println(string(val))

	return nil
}
