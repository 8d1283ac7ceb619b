package cli

import (
	"context"

	"github.com/calvinalkan/tdb/internal/config"

	flag "github.com/spf13/pflag"
)

// DelCmd returns the del command.
func DelCmd(dir string, cfg config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("del", flag.ContinueOnError),
		Usage: "del <key>",
		Short: "Remove a key",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execDel(o, dir, cfg, args)
		},
	}
}

func execDel(o *IO, dir string, cfg config.Config, args []string) error {
	if len(args) == 0 {
		return errKeyRequired
	}

	db, err := openStore(dir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	w := db.Writer()

	_, found, err := w.Remove([]byte(args[0]))
	if err != nil {
		w.Rollback()
		return err
	}

	if err := w.Commit(); err != nil {
		return err
	}

	if !found {
		o.Warn("key not found: " + args[0])
		return nil
	}

	o.Println("OK")

	return nil
}
