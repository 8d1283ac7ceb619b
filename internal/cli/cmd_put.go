package cli

import (
	"context"
	"errors"

	"github.com/calvinalkan/tdb/internal/config"

	flag "github.com/spf13/pflag"
)

var errKeyValueRequired = errors.New("key and value required")

// PutCmd returns the put command.
func PutCmd(dir string, cfg config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("put", flag.ContinueOnError),
		Usage: "put <key> <value>",
		Short: "Insert or update a key",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execPut(o, dir, cfg, args)
		},
	}
}

func execPut(o *IO, dir string, cfg config.Config, args []string) error {
	if len(args) < 2 {
		return errKeyValueRequired
	}

	db, err := openStore(dir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	w := db.Writer()

	if err := w.Insert([]byte(args[0]), []byte(args[1])); err != nil {
		w.Rollback()
		return err
	}

	if err := w.Commit(); err != nil {
		return err
	}

	o.Println("OK")

	return nil
}
