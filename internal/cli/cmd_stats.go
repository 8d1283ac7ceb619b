package cli

import (
	"context"

	"github.com/calvinalkan/tdb/internal/config"

	flag "github.com/spf13/pflag"
)

// StatsCmd returns the stats command.
func StatsCmd(dir string, cfg config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage: "stats",
		Short: "Show data/meta-table accounting",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execStats(o, dir, cfg)
		},
	}
}

func execStats(o *IO, dir string, cfg config.Config) error {
	db, err := openStore(dir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	s := db.Stats()

	o.Printf("ts=%d\n", s.Ts)
	o.Printf("root_oid=%d\n", s.RootOid)
	o.Printf("data_size=%d\n", s.DataSize)
	o.Printf("data_removed_size=%d\n", s.DataRemovedSize)
	o.Printf("table_page_nums=%d\n", s.TablePageNums)

	return nil
}
