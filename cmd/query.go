package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/movielake/internal/query"
)

var (
	queryList  int
	queryKey   string
	queryTitle string
	queryYear  int64
	queryPath  string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the finalized gold dataset",
	Long:  "Looks up movies in the latest gold CSV by movie key, exact title and year, or case-insensitive title substring.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := queryPath
		if path == "" {
			var err error
			path, err = query.FindLatestGold(cfg.GoldDir())
			if err != nil {
				return err
			}
		}

		ds, err := query.Load(path)
		if err != nil {
			return err
		}

		switch {
		case queryList > 0:
			printRows(os.Stdout, ds.Columns, ds.Head(queryList))
			return nil

		case queryKey != "":
			rows := ds.ByKey(queryKey)
			if len(rows) == 0 {
				return eris.Errorf("no match for movie_key %s", queryKey)
			}
			printRows(os.Stdout, ds.Columns, rows)
			return nil

		case queryTitle != "":
			var rows []query.Row
			if cmd.Flags().Changed("year") {
				rows = ds.ByTitleYear(queryTitle, queryYear)
			} else {
				rows = ds.FindTitle(queryTitle)
			}
			if len(rows) == 0 {
				return eris.Errorf("no matches for title %q", queryTitle)
			}
			printRows(os.Stdout, ds.Columns, rows)
			return nil

		default:
			return eris.New("no query specified; try --list 10, --key <id>, or --title 'Inception' --year 2010")
		}
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryList, "list", 0, "print the first N rows")
	queryCmd.Flags().StringVar(&queryKey, "key", "", "look up by movie_key")
	queryCmd.Flags().StringVar(&queryTitle, "title", "", "look up by title (substring unless --year is given)")
	queryCmd.Flags().Int64Var(&queryYear, "year", 0, "restrict the title lookup to an exact year")
	queryCmd.Flags().StringVar(&queryPath, "path", "", "query a specific gold CSV instead of the latest")
	rootCmd.AddCommand(queryCmd)
}

// printRows writes rows as an aligned table in dataset column order.
func printRows(out io.Writer, columns []string, rows []query.Row) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	for i, c := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, c)
	}
	_, _ = fmt.Fprintln(w)

	for _, row := range rows {
		for i, c := range columns {
			if i > 0 {
				_, _ = fmt.Fprint(w, "\t")
			}
			_, _ = fmt.Fprint(w, row[c])
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
}
