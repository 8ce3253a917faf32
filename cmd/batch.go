package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geolookup/internal/lookup"
	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/resilience"
)

var (
	batchCSV    string
	batchOutput string
	batchLimit  int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve a CSV of company,site rows",
	Long: `Reads company,site rows from a CSV file and writes one JSON line per row
in input order. A header row starting with "company" is skipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(batchCSV)
		if err != nil {
			return eris.Wrap(err, "batch: open csv")
		}
		defer f.Close() //nolint:errcheck

		env, err := initEngine(ctx, cfg, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		out := io.Writer(os.Stdout)
		if batchOutput != "" {
			of, err := os.Create(batchOutput)
			if err != nil {
				return eris.Wrap(err, "batch: create output")
			}
			defer of.Close() //nolint:errcheck
			out = of
		}

		var readErr error
		reqs := readRequests(f, batchLimit, &readErr)
		succeeded, failed, err := writeResults(out, env.Service.BatchResolve(ctx, reqs))
		if err != nil {
			return err
		}
		if readErr != nil {
			return eris.Wrap(readErr, "batch: read csv")
		}

		zap.L().Info("batch complete",
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed),
		)
		return nil
	},
}

// readRequests streams company,site rows from r. Reading stops after limit
// rows when limit > 0. A malformed row ends the stream and is reported
// through errp.
func readRequests(r io.Reader, limit int, errp *error) iter.Seq[lookup.Request] {
	return func(yield func(lookup.Request) bool) {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true

		n := 0
		for first := true; ; first = false {
			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				*errp = err
				return
			}
			if len(row) == 0 {
				continue
			}
			if first && strings.EqualFold(strings.TrimSpace(row[0]), "company") {
				continue
			}

			req := lookup.Request{Company: strings.TrimSpace(row[0])}
			if len(row) > 1 {
				req.Site = strings.TrimSpace(row[1])
			}
			if !yield(req) {
				return
			}
			n++
			if limit > 0 && n >= limit {
				return
			}
		}
	}
}

// batchLine is the JSON form of one batch result.
type batchLine struct {
	Index   int                  `json:"index"`
	Company string               `json:"company"`
	Site    string               `json:"site,omitempty"`
	Record  *model.AddressRecord `json:"record,omitempty"`
	Error   string               `json:"error,omitempty"`
	Class   resilience.Class     `json:"class,omitempty"`
}

func toBatchLine(res lookup.BatchResult) batchLine {
	line := batchLine{
		Index:   res.Index,
		Company: res.Request.Company,
		Site:    res.Request.Site,
		Record:  res.Record,
		Class:   res.Class,
	}
	if res.Err != nil {
		line.Error = res.Err.Error()
	}
	return line
}

// writeResults writes results as JSON lines and counts outcomes.
func writeResults(w io.Writer, results iter.Seq[lookup.BatchResult]) (succeeded, failed int, err error) {
	enc := json.NewEncoder(w)
	for res := range results {
		if res.Err != nil {
			failed++
			zap.L().Warn("batch item failed",
				zap.Int("index", res.Index),
				zap.String("company", res.Request.Company),
				zap.String("class", string(res.Class)),
				zap.Error(res.Err),
			)
		} else {
			succeeded++
		}
		if err := enc.Encode(toBatchLine(res)); err != nil {
			return succeeded, failed, eris.Wrap(err, "batch: write result")
		}
	}
	return succeeded, failed, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchCSV, "csv", "", "input CSV with company,site rows (required)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "write JSON lines to file instead of stdout")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max rows to resolve (0 = all)")
	_ = batchCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(batchCmd)
}
