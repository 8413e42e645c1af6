// Package report renders probe results for people and for spreadsheets.
//
// Tables go to the console through tablewriter. CSV files use a fixed column
// order with one row per result and UTC timestamps taken from the moment the
// result was observed.
package report

import (
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/scanning"
)

const (
	// NotAvailable fills CSV cells with no value.
	NotAvailable = "N/A"

	// EmptyMessage is printed instead of an empty table.
	EmptyMessage = "Nothing to display."

	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"

	outputDirPerm = 0750
)

// ErrNothingToSave is returned when asked to persist an empty result set.
var ErrNothingToSave = stderrors.New("no results to save")

// CSVColumns is the header row of every CSV file.
var CSVColumns = []string{
	"UTC Date", "UTC Time", "host", "protocol", "port",
	"name", "reason", "product", "version", "cpe", "state",
}

// PrintTable writes results as a console table. Verbose adds the reason column.
func PrintTable(w io.Writer, results []scanning.ProbeResult, verbose bool) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, EmptyMessage)
		return err
	}

	table := tablewriter.NewWriter(w)
	if verbose {
		table.Header("Host", "Port", "Protocol", "State", "Reason")
	} else {
		table.Header("Host", "Port", "Protocol", "State")
	}

	for i := range results {
		r := &results[i]
		row := []string{r.Host, strconv.Itoa(r.Port), r.Protocol, string(r.State)}
		if verbose {
			row = append(row, r.Reason)
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append row for %s: %w", r.Target(), err)
		}
	}

	return table.Render()
}

// PrintSummary writes a one-line count of results per state, plus any
// targets a cancelled scan never reached.
func PrintSummary(w io.Writer, rep *scanning.Report) error {
	if rep == nil {
		return nil
	}
	counts := rep.Counts()
	_, err := fmt.Fprintf(w, "%d results (%d open, %d closed, %d error) in %s\n",
		len(rep.Results),
		counts[scanning.StateOpen], counts[scanning.StateClosed], counts[scanning.StateError],
		rep.Duration.Round(time.Millisecond))
	if err != nil {
		return err
	}
	if n := len(rep.NotScanned); n > 0 {
		_, err = fmt.Fprintf(w, "%d targets not scanned (scan canceled)\n", n)
	}
	return err
}

// Record converts a result into a CSV row in CSVColumns order.
func Record(r *scanning.ProbeResult) []string {
	observed := r.ObservedAt.UTC()
	if r.ObservedAt.IsZero() {
		observed = time.Now().UTC()
	}

	product, version, cpe := NotAvailable, NotAvailable, NotAvailable
	if r.Service != nil {
		product = orNA(r.Service.Product)
		version = orNA(r.Service.Version)
		cpe = orNA(r.Service.CPE)
	}

	return []string{
		observed.Format(dateLayout),
		observed.Format(timeLayout),
		r.Host,
		r.Protocol,
		strconv.Itoa(r.Port),
		orNA(r.ServiceName),
		orNA(r.Reason),
		product,
		version,
		cpe,
		string(r.State),
	}
}

// WriteCSV writes the header and one row per result.
func WriteCSV(w io.Writer, results []scanning.ProbeResult) error {
	if len(results) == 0 {
		return ErrNothingToSave
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVColumns); err != nil {
		return err
	}
	for i := range results {
		if err := cw.Write(Record(&results[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes results to path. Nothing is created for an empty result set.
func SaveCSV(path string, results []scanning.ProbeResult) (err error) {
	if len(results) == 0 {
		return ErrNothingToSave
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, outputDirPerm); err != nil {
			return errors.WrapScanError(errors.CodeFileWrite, "failed to create output directory", err)
		}
	}

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return errors.WrapScanError(errors.CodeFileWrite, "failed to create output file", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.WrapScanError(errors.CodeFileWrite, "failed to close output file", cerr)
		}
	}()

	if err := WriteCSV(f, results); err != nil {
		return errors.WrapScanError(errors.CodeFileWrite, "failed to write results", err)
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}
