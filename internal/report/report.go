// Package report renders a model.LaunchReport and publishes it.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"

	"gopkg.in/yaml.v3"
)

// Marshal renders the report in the given format.
func Marshal(r model.LaunchReport, format string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, r, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes the report to w in the given format.
func Encode(w io.Writer, r model.LaunchReport, format string) error {
	switch format {
	case model.FormatText, "":
		return encodeText(w, r)
	case model.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case model.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// Ext is the file extension used for the format.
func Ext(format string) string {
	switch format {
	case model.FormatJSON:
		return "json"
	case model.FormatYAML:
		return "yaml"
	default:
		return "txt"
	}
}

func encodeText(w io.Writer, r model.LaunchReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SCAN\tSTATUS\tATTEMPTS\tSCAN UUID\tERROR")
	for _, res := range r.Results {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n",
			res.ScanID,
			res.Status,
			res.Attempts,
			dash(res.ScanUUID),
			dash(res.LastError),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nrun %s: %d launched, %d failed, %d total\n",
		r.RunID, r.Summary.Launched, r.Summary.Failed, r.Summary.Total)
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
