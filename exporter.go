package gondt

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

// Exporter defines an export interface for alignment estimates.
type Exporter interface {
	Write(Estimate) error
	Close() error
}

// CSVExporter writes estimates to a CSV file, one line per estimate with 2σ
// bounds from the covariance diagonal next to each pose component.
type CSVExporter struct {
	delimiter string
	hdlr      *os.File
}

// Close closes the file.
func (e CSVExporter) Close() (err error) {
	err = e.WriteRawLn(fmt.Sprintf("# Closing date (UTC): %s", time.Now().UTC()))
	if err != nil {
		return
	}
	return e.hdlr.Close()
}

// Write writes the estimate to the CSV file.
func (e CSVExporter) Write(est Estimate) error {
	vals := make([]string, 0, 11)
	for i := 0; i < 3; i++ {
		vals = append(vals, fmt.Sprintf("%f", est.Pose().AtVec(i)))
		bound := 2 * math.Sqrt(math.Abs(est.Covariance().At(i, i)))
		vals = append(vals, fmt.Sprintf("%f", bound), fmt.Sprintf("%f", -bound))
	}
	vals = append(vals, fmt.Sprintf("%f", est.Probability()), fmt.Sprintf("%v", est.Converged()))
	_, err := e.hdlr.WriteString(strings.Join(vals, e.delimiter) + "\n")
	return err
}

// WriteRawLn writes a raw line to the CSV file.
func (e CSVExporter) WriteRawLn(s string) error {
	_, err := e.hdlr.WriteString(s + "\n")
	return err
}

// NewCSVExporter initializes a new CSV export with a header built from the
// pose component names.
func NewCSVExporter(headers []string, filepath, filename string) (e *CSVExporter, err error) {
	f, err := os.Create(fmt.Sprintf("%s/%s", filepath, filename))
	if err != nil {
		return
	}
	delimiter := ","
	hdr := make([]string, 0, len(headers)*3+2)
	for _, h := range headers {
		hdr = append(hdr, h, h+"+2s", h+"-2s")
	}
	hdr = append(hdr, "probability", "converged")
	_, err = f.WriteString(fmt.Sprintf("# Creation date (UTC): %s\n%s\n", time.Now().UTC(), strings.Join(hdr, delimiter)))
	if err != nil {
		return
	}
	e = &CSVExporter{delimiter, f}
	return
}
