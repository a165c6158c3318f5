package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/dealmesh"
	"github.com/hupe1980/dealmesh/aggregate"
	"github.com/hupe1980/dealmesh/config"
	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/engine"
)

var (
	analyzeCars        string
	analyzeText        string
	analyzeFormat      string
	analyzeOut         string
	analyzeMetricsAddr string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a batch of cars",
	Long: `Analyze reads cars from a YAML or JSON file (--cars) or extracts them from
a free text listing (--text) and prints the batch report. --text takes a file
path, "-" for stdin, or the listing itself.`,
	Example: `  dealmesh analyze --cars cars.yaml
  dealmesh analyze --text listing.txt --format json
  dealmesh analyze --cars cars.yaml --out reports/fleet/ --metrics-addr :9090`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCars, "cars", "", "YAML or JSON file with the cars to analyze")
	analyzeCmd.Flags().StringVar(&analyzeText, "text", "", `listing file, "-" for stdin, or the listing text`)
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "markdown", "output format (markdown, json)")
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "artifact key prefix (overrides artifact.prefix)")
	analyzeCmd.Flags().StringVar(&analyzeMetricsAddr, "metrics-addr", "", "serve /metrics on this address while the batch runs")
	analyzeCmd.MarkFlagsMutuallyExclusive("cars", "text")
	analyzeCmd.MarkFlagsOneRequired("cars", "text")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	if analyzeFormat != "markdown" && analyzeFormat != "json" {
		return fmt.Errorf("unsupported format %q", analyzeFormat)
	}

	var cars []core.Car
	if analyzeCars != "" {
		var err error
		if cars, err = readCars(analyzeCars); err != nil {
			return err
		}
	}
	text, err := readText(cmd.InOrStdin(), analyzeText)
	if err != nil {
		return err
	}

	if analyzeOut != "" {
		prefixOverride = analyzeOut
	}

	return withMesh(cmd, func(ctx context.Context, d *dealmesh.DealMesh, _ *config.Config) error {
		if analyzeMetricsAddr != "" {
			stop := serveMetrics(analyzeMetricsAddr)
			defer stop()
		}

		var res *engine.Result
		if cars != nil {
			res, err = d.Analyze(ctx, cars)
		} else {
			res, err = d.AnalyzeText(ctx, text)
		}
		if err != nil {
			return err
		}

		out, err := renderReport(res.Report, analyzeFormat)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		for _, loc := range res.Artifacts {
			fmt.Fprintf(cmd.ErrOrStderr(), "saved %s\n", loc)
		}
		return nil
	})
}

func renderReport(r aggregate.Report, format string) (string, error) {
	if format == "json" {
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b) + "\n", nil
	}
	return aggregate.Markdown(r)
}

type carsFile struct {
	Cars []core.Car `yaml:"cars"`
}

// readCars accepts a top-level list of cars or a mapping with a cars key.
// JSON input is valid YAML.
func readCars(path string) ([]core.Car, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cars: %w", err)
	}

	var cars []core.Car
	if err := yaml.Unmarshal(data, &cars); err != nil {
		var f carsFile
		if ferr := yaml.Unmarshal(data, &f); ferr != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cars = f.Cars
	}
	if len(cars) == 0 {
		return nil, fmt.Errorf("%s: %w", path, engine.ErrNoCars)
	}

	var errs []error
	for i := range cars {
		if err := cars[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("car %d: %w", i, err))
		}
		cars[i].Index = i
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cars, nil
}

// readText resolves a --text value: "-" reads stdin, an existing file is
// read, anything else is the listing itself.
func readText(stdin io.Reader, text string) (string, error) {
	switch {
	case text == "":
		return "", nil
	case text == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	if fi, err := os.Stat(text); err == nil && fi.Mode().IsRegular() {
		b, err := os.ReadFile(text)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", text, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return text, nil
}

// serveMetrics exposes the default registry until the returned func is called.
func serveMetrics(addr string) func() {
	srv := &http.Server{Addr: addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
