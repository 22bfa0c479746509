package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/getmockd/nettap/pkg/cli/internal/output"
	"github.com/getmockd/nettap/pkg/exchange"
	"github.com/getmockd/nettap/pkg/exchangelog"
	"github.com/getmockd/nettap/pkg/nettap"
	"github.com/spf13/cobra"
	"golang.org/x/net/publicsuffix"
)

var (
	fetchMethod       string
	fetchData         string
	fetchHeaders      []string
	fetchIgnore       []string
	fetchHAR          string
	fetchMetrics      string
	fetchConcurrency  int
	fetchRepeat       int
	fetchTimeout      time.Duration
	fetchMaxBodyBytes int64
	fetchState        string
	fetchKind         string
)

// fetchResult is one row of the fetch summary.
type fetchResult struct {
	ID         string `json:"id"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	State      string `json:"state"`
	StatusCode int    `json:"status,omitempty"`
	Kind       string `json:"kind"`
	Size       int64  `json:"size"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [flags] URL [URL...]",
	Short: "Send requests through a capturing client and summarize the traffic",
	Long: `Fetch sends each URL through an http.Client instrumented by nettap, then prints
one line per captured exchange. Requests run concurrently; cookies set by a
response are sent on later requests to the same site.

Use --har to save the session as a HAR 1.2 file and --metrics to save the
capture metrics. Either one accepts "-" to write to stdout instead of the
summary.`,
	Example: `  # Capture a single GET
  nettap fetch https://example.com/

  # POST a JSON body twice and save the traffic
  nettap fetch -X POST -H 'Content-Type: application/json' -d '{"a":1}' -n 2 --har out.har https://httpbin.org/post

  # Skip telemetry endpoints
  nettap fetch --ignore analytics. https://example.com/ https://analytics.example.com/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVarP(&fetchMethod, "method", "X", http.MethodGet, "HTTP method")
	fetchCmd.Flags().StringVarP(&fetchData, "data", "d", "", "Request body (@file reads it from a file)")
	fetchCmd.Flags().StringArrayVarP(&fetchHeaders, "header", "H", nil, "Request header as 'Name: value' (repeatable)")
	fetchCmd.Flags().StringArrayVar(&fetchIgnore, "ignore", nil, "Do not capture URLs containing this pattern (repeatable)")
	fetchCmd.Flags().StringVar(&fetchHAR, "har", "", "Write the captured session as HAR to this file")
	fetchCmd.Flags().StringVar(&fetchMetrics, "metrics", "", "Write capture metrics in Prometheus text format to this file")
	fetchCmd.Flags().IntVarP(&fetchConcurrency, "concurrency", "c", 4, "Number of requests in flight")
	fetchCmd.Flags().IntVarP(&fetchRepeat, "repeat", "n", 1, "Send each URL this many times")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 30*time.Second, "Per-request timeout (0 disables)")
	fetchCmd.Flags().Int64Var(&fetchMaxBodyBytes, "max-body-bytes", 0, "Bytes of each body to keep (default from config)")
	fetchCmd.Flags().StringVar(&fetchState, "state", "", "Only list exchanges in this state (complete, failed)")
	fetchCmd.Flags().StringVar(&fetchKind, "kind", "", "Only list exchanges of this kind (json, xml, html, image, text, other)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	if fetchConcurrency < 1 {
		return errors.New("--concurrency must be at least 1")
	}
	if fetchRepeat < 1 {
		return errors.New("--repeat must be at least 1")
	}
	if fetchHAR == "-" && fetchMetrics == "-" {
		return errors.New("--har and --metrics cannot both write to stdout")
	}
	filter, err := summaryFilter()
	if err != nil {
		return err
	}
	header, err := parseHeaders(fetchHeaders)
	if err != nil {
		return err
	}
	body, err := requestBody(fetchData)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-body-bytes") {
		cfg.MaxBodyBytes = fetchMaxBodyBytes
	}
	cfg.Ignore = append(cfg.Ignore, fetchIgnore...)

	logger, closeLog, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	sink, err := newSink(cfg, logger)
	if err != nil {
		return err
	}

	ctrl, err := nettap.New(nettap.Options{
		Sink:    sink,
		Config:  &cfg,
		Logger:  logger,
		Version: Version,
	})
	if err != nil {
		return err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Timeout: fetchTimeout}
	ctrl.Attach(client)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	sent, failed := sendAll(ctx, client, args, header, body)

	// The session is cleared on stop, so everything is reported first.
	reportErr := report(cmd.OutOrStdout(), ctrl, filter)
	if err := ctrl.Stop(context.WithoutCancel(ctx)); err != nil && reportErr == nil {
		reportErr = err
	}
	if reportErr != nil {
		return reportErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, sent)
	}
	return nil
}

func report(w io.Writer, ctrl *nettap.Controller, filter *exchangelog.Filter) error {
	if fetchMetrics != "" {
		if err := writeFile(w, fetchMetrics, ctrl.Metrics().WriteText); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	if fetchHAR != "" {
		if err := writeFile(w, fetchHAR, ctrl.Export); err != nil {
			return fmt.Errorf("HAR: %w", err)
		}
	}
	if fetchHAR == "-" || fetchMetrics == "-" {
		return nil
	}
	return printSummary(w, ctrl.Store().List(filter))
}

// sendAll issues every URL fetchRepeat times over fetchConcurrency workers
// and returns how many requests were sent and how many failed at the
// transport level.
func sendAll(ctx context.Context, client *http.Client, urls []string, header http.Header, body []byte) (sent, failed int) {
	jobs := make(chan string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for range min(fetchConcurrency, len(urls)*fetchRepeat) {
		wg.Go(func() {
			for u := range jobs {
				err := send(ctx, client, u, header, body)
				mu.Lock()
				sent++
				if err != nil {
					failed++
				}
				mu.Unlock()
			}
		})
	}

feed:
	for range fetchRepeat {
		for _, u := range urls {
			select {
			case jobs <- u:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(jobs)
	wg.Wait()
	return sent, failed
}

func send(ctx context.Context, client *http.Client, url string, header http.Header, body []byte) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, fetchMethod, url, r)
	if err != nil {
		return err
	}
	req.Header = header.Clone()

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

func printSummary(w io.Writer, exchanges []exchange.Exchange) error {
	results := make([]fetchResult, 0, len(exchanges))
	for i := range exchanges {
		results = append(results, newFetchResult(&exchanges[i]))
	}

	if jsonOutput {
		return output.JSON(w, results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No exchanges captured")
		return nil
	}
	tw := output.Table(w)
	fmt.Fprintln(tw, "ID\tMETHOD\tSTATUS\tKIND\tSIZE\tTIME\tSTATE\tURL")
	for _, r := range results {
		status := "-"
		if r.StatusCode != 0 {
			status = fmt.Sprintf("%d", r.StatusCode)
		}
		size := output.Bytes(r.Size)
		if r.Truncated {
			size += "+"
		}
		state := r.State
		if r.Error != "" {
			state += " (" + r.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\t%s\n",
			r.ID, r.Method, status, r.Kind, size, r.DurationMs, state, r.URL)
	}
	return tw.Flush()
}

func newFetchResult(ex *exchange.Exchange) fetchResult {
	r := fetchResult{
		ID:         ex.ID,
		Method:     ex.Request.Method,
		URL:        ex.Request.URL,
		State:      string(ex.State),
		Kind:       string(ex.Kind()),
		DurationMs: ex.Duration.Milliseconds(),
	}
	if ex.Response != nil {
		r.StatusCode = ex.Response.StatusCode
		if b := ex.Response.Body; b != nil {
			r.Size = b.Size
			r.Truncated = b.Truncated
		}
	}
	if ex.Err != nil {
		r.Error = string(ex.Err.Code)
	}
	return r
}

// writeFile runs write against path, or against stdout when path is "-".
func writeFile(stdout io.Writer, path string, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func summaryFilter() (*exchangelog.Filter, error) {
	f := &exchangelog.Filter{}
	if fetchState != "" {
		s := exchange.State(strings.ToLower(fetchState))
		if !s.IsValid() {
			return nil, fmt.Errorf("invalid --state %q", fetchState)
		}
		f.State = s
	}
	if fetchKind != "" {
		k := exchange.Kind(strings.ToLower(fetchKind))
		if !slices.Contains(exchange.Kinds, k) {
			return nil, fmt.Errorf("invalid --kind %q", fetchKind)
		}
		f.Kind = k
	}
	return f, nil
}

// parseHeaders parses curl-style "Name: value" header flags.
func parseHeaders(values []string) (http.Header, error) {
	h := make(http.Header, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: expected 'Name: value'", v)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func requestBody(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	if path, ok := strings.CutPrefix(data, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return b, nil
	}
	return []byte(data), nil
}
