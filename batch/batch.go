// Package batch drives the core rewrite pipeline over a list of archive
// captures concurrently: fetch the raw capture, rewrite it, write it to
// an output directory. It is a convenience caller, not a replacement for
// a production replay server.
package batch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/panjf2000/ants/v2"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/webarchive-tools/wbrewrite/cdx"
	"github.com/webarchive-tools/wbrewrite/files"
	"github.com/webarchive-tools/wbrewrite/rewrite"
	"github.com/webarchive-tools/wbrewrite/wburl"
)

// Options configures a Run.
type Options struct {
	// OutDir is the output directory files.Write places rewritten
	// documents under.
	OutDir string
	// Prefix is the archive mount path, e.g. "/web/".
	Prefix string
	// HeadInsert is emitted into each rewritten document's <head>.
	HeadInsert string
	// Concurrency bounds the number of captures fetched and rewritten
	// at once. Defaults to 4 if <= 0.
	Concurrency int
	// RequestsPerSecond throttles outbound capture fetches. Defaults to
	// 2 if <= 0.
	RequestsPerSecond float64
	// HTTPClient performs the capture fetches. Defaults to a client
	// with a 60s timeout.
	HTTPClient *http.Client
	// ArchiveBaseURL is the raw-capture endpoint captures are fetched
	// from, e.g. "https://web.archive.org/web/". Each capture is
	// requested at ArchiveBaseURL + timestamp + "id_/" + original URL,
	// the "id_" modifier asking the upstream archive for the
	// unmodified capture body.
	ArchiveBaseURL string
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 2
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if o.ArchiveBaseURL == "" {
		o.ArchiveBaseURL = "https://web.archive.org/web/"
	}
}

// Result summarizes one Run.
type Result struct {
	Succeeded int
	Failed    int
	Errors    []error
}

// Run fetches, rewrites and writes every entry in captures, fanning the
// work out across opts.Concurrency workers via an ants.Pool, throttled
// by a shared rate.Limiter. Each worker owns its own rewrite.Rewriter /
// wburl.Rewriter pair, matching the core pipeline's "never shared across
// concurrent invocations" contract — the limiter, pool, progress bar and
// result tallies are the only shared state.
func Run(ctx context.Context, captures []cdx.Entry, opts Options) Result {
	opts.setDefaults()
	limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	bar := progressbar.NewOptions(len(captures),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetDescription("[green]rewriting captures[reset]"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = os.Stderr.WriteString("\n")
		}),
	)

	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return Result{Failed: len(captures), Errors: []error{fmt.Errorf("batch: create pool: %w", err)}}
	}
	defer pool.Release()

	// eg's WaitGroup-equivalent Go/Wait pairs with the ants pool: ants
	// bounds how many captures run at once, eg waits for all of them. The
	// first-error result of eg.Wait is not used: every failure is collected
	// into errs for the caller's Result.
	var (
		eg        errgroup.Group
		succeeded int64
		mu        sync.Mutex
		errs      []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, entry := range captures {
		entry := entry
		eg.Go(func() error {
			done := make(chan error, 1)
			if submitErr := pool.Submit(func() {
				defer func() { _ = bar.Add(1) }()
				if err := limiter.Wait(ctx); err != nil {
					done <- err
					return
				}
				done <- processCapture(ctx, opts, entry)
			}); submitErr != nil {
				_ = bar.Add(1)
				err := fmt.Errorf("batch: submit %s: %w", entry.OriginalURL, submitErr)
				record(err)
				return err
			}
			if err := <-done; err != nil {
				err = fmt.Errorf("%s @ %s: %w", entry.OriginalURL, entry.Timestamp, err)
				record(err)
				return err
			}
			atomic.AddInt64(&succeeded, 1)
			return nil
		})
	}
	_ = eg.Wait()
	_ = bar.Finish()

	res := Result{Succeeded: int(succeeded), Failed: len(errs), Errors: errs}
	summary := "[green]%d rewritten[reset], [red]%d failed[reset]\n"
	_, _ = colorstring.Fprintf(os.Stderr, summary, res.Succeeded, res.Failed)
	for _, e := range errs {
		log.Printf("batch: %v", e)
	}
	return res
}

func processCapture(ctx context.Context, opts Options, entry cdx.Entry) error {
	fetchURL := opts.ArchiveBaseURL + entry.Timestamp + "id_/" + entry.OriginalURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", fetchURL, resp.StatusCode)
	}

	wb, err := wburl.Parse(entry.Timestamp + "/" + entry.OriginalURL)
	if err != nil {
		return fmt.Errorf("parse wburl: %w", err)
	}
	urlRewriter := wburl.NewRewriter(opts.Prefix, wb)

	pr, pw := io.Pipe()
	rewriter := rewrite.New(rewrite.Options{
		URLRewriter: urlRewriter.Rewrite,
		BaseSetter:  urlRewriter.SetBaseURL,
		HeadInsert:  opts.HeadInsert,
		Output:      pw,
	})

	var copyErr error
	go func() {
		_, copyErr = io.Copy(rewriter, resp.Body)
		closeErr := rewriter.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		_ = pw.CloseWithError(copyErr)
	}()

	doc := files.Doc{
		URL:         entry.OriginalURL,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Body:        pr,
	}
	if err := files.Write(opts.OutDir, doc); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return copyErr
}
