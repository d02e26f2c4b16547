// Command wbrewrite drives the core URL-rewriting HTML/CSS pipeline from
// the command line: an urfave/cli/v2 app with one subcommand per
// caller-facing operation.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/urfave/cli/v2"

	"github.com/webarchive-tools/wbrewrite/batch"
	"github.com/webarchive-tools/wbrewrite/cdx"
	"github.com/webarchive-tools/wbrewrite/rewrite"
	"github.com/webarchive-tools/wbrewrite/sink"
	"github.com/webarchive-tools/wbrewrite/wburl"
)

func main() {
	app := &cli.App{
		Name:  "wbrewrite",
		Usage: "Rewrite archived HTML/CSS so it replays through an archive's URL scheme",
		Commands: []*cli.Command{
			rewriteCommand,
			cssCommand,
			diffCommand,
			batchCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var wburlFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "wburl",
		Usage:    "archival URL reference: <timestamp><modifier>/<target-url>",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "prefix",
		Usage: "archive mount path",
		Value: "/web/",
	},
	&cli.StringFlag{
		Name:  "head-insert",
		Usage: "fragment injected into <head>, at most once",
	},
}

func newRewriterFromFlags(c *cli.Context, out io.Writer) (*rewrite.Rewriter, error) {
	wb, err := wburl.Parse(c.String("wburl"))
	if err != nil {
		return nil, fmt.Errorf("parse --wburl: %w", err)
	}
	ur := wburl.NewRewriter(c.String("prefix"), wb)
	return rewrite.New(rewrite.Options{
		URLRewriter: ur.Rewrite,
		BaseSetter:  ur.SetBaseURL,
		HeadInsert:  c.String("head-insert"),
		Output:      out,
	}), nil
}

var rewriteCommand = &cli.Command{
	Name:      "rewrite",
	Usage:     "rewrite a single HTML document",
	ArgsUsage: "[input-file]",
	Flags: append(append([]cli.Flag{}, wburlFlags...),
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file (default: stdout)"},
	),
	Action: func(c *cli.Context) error {
		in, err := openInput(c)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()

		out, closeOut, err := openOutput(c)
		if err != nil {
			return err
		}
		defer func() { _ = closeOut() }()

		r, err := newRewriterFromFlags(c, out)
		if err != nil {
			return err
		}
		if _, err := io.Copy(r, in); err != nil {
			return err
		}
		return r.Close()
	},
}

var cssCommand = &cli.Command{
	Name:      "css",
	Usage:     "rewrite a standalone CSS stylesheet",
	ArgsUsage: "[input-file]",
	Flags: append(append([]cli.Flag{}, wburlFlags...),
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file (default: stdout)"},
	),
	Action: func(c *cli.Context) error {
		in, err := openInput(c)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()

		out, closeOut, err := openOutput(c)
		if err != nil {
			return err
		}
		defer func() { _ = closeOut() }()

		wb, err := wburl.Parse(c.String("wburl"))
		if err != nil {
			return fmt.Errorf("parse --wburl: %w", err)
		}
		ur := wburl.NewRewriter(c.String("prefix"), wb)

		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		return rewrite.CSS(out, string(data), ur.Rewrite)
	},
}

var diffCommand = &cli.Command{
	Name:      "diff",
	Usage:     "diff two documents after rewriting each with the same wburl",
	ArgsUsage: "file-a file-b",
	Flags:     wburlFlags,
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return fmt.Errorf("diff requires two file arguments")
		}
		aOut, err := rewriteFileToString(c, c.Args().Get(0))
		if err != nil {
			return err
		}
		bOut, err := rewriteFileToString(c, c.Args().Get(1))
		if err != nil {
			return err
		}
		if aOut == bOut {
			fmt.Println("equal")
			return nil
		}
		return difflib.WriteUnifiedDiff(os.Stdout, difflib.UnifiedDiff{
			A:        difflib.SplitLines(aOut),
			FromFile: c.Args().Get(0),
			B:        difflib.SplitLines(bOut),
			ToFile:   c.Args().Get(1),
			Eol:      "\n",
		})
	},
}

func rewriteFileToString(c *cli.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var buf sink.Buffer
	r, err := newRewriterFromFlags(c, &buf)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(r, f); err != nil {
		return "", err
	}
	if err := r.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var batchCommand = &cli.Command{
	Name:      "batch",
	Usage:     "fetch, rewrite and write every CDX capture of a URL",
	ArgsUsage: "target-url",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "prefix", Value: "/web/", Usage: "archive mount path"},
		&cli.StringFlag{Name: "head-insert", Usage: "fragment injected into <head>, at most once"},
		&cli.StringFlag{Name: "out", Value: "out", Usage: "output directory"},
		&cli.IntFlag{Name: "concurrency", Value: 4},
		&cli.Float64Flag{Name: "rps", Value: 2, Usage: "capture fetches per second"},
		&cli.BoolFlag{Name: "exact", Usage: "query the exact URL instead of everything under it"},
		&cli.StringFlag{Name: "from", Usage: "CDX from-timestamp filter"},
		&cli.StringFlag{Name: "to", Usage: "CDX to-timestamp filter"},
	},
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 1 {
			return fmt.Errorf("batch requires a target URL")
		}
		target := c.Args().First()

		client := cdx.NewClient()
		captures, err := cdx.FetchSnapshots(context.Background(), client, target, c.Bool("exact"), c.String("from"), c.String("to"))
		if err != nil {
			return fmt.Errorf("fetch CDX listing: %w", err)
		}
		if len(captures) == 0 {
			return fmt.Errorf("no captures found for %q", target)
		}

		res := batch.Run(context.Background(), captures, batch.Options{
			OutDir:            c.String("out"),
			Prefix:            c.String("prefix"),
			HeadInsert:        c.String("head-insert"),
			Concurrency:       c.Int("concurrency"),
			RequestsPerSecond: c.Float64("rps"),
		})
		if res.Failed > 0 {
			return fmt.Errorf("batch: %d of %d captures failed", res.Failed, res.Succeeded+res.Failed)
		}
		return nil
	},
}

func openInput(c *cli.Context) (io.ReadCloser, error) {
	if c.Args().Len() > 0 {
		return os.Open(c.Args().First())
	}
	return io.NopCloser(os.Stdin), nil
}

func openOutput(c *cli.Context) (io.Writer, func() error, error) {
	path := c.String("output")
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
