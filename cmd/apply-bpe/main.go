// Command apply-bpe segments text from stdin with a learned codebook.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"k8s.io/klog/v2"

	"github.com/cognicore/subword/pkg/subword/bpe"
	"github.com/cognicore/subword/pkg/subword/ingest"
	"github.com/cognicore/subword/pkg/subword/internalerr"
)

type options struct {
	codes     string
	separator string
	postpend  bool
	cacheSize int
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("apply-bpe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	klog.InitFlags(fs)

	opts := &options{}
	fs.StringVar(&opts.codes, "codes", "", "File with BPE codes (required)")
	fs.StringVar(&opts.codes, "c", "", "Shorthand for --codes")
	fs.StringVar(&opts.separator, "separator", "@@", "Separator between non-final subword units")
	fs.BoolVar(&opts.postpend, "postpend", false, "Codes were learned with word starts marked")
	fs.IntVar(&opts.cacheSize, "cache-size", bpe.DefaultCacheSize, "Number of segmented words to remember")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.codes == "" {
		return nil, fmt.Errorf("--codes is required: %w", internalerr.ErrInvalidConfig)
	}
	if opts.separator == "" {
		return nil, fmt.Errorf("separator must not be empty: %w", internalerr.ErrInvalidConfig)
	}
	return opts, nil
}

func run(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	f, err := os.Open(opts.codes)
	if err != nil {
		return fmt.Errorf("open codes: %w", err)
	}
	codes, err := bpe.ReadCodebook(ctx, f, opts.codes)
	f.Close()
	if err != nil {
		return err
	}

	applier, err := bpe.NewApplier(codes, bpe.ApplierConfig{
		Separator: opts.separator,
		Postpend:  opts.postpend,
		CacheSize: opts.cacheSize,
	})
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(out)
	err = ingest.EachLine(ctx, in, func(i int, line string) error {
		seg, err := applier.SegmentLine(line)
		if err != nil {
			return &internalerr.SegmentationError{Source: "stdin", Line: i, Word: line, Err: err}
		}
		bw.WriteString(seg)
		return bw.WriteByte('\n')
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer klog.Flush()

	ctx := klog.NewContext(context.Background(), klog.Background().WithName("apply-bpe"))
	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		klog.ErrorS(err, "apply-bpe failed")
		klog.Flush()
		os.Exit(1)
	}
}
