// Command bpe-runs inspects the sqlite ledger written by learn-joint-bpe.
//
//	bpe-runs --db runs.db list
//	bpe-runs --db runs.db show RUN
//	bpe-runs --db runs.db codes RUN
//	bpe-runs --db runs.db vocab RUN CORPUS
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"k8s.io/klog/v2"

	"github.com/cognicore/subword/pkg/subword/store"
	"github.com/cognicore/subword/pkg/subword/store/sqlite"
	"github.com/cognicore/subword/pkg/subword/vocab"
)

type options struct {
	db    string
	limit int
	cmd   string
	args  []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("bpe-runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	klog.InitFlags(fs)

	opts := &options{}
	fs.StringVar(&opts.db, "db", "", "Run ledger written by learn-joint-bpe (required)")
	fs.IntVar(&opts.limit, "n", 20, "Number of runs listed, most recent first")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.db == "" {
		return nil, errors.New("--db is required")
	}

	opts.cmd = "list"
	if fs.NArg() > 0 {
		opts.cmd, opts.args = fs.Arg(0), fs.Args()[1:]
	}
	want := map[string]int{"list": 0, "show": 1, "codes": 1, "vocab": 2}
	n, ok := want[opts.cmd]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", opts.cmd)
	}
	if len(opts.args) != n {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", opts.cmd, n, len(opts.args))
	}
	return opts, nil
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	st, err := sqlite.OpenSQLite(ctx, opts.db)
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	defer st.Close()

	switch opts.cmd {
	case "show":
		r, err := st.GetRun(ctx, opts.args[0])
		if err != nil {
			return err
		}
		return showRun(out, r)
	case "codes":
		codes, err := st.Merges(ctx, opts.args[0])
		if err != nil {
			return err
		}
		_, err = codes.WriteTo(out)
		return err
	case "vocab":
		entries, err := st.Vocabulary(ctx, opts.args[0], opts.args[1])
		if err != nil {
			return err
		}
		_, err = vocab.WriteEntries(out, entries)
		return err
	default:
		runs, err := st.ListRuns(ctx, opts.limit)
		if err != nil {
			return err
		}
		return listRuns(out, runs)
	}
}

func listRuns(out io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tSYMBOLS\tMIN-FREQ\tCODES")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.CreatedAt.UTC().Format(time.RFC3339), r.Symbols, r.MinFrequency, r.CodesPath)
	}
	return tw.Flush()
}

func showRun(out io.Writer, r store.Run) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", r.ID)
	fmt.Fprintf(tw, "created\t%s\n", r.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "symbols\t%d\n", r.Symbols)
	fmt.Fprintf(tw, "min-frequency\t%d\n", r.MinFrequency)
	fmt.Fprintf(tw, "separator\t%s\n", r.Separator)
	fmt.Fprintf(tw, "postpend\t%t\n", r.Postpend)
	fmt.Fprintf(tw, "total-symbols\t%t\n", r.TotalSymbols)
	fmt.Fprintf(tw, "character-vocab\t%t\n", r.CharacterVocab)
	fmt.Fprintf(tw, "dict-input\t%t\n", r.DictInput)
	fmt.Fprintf(tw, "codes\t%s %s\n", r.CodesPath, r.CodesDigest)
	if len(r.Special) > 0 {
		fmt.Fprintf(tw, "special\t%s\n", strings.Join(r.Special, " "))
	}
	for _, c := range r.Corpora {
		fmt.Fprintf(tw, "corpus\t%s -> %s %s\n", c.Name, c.Path, c.Digest)
	}
	return tw.Flush()
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = klog.NewContext(ctx, klog.Background().WithName("bpe-runs"))

	if err := run(ctx, opts, os.Stdout); err != nil {
		klog.ErrorS(err, "bpe-runs failed")
		klog.Flush()
		stop()
		os.Exit(1)
	}
}
