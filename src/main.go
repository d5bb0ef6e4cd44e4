package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"syndrkit/src/directors"
	"syndrkit/src/settings"
	"syndrkit/src/store"
)

// printUsage prints helpful usage information
func printUsage() {
	fmt.Fprintln(os.Stderr, "syndrkit - inspect a document store")
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  syndrkit [options] --bucket=NAME [--key=KEY | --query=EXPR]")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	flag.PrintDefaults()

	fmt.Fprintln(os.Stderr, "\nExamples:")
	fmt.Fprintln(os.Stderr, "  syndrkit --backend=bolt --datadir=/data --bucket=User")
	fmt.Fprintln(os.Stderr, "  syndrkit --backend=file --datadir=/data --bucket=User --key=4f1c")
	fmt.Fprintln(os.Stderr, "  syndrkit --backend=file --datadir=/data --bucket=User --query='age > 30'")
}

type inspection struct {
	Key     string        `json:"key"`
	Record  store.Record  `json:"record"`
	Links   []store.Link  `json:"links"`
	Indexes []store.Index `json:"indexes"`
}

func main() {
	var (
		configFile string
		backend    string
		dataDir    string
		bucket     string
		key        string
		query      string
		debug      bool
	)
	flag.StringVar(&configFile, "config", "", "Path to a JSON config file (comments allowed)")
	flag.StringVar(&backend, "backend", "", "Store backend: memory, bolt or file")
	flag.StringVar(&dataDir, "datadir", "", "Directory holding the data files")
	flag.StringVar(&bucket, "bucket", "", "Bucket to inspect")
	flag.StringVar(&key, "key", "", "Print one record with its links and indexes")
	flag.StringVar(&query, "query", "", "Print the records matching an expression")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Usage = printUsage
	flag.Parse()

	args, err := settings.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if flag.CommandLine.Changed("backend") {
		args.Backend = backend
	}
	if flag.CommandLine.Changed("datadir") {
		args.DataDir = dataDir
	}
	if flag.CommandLine.Changed("debug") {
		args.Debug = debug
	}
	if bucket == "" {
		fmt.Fprintln(os.Stderr, "Error: --bucket is required")
		printUsage()
		os.Exit(2)
	}

	m, err := directors.NewServiceManager(args, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = inspect(ctx, m.Store, bucket, key, query)
	stop()
	if cerr := m.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func inspect(ctx context.Context, st store.Store, bucket, key, query string) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch {
	case key != "":
		out, err := describe(ctx, st.Bucket(bucket), key, nil)
		if err != nil {
			return err
		}
		return enc.Encode(out)
	case query != "":
		hits, err := st.Search(ctx, bucket, query)
		if err != nil {
			return err
		}
		out := make([]inspection, 0, len(hits))
		for _, hit := range hits {
			item, err := describe(ctx, st.Bucket(bucket), hit.Key, hit.Record)
			if err != nil {
				return err
			}
			out = append(out, item)
		}
		return enc.Encode(out)
	default:
		keys, err := st.Bucket(bucket).Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	}
}

func describe(ctx context.Context, b store.Bucket, key string, rec store.Record) (inspection, error) {
	var err error
	if rec == nil {
		if rec, err = b.Get(ctx, key); err != nil {
			return inspection{}, fmt.Errorf("%s/%s: %w", b.Name(), key, err)
		}
	}
	links, err := b.Links(ctx, key)
	if err != nil {
		return inspection{}, err
	}
	indexes, err := b.Indexes(ctx, key)
	if err != nil {
		return inspection{}, err
	}
	return inspection{Key: key, Record: rec, Links: links, Indexes: indexes}, nil
}
