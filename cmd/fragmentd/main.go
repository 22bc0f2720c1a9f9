// Fragmentd is a worker node in the fragment-retrieval fabric. It pulls
// fragment-extraction tasks from the upstream queue, fetches the requested
// byte ranges from blob storage, and routes the payload back to the
// originating session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"

	"github.com/ErlendHaa/oneseismic/internal/config"
	"github.com/ErlendHaa/oneseismic/internal/fabric"
	fraghttp "github.com/ErlendHaa/oneseismic/internal/http"
	"github.com/ErlendHaa/oneseismic/internal/metrics"
	"github.com/ErlendHaa/oneseismic/internal/transfer"
	"github.com/ErlendHaa/oneseismic/internal/worker"
)

var version = "dev"

// Exit codes
const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitInvalidArgs   = 2
	ExitEndpointError = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("fragmentd", flag.ContinueOnError)

	var (
		configPath  = fs.String("config", "", "Path to YAML config file")
		showVersion = fs.Bool("version", false, "Print version and exit")

		source    string
		sink      string
		control   string
		failAddr  string
		transfers int
		account   string
		key       string
	)

	fs.StringVar(&source, "source", "", "Source (task queue) address")
	fs.StringVar(&sink, "sink", "", "Sink (session manager) address")
	fs.StringVar(&control, "control", "", "Control (shutdown broadcast) address")
	fs.StringVar(&failAddr, "fail", "", "Failure report address, currently unused")
	fs.IntVar(&transfers, "transfers", 0, "Concurrent blob connections, default = 4")
	fs.IntVar(&transfers, "j", 0, "Shorthand for -transfers")
	fs.StringVar(&account, "account", "", "Storage account")
	fs.StringVar(&account, "a", "", "Shorthand for -account")
	fs.StringVar(&key, "key", "", "Pre-shared key")
	fs.StringVar(&key, "k", "", "Shorthand for -key")
	bucket := fs.String("bucket", "", "Bucket URL overriding the HTTPS storage endpoint")
	metricsAddr := fs.String("metrics", "", "Listen address for the Prometheus endpoint")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fragmentd [options]

Worker node for the fragment-retrieval fabric. Pulls task descriptors from
-source, fetches the requested blob ranges, and routes replies through
-sink. Terminates on the ctrl:kill broadcast from -control.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	if *showVersion {
		fmt.Println("fragmentd", version)
		return ExitSuccess
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitConfigError
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	// Flags set on the command line win over file and environment.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["source"] {
		cfg.Source = source
	}
	if set["sink"] {
		cfg.Sink = sink
	}
	if set["control"] {
		cfg.Control = control
	}
	if set["fail"] {
		cfg.Fail = failAddr
	}
	if set["transfers"] || set["j"] {
		cfg.Transfers = transfers
	}
	if set["account"] || set["a"] {
		cfg.Account = account
	}
	if set["key"] || set["k"] {
		cfg.Key = key
	}
	if set["bucket"] {
		cfg.Bucket = *bucket
	}
	if set["metrics"] {
		cfg.Metrics = *metricsAddr
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitConfigError
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q\n", cfg.LogLevel)
		return ExitConfigError
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("service", "fragmentd").
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("interrupted, shutting down")
		cancel()
	}()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) int {
	store, cleanup, err := openStorage(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("open storage")
		return ExitConfigError
	}
	defer cleanup()

	f, err := fabric.Dial(ctx, fabric.Endpoints{
		Source:  cfg.Source,
		Sink:    cfg.Sink,
		Control: cfg.Control,
		Fail:    cfg.Fail,
	})
	if err != nil {
		log.Error().Err(err).Msg("dial fabric")
		return ExitEndpointError
	}
	defer f.Close()

	m := metrics.New()
	if cfg.Metrics != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			if err := http.ListenAndServe(cfg.Metrics, mux); err != nil {
				log.Warn().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	engine := transfer.NewEngine(store, transfer.Options{
		Transfers: cfg.Transfers,
		ChunkSize: cfg.ChunkSize,
		Retry: transfer.RetryOptions{
			Attempts:   cfg.Retry.Attempts,
			Backoff:    cfg.Retry.Backoff,
			MaxBackoff: cfg.Retry.MaxBackoff,
		},
		OnRetry: func(err error) {
			m.StorageRetries.Inc()
			log.Warn().Err(err).Msg("retrying storage read")
		},
	})

	log.Info().
		Str("source", cfg.Source).
		Str("sink", cfg.Sink).
		Int("transfers", cfg.Transfers).
		Msg("starting fragmentd")

	w := worker.New(f, engine, log, m)
	if err := w.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return ExitSuccess
		}
		log.Error().Err(err).Msg("dispatch loop failed")
		return ExitConfigError
	}
	return ExitSuccess
}

// openStorage picks the storage backend: a gocloud bucket when configured,
// signed HTTPS range requests against the account endpoint otherwise.
func openStorage(ctx context.Context, cfg config.Config) (transfer.Storage, func(), error) {
	if cfg.Bucket != "" {
		bucket, err := blob.OpenBucket(ctx, cfg.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("open bucket %s: %w", cfg.Bucket, err)
		}
		return transfer.NewBucketStorage(bucket), func() { bucket.Close() }, nil
	}

	store, err := transfer.NewEndpointStorage(cfg.StorageEndpoint(), fraghttp.Credentials{
		Account: cfg.Account,
		Key:     cfg.Key,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}
