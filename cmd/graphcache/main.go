package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/graphcache/client"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/metrics"
	"github.com/hanpama/graphcache/internal/otel"
	"github.com/hanpama/graphcache/transport"
)

const rootUsage = `graphcache: caching GraphQL client

USAGE:
  graphcache <command> [flags]

COMMANDS:
  query            Run a query once and print the result
  watch            Watch a query and print every new result
  help             Show help for any command
`

const commonUsage = `  -endpoint <url>          GraphQL HTTP endpoint (required)
  -query <document>        Query document
  -file <path>             Read the query document from a file
  -operation <name>        Operation to run when the document has several
  -variables <json>        Variables as a JSON object
  -header <Name: value>    Extra request header. Repeatable
  -timeout <duration>      Per-request timeout, e.g. 10s (default: 30s)
  -pretty                  Pretty-print JSON output
  -otel.endpoint <addr>    OTLP collector endpoint
  -otel.service <name>     OpenTelemetry service name (default: graphcache)
`

const queryUsage = `query FLAGS:
` + commonUsage + `  -force                   Skip the cache
`

const watchUsage = `watch FLAGS:
` + commonUsage + `  -poll <duration>         Refetch interval, e.g. 5s (default: off)
  -count <n>               Exit after n results (default: run until interrupted)
  -partial                 Print partial results while fetching
  -metrics.addr <addr>     Serve Prometheus metrics on addr
`

var stdout io.Writer = os.Stdout

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("graphcache", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "query":
		return cmdQuery(cmdArgs)
	case "watch":
		return cmdWatch(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "query":
		fmt.Fprint(stdout, queryUsage)
	case "watch":
		fmt.Fprint(stdout, watchUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// common holds the flags shared by every command.
type common struct {
	endpoint     string
	query        string
	file         string
	operation    string
	variables    string
	headers      stringListFlag
	timeout      time.Duration
	pretty       bool
	otelEndpoint string
	otelService  string
}

func (c *common) register(fs *flag.FlagSet) {
	c.timeout = 30 * time.Second
	c.otelService = "graphcache"
	fs.StringVar(&c.endpoint, "endpoint", "", "GraphQL HTTP endpoint")
	fs.StringVar(&c.query, "query", "", "Query document")
	fs.StringVar(&c.file, "file", "", "Query document file")
	fs.StringVar(&c.operation, "operation", "", "Operation name")
	fs.StringVar(&c.variables, "variables", "", "Variables as JSON")
	fs.Var(&c.headers, "header", "Extra request header")
	fs.DurationVar(&c.timeout, "timeout", c.timeout, "Per-request timeout")
	fs.BoolVar(&c.pretty, "pretty", false, "Pretty-print JSON output")
	fs.StringVar(&c.otelEndpoint, "otel.endpoint", "", "OTLP collector endpoint")
	fs.StringVar(&c.otelService, "otel.service", c.otelService, "OpenTelemetry service name")
}

// validate checks required flags and loads the document and variables.
func (c *common) validate() (string, map[string]any, error) {
	if c.endpoint == "" {
		return "", nil, fmt.Errorf("-endpoint is required")
	}
	doc := c.query
	if c.file != "" {
		if doc != "" {
			return "", nil, fmt.Errorf("-query and -file are mutually exclusive")
		}
		b, err := os.ReadFile(c.file)
		if err != nil {
			return "", nil, err
		}
		doc = string(b)
	}
	if strings.TrimSpace(doc) == "" {
		return "", nil, fmt.Errorf("-query or -file is required")
	}
	var vars map[string]any
	if c.variables != "" {
		if err := json.Unmarshal([]byte(c.variables), &vars); err != nil {
			return "", nil, fmt.Errorf("invalid -variables: %w", err)
		}
	}
	return doc, vars, nil
}

func (c *common) client() (*client.Client, error) {
	topts := []transport.Option{transport.WithTimeout(c.timeout)}
	for _, h := range c.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q", h)
		}
		topts = append(topts, transport.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return client.New(transport.NewHTTP(c.endpoint, topts...),
		client.WithLogger(logger),
		client.WithRequestTimeout(c.timeout),
	), nil
}

func (c *common) print(res *client.Result) error {
	var b []byte
	var err error
	if c.pretty {
		b, err = json.MarshalIndent(res, "", "  ")
	} else {
		b, err = json.Marshal(res)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(b))
	return err
}

func cmdQuery(args []string) error {
	var c common
	force := false
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.register(fs)
	fs.BoolVar(&force, "force", force, "Skip the cache")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, queryUsage)
		return err
	}
	doc, vars, err := c.validate()
	if err != nil {
		fmt.Fprint(os.Stderr, queryUsage)
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(c.otelEndpoint, c.otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	cl, err := c.client()
	if err != nil {
		return err
	}
	defer cl.Close()

	res, err := cl.Query(context.Background(), client.QueryOptions{
		Query:         doc,
		OperationName: c.operation,
		Variables:     vars,
		ForceFetch:    force,
	})
	if err != nil {
		return err
	}
	return c.print(res)
}

func cmdWatch(args []string) error {
	var c common
	poll := time.Duration(0)
	count := 0
	partial := false
	metricsAddr := ""
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.register(fs)
	fs.DurationVar(&poll, "poll", poll, "Refetch interval")
	fs.IntVar(&count, "count", count, "Exit after n results")
	fs.BoolVar(&partial, "partial", partial, "Print partial results")
	fs.StringVar(&metricsAddr, "metrics.addr", metricsAddr, "Prometheus metrics listen address")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, watchUsage)
		return err
	}
	doc, vars, err := c.validate()
	if err != nil {
		fmt.Fprint(os.Stderr, watchUsage)
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(c.otelEndpoint, c.otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	cl, err := c.client()
	if err != nil {
		return err
	}
	defer cl.Close()

	obs, err := cl.WatchQuery(client.WatchQueryOptions{
		Query:             doc,
		OperationName:     c.operation,
		Variables:         vars,
		ReturnPartialData: partial,
		PollInterval:      poll,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		_, unsubscribe, err := metrics.Register(reg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer unsubscribe()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		g.Go(func() error {
			log.Printf("metrics listening on %s", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	results := make(chan *client.Result, 16)
	sub := obs.Subscribe(client.ObserverFuncs{
		NextFunc: func(res *client.Result) {
			select {
			case results <- res:
			default:
				log.Printf("dropping result: output is not keeping up")
			}
		},
		ErrorFunc: func(err error) { log.Printf("watch: %v", err) },
	})
	defer sub.Unsubscribe()

	g.Go(func() error {
		printed := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case res := <-results:
				if err := c.print(res); err != nil {
					return err
				}
				printed++
				if count > 0 && printed >= count {
					return errDone
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errDone) {
		return err
	}
	return nil
}

var errDone = errors.New("done")
