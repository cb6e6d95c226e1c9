// Command pulse reads telemetry events as JSON lines from stdin (or a file)
// and delivers them through a pulse client. It exists for smoke-testing
// collector endpoints and for piping events out of shell pipelines.
//
// Each input line is one event:
//
//	{"event_type":"signup","user_id":"u1","event_properties":{"plan":"pro"}}
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	pulse "github.com/pulsemetric/pulse-go"
	"github.com/pulsemetric/pulse-go/internal/cliconfig"
	"github.com/pulsemetric/pulse-go/pkg/event"
)

var exampleUsage = strings.TrimSpace(`
  pulse --api-key <key> < events.jsonl
  pulse --config $HOME/.pulse/config.toml --batch --input events.jsonl
  tail -f app-events.jsonl | pulse --api-key <key> --watch-config
`)

// inputEvent is the JSON-lines schema accepted on stdin.
type inputEvent struct {
	EventType       string                 `json:"event_type"`
	UserID          string                 `json:"user_id"`
	DeviceID        string                 `json:"device_id"`
	Time            int64                  `json:"time"`
	EventProperties map[string]interface{} `json:"event_properties"`
	UserProperties  map[string]interface{} `json:"user_properties"`
	Groups          map[string]interface{} `json:"groups"`
	InsertID        string                 `json:"insert_id"`
}

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string
	var inputPath string
	var watchConfig bool

	root := &cobra.Command{
		Use:     "pulse",
		Short:   "Deliver JSON-lines telemetry events to a pulse collector",
		Example: exampleUsage,
		Version: getVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if err := cliconfig.Resolve(&cfg, cfgPath, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := cfg.Logger()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var delivered, dropped int
			var statMu sync.Mutex
			client, err := pulse.NewClient(cfg.APIKey,
				pulse.WithLogger(log),
				pulse.WithServerURL(cfg.ServerURL),
				pulse.WithBatchMode(cfg.BatchMode),
				pulse.WithFlushThreshold(cfg.FlushThreshold),
				pulse.WithFlushPeriod(cfg.FlushPeriod),
				pulse.WithTimeout(cfg.Timeout),
				pulse.WithMinIDLength(cfg.MinIDLength),
				pulse.WithCompression(cfg.Compress),
				pulse.WithRecordThrottled(cfg.RecordThrottled),
				pulse.WithCallback(func(e *event.Event, code int, message string) {
					statMu.Lock()
					if code >= 200 && code < 300 {
						delivered++
					} else {
						dropped++
					}
					statMu.Unlock()
					log.Debug().Str("event_type", e.EventType).Int("code", code).Str("message", message).Msg("event finished")
				}),
			)
			if err != nil {
				return err
			}

			if watchConfig {
				path := cfgPath
				if path == "" {
					path = cliconfig.DefaultConfigPath()
				}
				err := cliconfig.Watch(ctx, path, log, func(next cliconfig.Config) {
					client.Configure(pulse.ServerConfig{
						ServerURL:   next.ServerURL,
						BatchMode:   next.BatchMode,
						MinIDLength: next.MinIDLength,
						Timeout:     next.Timeout,
						Compress:    next.Compress,
					})
				})
				if err != nil {
					return fmt.Errorf("watch config: %w", err)
				}
			}

			in := os.Stdin
			if inputPath != "" {
				f, err := os.Open(inputPath)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			if err := pump(ctx, in, client, log); err != nil {
				return err
			}

			client.Flush()
			// Give in-flight sends a moment before tearing down; retries
			// past this point get the shutdown callback.
			select {
			case <-ctx.Done():
			case <-time.After(cfg.Timeout):
			}
			_ = client.Shutdown()

			statMu.Lock()
			defer statMu.Unlock()
			log.Info().Int("delivered", delivered).Int("dropped", dropped).Msg("done")
			return nil
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config.toml (default $HOME/.pulse/config.toml)")
	root.Flags().StringVar(&inputPath, "input", "", "read events from file instead of stdin")
	root.Flags().BoolVar(&watchConfig, "watch-config", false, "reconfigure the client when the config file changes")
	root.Flags().StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "collector API key")
	root.Flags().StringVar(&cfg.ServerURL, "url", cfg.ServerURL, "collector endpoint override")
	root.Flags().BoolVar(&cfg.BatchMode, "batch", cfg.BatchMode, "use the batch collector endpoint")
	root.Flags().IntVar(&cfg.FlushThreshold, "flush-threshold", cfg.FlushThreshold, "queue length that triggers an immediate flush")
	root.Flags().DurationVar(&cfg.FlushPeriod, "flush-period", cfg.FlushPeriod, "delay of the timed flush")
	root.Flags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-attempt HTTP timeout")
	root.Flags().IntVar(&cfg.MinIDLength, "min-id-length", cfg.MinIDLength, "minimum identity length forwarded to the collector")
	root.Flags().BoolVar(&cfg.Compress, "compress", cfg.Compress, "gzip request bodies")
	root.Flags().BoolVar(&cfg.RecordThrottled, "record-throttled", cfg.RecordThrottled, "track throttled identities for backpressure")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace..error)")
	root.Flags().BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human-readable log output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// pump enqueues one event per input line until EOF or cancellation.
func pump(ctx context.Context, in *os.File, client *pulse.Client, log zerolog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var ie inputEvent
		if err := json.Unmarshal([]byte(raw), &ie); err != nil {
			log.Warn().Int("line", line).Err(err).Msg("skipping malformed event")
			continue
		}
		ev, err := event.New(ie.EventType, ie.UserID, ie.DeviceID)
		if err != nil {
			log.Warn().Int("line", line).Err(err).Msg("skipping invalid event")
			continue
		}
		if ie.Time > 0 {
			ev.Time = ie.Time
		}
		if ie.InsertID != "" {
			ev.InsertID = ie.InsertID
		}
		ev.EventProperties = ie.EventProperties
		ev.UserProperties = ie.UserProperties
		ev.Groups = ie.Groups

		if err := client.Enqueue(ev, nil); err != nil {
			return err
		}
	}
	return scanner.Err()
}
