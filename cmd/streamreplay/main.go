// Command streamreplay replays a recorded run (a JSONL file of raw graph
// frames) through a stream processor and prints the normalized events as
// JSON lines. It is the test-harness consumer of the library: record a run
// once, then inspect how a subscription configuration normalizes it.
//
// Usage:
//
//	streamreplay --config subscription.yaml frames.jsonl
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"goa.design/graphstream/event"
	"goa.design/graphstream/processor"
	"goa.design/graphstream/subscription"
	"goa.design/graphstream/telemetry"
)

func main() {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "streamreplay [flags] <frames.jsonl>",
		Short: "Replay recorded graph frames through the stream processor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := log.FormatJSON
			if log.IsTerminal() {
				format = log.FormatTerminal
			}
			ctx := log.Context(cmd.Context(), log.WithFormat(format))
			if debug {
				ctx = log.Context(ctx, log.WithDebug())
			}
			return replay(ctx, configPath, args[0], cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "subscription configuration YAML (required)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logs")
	_ = cmd.MarkFlagRequired("config")
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func replay(ctx context.Context, configPath, framesPath string, out io.Writer) error {
	doc, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := subscription.ParseYAML(doc)
	if err != nil {
		return err
	}
	f, err := os.Open(framesPath)
	if err != nil {
		return fmt.Errorf("open frames: %w", err)
	}
	defer f.Close()

	p, err := processor.New(cfg,
		processor.WithLogger(telemetry.NewClueLogger()),
		processor.WithMetrics(telemetry.NewOTELMetrics()),
	)
	if err != nil {
		return err
	}
	stream, err := p.Process(ctx, &fileSource{scan: bufio.NewScanner(f), close: f.Close})
	if err != nil {
		return err
	}
	defer stream.Close()

	enc := json.NewEncoder(out)
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(wireEvent(evt)); err != nil {
			return err
		}
	}
}

// fileSource adapts a JSONL scanner to the processor's FrameSource. Each
// line holds one raw frame value as recorded from the engine.
type fileSource struct {
	scan  *bufio.Scanner
	close func() error
}

func (s *fileSource) Recv() (any, error) {
	if !s.scan.Scan() {
		if err := s.scan.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var raw any
	if err := json.Unmarshal(s.scan.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("malformed frame line: %w", err)
	}
	return raw, nil
}

func (s *fileSource) Close() error { return s.close() }

func wireEvent(e event.Event) map[string]any {
	return map[string]any{
		"type":      e.Type(),
		"namespace": e.Namespace(),
		"task_id":   e.TaskID(),
		"timestamp": e.Timestamp(),
		"payload":   e.Payload(),
	}
}
