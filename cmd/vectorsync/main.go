// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	vectorsync "github.com/poiesic/vectorsync"
	"github.com/poiesic/vectorsync/ai"
	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/status"
)

func main() {
	// Missing .env is fine; flags and the environment still apply
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "vectorsync",
		Usage: "Keep text chunks and vector embeddings synchronized with a mutable source dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:     "db",
				Aliases:  []string{"d"},
				Usage:    "Path to BadgerDB database directory",
				Required: true,
				EnvVars:  []string{"VECTORSYNC_DB"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:  "pipeline",
				Usage: "Manage pipeline definitions",
				Subcommands: []*cli.Command{
					{
						Name:   "create",
						Usage:  "Create a pipeline from a YAML definition file",
						Action: pipelineCreateCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "file",
								Aliases:  []string{"f"},
								Usage:    "Path to the pipeline definition YAML",
								Required: true,
							},
						},
					},
					{
						Name:   "list",
						Usage:  "List pipeline definitions",
						Action: pipelineListCommand,
					},
				},
			},
			{
				Name:   "put",
				Usage:  "Insert or replace a source row",
				Action: putCommand,
				Flags: []cli.Flag{
					sourceFlag(),
					keyFlag(),
					&cli.StringFlag{
						Name:  "content",
						Usage: "Row content (reads stdin if omitted)",
					},
					&cli.StringSliceFlag{
						Name:  "meta",
						Usage: "Row metadata as key=value (repeatable)",
					},
				},
			},
			{
				Name:   "rm",
				Usage:  "Delete a source row",
				Action: rmCommand,
				Flags:  []cli.Flag{sourceFlag(), keyFlag()},
			},
			{
				Name:   "truncate",
				Usage:  "Remove all rows of a source",
				Action: truncateCommand,
				Flags:  []cli.Flag{sourceFlag()},
			},
			{
				Name:   "worker",
				Usage:  "Process a pipeline's work queue",
				Action: workerCommand,
				Flags: []cli.Flag{
					pipelineFlag(),
					&cli.BoolFlag{
						Name:  "once",
						Usage: "Drain the queue and exit instead of running continuously",
					},
					&cli.StringFlag{
						Name:    "embedding-host",
						Usage:   "Embedding service host URL",
						Value:   "http://localhost:11434/v1",
						EnvVars: []string{"VECTORSYNC_EMBEDDING_HOST"},
					},
					&cli.StringFlag{
						Name:    "api-key",
						Usage:   "Embedding provider credential",
						EnvVars: []string{"VECTORSYNC_API_KEY", "OPENAI_API_KEY"},
					},
				},
			},
			{
				Name:   "search",
				Usage:  "Spot-check a pipeline's chunks by similarity to a query",
				Action: searchCommand,
				Flags: []cli.Flag{
					pipelineFlag(),
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Query text",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  "min-similarity",
						Usage: "Minimum similarity score",
						Value: 0.5,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 5,
					},
					&cli.StringFlag{
						Name:    "embedding-host",
						Usage:   "Embedding service host URL",
						Value:   "http://localhost:11434/v1",
						EnvVars: []string{"VECTORSYNC_EMBEDDING_HOST"},
					},
					&cli.StringFlag{
						Name:    "api-key",
						Usage:   "Embedding provider credential",
						EnvVars: []string{"VECTORSYNC_API_KEY", "OPENAI_API_KEY"},
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show pipeline status",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "pipeline",
						Aliases: []string{"p"},
						Usage:   "Pipeline name (all pipelines if omitted)",
					},
				},
			},
			{
				Name:   "errors",
				Usage:  "Show recent processing failures of a pipeline",
				Action: errorsCommand,
				Flags: []cli.Flag{
					pipelineFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records to show",
						Value: 20,
					},
				},
			},
			{
				Name:   "pause",
				Usage:  "Pause a pipeline (pending work stays queued)",
				Action: pauseCommand,
				Flags:  []cli.Flag{pipelineFlag()},
			},
			{
				Name:   "resume",
				Usage:  "Resume a paused pipeline",
				Action: resumeCommand,
				Flags:  []cli.Flag{pipelineFlag()},
			},
			{
				Name:   "rebuild",
				Usage:  "Re-enqueue every source row of a pipeline",
				Action: rebuildCommand,
				Flags:  []cli.Flag{pipelineFlag()},
			},
			{
				Name:   "requeue",
				Usage:  "Move dead-letter items back to the work queue",
				Action: requeueCommand,
				Flags: []cli.Flag{
					pipelineFlag(),
					&cli.StringSliceFlag{
						Name:  "key",
						Usage: "Key values of one item (all items if omitted)",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func sourceFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "source",
		Aliases:  []string{"s"},
		Usage:    "Source relation name",
		Required: true,
	}
}

func keyFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:     "key",
		Aliases:  []string{"k"},
		Usage:    "Primary-key values in key-column order (repeatable)",
		Required: true,
	}
}

func pipelineFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "pipeline",
		Aliases:  []string{"p"},
		Usage:    "Pipeline name",
		Required: true,
	}
}

// openEngine opens the database named by the global --db flag.
func openEngine(c *cli.Context, opts ...vectorsync.EngineOption) (*vectorsync.Engine, error) {
	engine, err := vectorsync.Open(c.String("db"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return engine, nil
}

func workerCommand(c *cli.Context) error {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithAPIKey(c.String("api-key")),
	)

	engine, err := openEngine(c, vectorsync.WithAIConfig(aiConfig))
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := engine.NewWorker(ctx, c.String("pipeline"))
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer w.Release()

	if c.Bool("once") {
		return w.RunOnce(ctx)
	}
	return w.Run(ctx)
}

func searchCommand(c *cli.Context) error {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithAPIKey(c.String("api-key")),
	)

	engine, err := openEngine(c, vectorsync.WithAIConfig(aiConfig))
	if err != nil {
		return err
	}
	defer engine.Close()

	matches, err := engine.Search(c.Context, c.String("pipeline"), c.String("query"),
		float32(c.Float64("min-similarity")), c.Int("limit"))
	if err != nil {
		return err
	}

	for _, m := range matches {
		fmt.Printf("%.4f  %s  %s\n", m.Score, m.Chunk.Key, m.Chunk.Text)
	}
	return nil
}

func putCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	content := c.String("content")
	if !c.IsSet("content") {
		data, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return fmt.Errorf("failed to read content from stdin: %w", err)
		}
		content = string(data)
	}

	metadata := map[string]string{}
	for _, pair := range c.StringSlice("meta") {
		k, v, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("invalid metadata %q: expected key=value", pair)
		}
		metadata[k] = v
	}

	row := &core.SourceRow{
		Key:      core.SourceKey(c.StringSlice("key")),
		Content:  content,
		Metadata: metadata,
	}
	return engine.Source().PutRow(c.Context, c.String("source"), row)
}

func rmCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.Source().DeleteRow(c.Context, c.String("source"), core.SourceKey(c.StringSlice("key")))
}

func truncateCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.Source().TruncateSource(c.Context, c.String("source"))
}

func statusCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	reporter := engine.NewReporter()

	if name := c.String("pipeline"); name != "" {
		p, err := engine.Pipelines().GetPipelineByName(c.Context, name)
		if err != nil {
			return err
		}
		s, err := reporter.Report(c.Context, p.Id)
		if err != nil {
			return err
		}
		printStatus(s)
		return nil
	}

	statuses, err := reporter.ReportAll(c.Context)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		printStatus(s)
	}
	return nil
}

func printStatus(s *status.PipelineStatus) {
	state := "active"
	if s.Pipeline.Paused {
		state = "paused"
	}
	fmt.Printf("%s (%s)\n", s.Pipeline.Name, state)
	fmt.Printf("  source:       %s\n", s.Pipeline.Source)
	fmt.Printf("  pending:      %s\n", cappedCount(s.Pending))
	fmt.Printf("  dead letters: %s\n", cappedCount(s.DeadLetters))
	if s.LastSuccess.IsZero() {
		fmt.Printf("  last success: never\n")
	} else {
		fmt.Printf("  last success: %s\n", s.LastSuccess.Format("2006-01-02 15:04:05"))
	}
	if s.LastError != nil {
		fmt.Printf("  last error:   [%s/%s] %s %s\n",
			s.LastError.Stage, s.LastError.Class, s.LastError.Key, s.LastError.Message)
	}
}

func cappedCount(n int) string {
	if n >= status.CountCap {
		return fmt.Sprintf("%d+", status.CountCap)
	}
	return fmt.Sprintf("%d", n)
}

func errorsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	p, err := engine.Pipelines().GetPipelineByName(c.Context, c.String("pipeline"))
	if err != nil {
		return err
	}

	records, err := engine.Errors().RecentErrors(c.Context, p.Id, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Printf("%s  [%s/%s]  %s  %s\n",
			rec.OccurredAt.Format("2006-01-02 15:04:05"), rec.Stage, rec.Class, rec.Key, rec.Message)
	}
	return nil
}

func pauseCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.Pause(c.Context, c.String("pipeline"))
}

func resumeCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.Resume(c.Context, c.String("pipeline"))
}

func rebuildCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	enqueued, err := engine.Rebuild(c.Context, c.String("pipeline"))
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %d rows\n", enqueued)
	return nil
}

func requeueCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	name := c.String("pipeline")
	if key := c.StringSlice("key"); len(key) > 0 {
		return engine.RequeueDeadLetter(c.Context, name, core.SourceKey(key))
	}

	moved, err := engine.RequeueAllDeadLetters(c.Context, name)
	if err != nil {
		return err
	}
	fmt.Printf("requeued %d items\n", moved)
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
