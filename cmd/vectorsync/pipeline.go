package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/poiesic/vectorsync/core"
)

// pipelineFile is the YAML schema of a pipeline definition. Durations are
// Go duration strings ("30s", "5m").
type pipelineFile struct {
	Name                string   `yaml:"name"`
	Source              string   `yaml:"source"`
	KeyColumns          []string `yaml:"key_columns"`
	EmbeddingModel      string   `yaml:"embedding_model"`
	EmbeddingDimensions int      `yaml:"embedding_dimensions"`
	ChunkSize           int      `yaml:"chunk_size"`
	ChunkOverlap        int      `yaml:"chunk_overlap"`
	BatchSize           int      `yaml:"batch_size"`
	Concurrency         int      `yaml:"concurrency"`
	MaxAttempts         int      `yaml:"max_attempts"`
	RetryDelay          duration `yaml:"retry_delay"`
	MaxRetryDelay       duration `yaml:"max_retry_delay"`
	LeaseDuration       duration `yaml:"lease_duration"`
	PollInterval        duration `yaml:"poll_interval"`
}

type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

func (f *pipelineFile) toPipeline() *core.Pipeline {
	return &core.Pipeline{
		Name:                f.Name,
		Source:              f.Source,
		KeyColumns:          f.KeyColumns,
		EmbeddingModel:      f.EmbeddingModel,
		EmbeddingDimensions: f.EmbeddingDimensions,
		ChunkSize:           f.ChunkSize,
		ChunkOverlap:        f.ChunkOverlap,
		BatchSize:           f.BatchSize,
		Concurrency:         f.Concurrency,
		MaxAttempts:         f.MaxAttempts,
		RetryDelay:          time.Duration(f.RetryDelay),
		MaxRetryDelay:       time.Duration(f.MaxRetryDelay),
		LeaseDuration:       time.Duration(f.LeaseDuration),
		PollInterval:        time.Duration(f.PollInterval),
	}
}

func pipelineCreateCommand(c *cli.Context) error {
	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read definition: %w", err)
	}

	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse definition: %w", err)
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	created, err := engine.CreatePipeline(c.Context, file.toPipeline())
	if err != nil {
		return err
	}

	fmt.Printf("created pipeline %q (source %s, model %s)\n",
		created.Name, created.Source, created.EmbeddingModel)
	return nil
}

func pipelineListCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	pipelines, err := engine.Pipelines().ListPipelines(c.Context)
	if err != nil {
		return err
	}

	for _, p := range pipelines {
		state := "active"
		if p.Paused {
			state = "paused"
		}
		fmt.Printf("%s  source=%s  keys=(%s)  model=%s  %s\n",
			p.Name, p.Source, strings.Join(p.KeyColumns, ","), p.EmbeddingModel, state)
	}
	return nil
}
