// Command triage-seed loads symptom triples into Neo4j and reference
// passages into Qdrant from a YAML file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/app"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/config"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
)

// SeedFile is the input layout.
type SeedFile struct {
	Triples  []evidence.GraphHit `yaml:"triples"`
	Passages []string            `yaml:"passages"`
}

// ParseSeed decodes a seed document and drops incomplete triples.
func ParseSeed(data []byte) (SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SeedFile{}, fmt.Errorf("decode seed: %w", err)
	}
	kept := f.Triples[:0]
	for _, t := range f.Triples {
		if t.Subject != "" && t.Predicate != "" && t.Object != "" {
			kept = append(kept, t)
		}
	}
	f.Triples = kept
	return f, nil
}

func main() {
	configPath := flag.String("config", "", "path to triage.yaml")
	seedPath := flag.String("seed", "", "YAML file with triples and passages")
	flag.Parse()
	if *seedPath == "" {
		fmt.Fprintln(os.Stderr, "triage-seed: -seed is required")
		os.Exit(2)
	}

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "triage-seed: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "triage-seed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	data, err := os.ReadFile(*seedPath)
	if err != nil {
		logger.Fatal("Failed to read seed file", zap.Error(err))
	}
	seed, err := ParseSeed(data)
	if err != nil {
		logger.Fatal("Invalid seed file", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize backends", zap.Error(err))
	}
	defer a.CloseTimeout(5 * time.Second)

	if len(seed.Triples) > 0 {
		if a.Graph == nil {
			logger.Fatal("Knowledge graph is not available")
		}
		if err := a.Graph.InsertTriples(ctx, seed.Triples); err != nil {
			logger.Fatal("Failed to insert triples", zap.Error(err))
		}
		logger.Info("Inserted triples", zap.Int("count", len(seed.Triples)))
	}

	if len(seed.Passages) > 0 {
		if a.Vector == nil {
			logger.Fatal("Vector store is not available")
		}
		if err := a.Vector.EnsureCollectionForEmbedder(ctx); err != nil {
			logger.Fatal("Failed to prepare collection", zap.Error(err))
		}
		n, err := a.Vector.AddPassages(ctx, seed.Passages)
		if err != nil {
			logger.Fatal("Failed to add passages", zap.Error(err))
		}
		logger.Info("Upserted passage chunks", zap.Int("count", n))
	}
}
