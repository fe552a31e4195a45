package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/framegate/curate/codec"
	"github.com/framegate/curate/config"
	"github.com/framegate/curate/curation"
	"github.com/framegate/curate/dedup"
	"github.com/framegate/curate/features"
	"github.com/framegate/curate/logging"
	"github.com/framegate/curate/memory"
	"github.com/framegate/curate/quality"
	"github.com/framegate/curate/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	sourceDir := flag.String("sources", "sources", "object-store prefix holding source clips")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "curate: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewZerologLogger(cfg.Env)
	logging.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *sourceDir); err != nil {
		logger.Fatal(err, "pipeline run failed")
	}
}

func run(ctx context.Context, cfg *config.Config, sourceDir string) error {
	ledger := memory.NewLedger(cfg.DeviceMemoryBytes)

	codecSpec, err := cfg.CodecSpec()
	if err != nil {
		return err
	}
	var cdc codec.Codec
	switch codecSpec.Variant {
	case codec.VariantContinuous:
		cdc, err = codec.NewContinuousCodec(codecSpec, ledger, nil)
	default:
		cdc, err = codec.NewDiscreteCodec(codecSpec, ledger)
	}
	if err != nil {
		return err
	}
	defer cdc.Close()

	extractor := features.NewSpectralExtractor(16)
	assessor, err := quality.NewAssessor(extractor, ledger, cfg.Quality)
	if err != nil {
		return err
	}
	deduplicator, err := dedup.NewDeduplicator(cfg.Dedup, extractor, ledger)
	if err != nil {
		return err
	}
	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return err
	}
	queue := curation.NewMemoryQueue()
	defer queue.Close()

	orchestrator, err := curation.NewOrchestrator(cfg.Orchestrator(), curation.Dependencies{
		Codec:    cdc,
		Assessor: assessor,
		Dedup:    deduplicator,
		Store:    store,
		Queue:    queue,
	})
	if err != nil {
		return err
	}

	assets, err := discoverAssets(store.BasePath(), sourceDir)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		logging.Info("no source clips found", logging.Fields{"dir": sourceDir})
		return nil
	}

	logging.Info("processing batch", logging.Fields{
		"assets":   len(assets),
		"codec_id": cdc.ID(),
		"variant":  string(codecSpec.Variant),
	})

	completed := orchestrator.ProcessBatch(ctx, assets, curation.BatchOptions{})

	metrics, _ := orchestrator.Metrics(cdc.ID())
	logging.Info("batch finished", logging.Fields{
		"submitted":  len(assets),
		"completed":  len(completed),
		"psnr":       metrics.PSNR,
		"throughput": metrics.ThroughputFPS,
	})
	return nil
}

// discoverAssets lists .cvid clips under the source prefix and creates a
// pending asset per clip.
func discoverAssets(basePath, sourceDir string) ([]*curation.Asset, error) {
	dir := filepath.Join(basePath, sourceDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan sources: %w", err)
	}

	assets := make([]*curation.Asset, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".cvid") {
			continue
		}
		assets = append(assets, curation.NewAsset(filepath.Join(sourceDir, entry.Name())))
	}
	return assets, nil
}
