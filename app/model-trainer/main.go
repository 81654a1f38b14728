package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anomaly-tools/tx-anomaly-detector/domain"
	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/anomaly-tools/tx-anomaly-detector/external/decoder"
	"github.com/anomaly-tools/tx-anomaly-detector/external/mempool"
	"github.com/anomaly-tools/tx-anomaly-detector/infrastructure/retry"
	"github.com/anomaly-tools/tx-anomaly-detector/model"
	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const prefix = "ANOMALY_TRAINER"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		Chain struct {
			BaseURL        string        `conf:"default:https://mempool.space/api"`
			ReadTimeout    time.Duration `conf:"default:20s"`
			MaxPages       int           `conf:"default:800"`
			RetryAttempts  int           `conf:"default:5"`
			RetryBaseDelay time.Duration `conf:"default:500ms"`
			RetryMaxDelay  time.Duration `conf:"default:10s"`
			RetryJitter    float64       `conf:"default:0.5"`
		}
		Training struct {
			NumTxs        int     `conf:"default:10000"`
			Contamination float64 `conf:"default:0.001"`
			Trees         int     `conf:"default:100"`
			SampleSize    int     `conf:"default:256"`
			Seed          int64   `conf:"default:42"`
			OutputPath    string  `conf:"default:saved_models/anomaly_detection_pipeline.json"`
		}
		MetricsNamespace string `conf:"default:tx_anomaly_trainer"`
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	log.Printf("main: Config :\n%v\n", out)

	source := retry.NewSource(
		mempool.NewClient(cfg.Chain.BaseURL, cfg.Chain.ReadTimeout, time.Minute),
		retry.Policy{
			MaxAttempts: cfg.Chain.RetryAttempts,
			BaseDelay:   cfg.Chain.RetryBaseDelay,
			MaxDelay:    cfg.Chain.RetryMaxDelay,
			Jitter:      cfg.Chain.RetryJitter,
		},
		sLogger,
	)

	metrics := domain.NewMetrics(cfg.MetricsNamespace)
	walker := domain.NewChainWalker(source, decoder.NewEsplora(), domain.WalkerConfig{MaxPages: cfg.Chain.MaxPages}, sLogger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := walker.Collect(ctx, cfg.Training.NumTxs)
	if err != nil {
		return errors.Wrap(err, "collecting training transactions")
	}

	// records that failed to decode carry no features and are left out of training
	valid := make([]entities.TxRecord, 0, len(result.Records))
	for _, record := range result.Records {
		if record.Valid {
			valid = append(valid, record)
		}
	}
	sLogger.Infow("Collected training transactions", "collected", len(result.Records), "valid", len(valid),
		"fromHeight", result.Visited[len(result.Visited)-1], "toHeight", result.Visited[0])

	vectors := domain.ExtractAll(valid)
	pipeline, err := model.Fit(vectors, model.FitConfig{
		Trees:         cfg.Training.Trees,
		SampleSize:    cfg.Training.SampleSize,
		Contamination: cfg.Training.Contamination,
		Seed:          cfg.Training.Seed,
	})
	if err != nil {
		return errors.Wrap(err, "fitting pipeline")
	}

	labels, err := pipeline.Score(vectors)
	if err != nil {
		return errors.Wrap(err, "scoring training transactions")
	}
	outliers := 0
	for _, label := range labels {
		if label == entities.LabelOutlier {
			outliers++
		}
	}
	sLogger.Infow("Fitted pipeline", "outliers", outliers,
		"outlierPercentage", fmt.Sprintf("%.1f", 100*float64(outliers)/float64(len(labels))))

	err = pipeline.Save(cfg.Training.OutputPath)
	if err != nil {
		return errors.Wrap(err, "saving pipeline")
	}
	sLogger.Infow("Saved pipeline", "path", cfg.Training.OutputPath)

	return nil
}
