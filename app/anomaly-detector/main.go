package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anomaly-tools/tx-anomaly-detector/api"
	"github.com/anomaly-tools/tx-anomaly-detector/domain"
	"github.com/anomaly-tools/tx-anomaly-detector/external/decoder"
	"github.com/anomaly-tools/tx-anomaly-detector/external/elastic"
	"github.com/anomaly-tools/tx-anomaly-detector/external/kafka"
	"github.com/anomaly-tools/tx-anomaly-detector/external/mempool"
	"github.com/anomaly-tools/tx-anomaly-detector/external/stdout"
	"github.com/anomaly-tools/tx-anomaly-detector/infrastructure/retry"
	"github.com/anomaly-tools/tx-anomaly-detector/infrastructure/store/pebbledb"
	"github.com/anomaly-tools/tx-anomaly-detector/model"
	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const prefix = "ANOMALY_DETECTOR"

const (
	modeScan  = "scan"
	modeBlock = "block"
	modeRaw   = "raw"
)

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
			BlockHashTTL   time.Duration `conf:"default:1m"`
			MaxPages       int           `conf:"default:800"`
			FetchRawHex    bool          `conf:"default:false"`
			RetryAttempts  int           `conf:"default:5"`
			RetryBaseDelay time.Duration `conf:"default:500ms"`
			RetryMaxDelay  time.Duration `conf:"default:10s"`
			RetryJitter    float64       `conf:"default:0.5"`
		}
		Detector struct {
			Mode                string        `conf:"default:scan"`
			NumTxs              int           `conf:"default:100"`
			RawTxs              []string      `conf:"optional"`
			ModelPath           string        `conf:"default:saved_models/anomaly_detection_pipeline.json"`
			ScanInterval        time.Duration `conf:"default:0s"`
			PublishTimeout      time.Duration `conf:"default:1m"`
			InternalStoreFolder string        `conf:"default:store"`
		}
		Sinks struct {
			Stdout  bool `conf:"default:true"`
			Kafka   bool `conf:"default:false"`
			Elastic bool `conf:"default:false"`
		}
		Kafka struct {
			BootstrapServers []string `conf:"default:localhost:9092"`
			ReportTopic      string   `conf:"default:tx-anomaly-reports"`
		}
		Elastic struct {
			Addresses []string      `conf:"default:http://localhost:9200"`
			Username  string        `conf:"optional"`
			Password  string        `conf:"optional,noprint"`
			Index     string        `conf:"default:tx-anomaly-reports"`
			Timeout   time.Duration `conf:"default:10s"`
		}
		Server struct {
			HttpHost         string `conf:"default:0.0.0.0:8000"`
			MetricsNamespace string `conf:"default:tx_anomaly_detector"`
		}
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

	switch cfg.Detector.Mode {
	case modeScan, modeBlock, modeRaw:
	default:
		return errors.Errorf("unknown mode [%s], expected one of [%s, %s, %s]", cfg.Detector.Mode, modeScan, modeBlock, modeRaw)
	}

	pipeline, err := model.Load(cfg.Detector.ModelPath)
	if err != nil {
		return errors.Wrap(err, "loading scoring pipeline")
	}
	sLogger.Infow("Loaded scoring pipeline", "path", cfg.Detector.ModelPath, "trees", len(pipeline.Forest.Trees), "trainingSize", pipeline.TrainingSize)

	store, err := pebbledb.NewScanStore(cfg.Detector.InternalStoreFolder)
	if err != nil {
		return errors.Wrap(err, "creating scan store")
	}
	defer store.Close()

	metrics := domain.NewMetrics(cfg.Server.MetricsNamespace)

	publishers, closePublishers, err := createPublishers(cfg.Sinks.Stdout, cfg.Sinks.Kafka, cfg.Sinks.Elastic,
		cfg.Kafka.BootstrapServers, cfg.Kafka.ReportTopic, cfg.Server.MetricsNamespace,
		elastic.Config{
			Addresses: cfg.Elastic.Addresses,
			Username:  cfg.Elastic.Username,
			Password:  cfg.Elastic.Password,
			Index:     cfg.Elastic.Index,
			Timeout:   cfg.Elastic.Timeout,
		})
	if err != nil {
		return errors.Wrap(err, "creating publishers")
	}
	defer closePublishers()

	source := retry.NewSource(
		mempool.NewClient(cfg.Chain.BaseURL, cfg.Chain.ReadTimeout, cfg.Chain.BlockHashTTL),
		retry.Policy{
			MaxAttempts: cfg.Chain.RetryAttempts,
			BaseDelay:   cfg.Chain.RetryBaseDelay,
			MaxDelay:    cfg.Chain.RetryMaxDelay,
			Jitter:      cfg.Chain.RetryJitter,
		},
		sLogger,
	)

	// block pages carry esplora json, unless every transaction is fetched in raw encoding
	var pageDecoder domain.Decoder = decoder.NewEsplora()
	if cfg.Chain.FetchRawHex {
		pageDecoder = decoder.NewBitcoin()
	}
	walker := domain.NewChainWalker(source, pageDecoder, domain.WalkerConfig{
		MaxPages:    cfg.Chain.MaxPages,
		FetchRawHex: cfg.Chain.FetchRawHex,
	}, sLogger, metrics)

	detector := domain.NewDetector(walker, source, decoder.NewBitcoin(), pipeline, publishers,
		cfg.Detector.PublishTimeout, store, sLogger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case cfg.Detector.Mode == modeRaw:
		if len(cfg.Detector.RawTxs) == 0 {
			return errors.New("raw mode needs at least one raw transaction")
		}
		_, err = detector.ScoreRawTransactions(ctx, cfg.Detector.RawTxs)
		return errors.Wrap(err, "scoring raw transactions")
	case cfg.Detector.Mode == modeBlock:
		_, err = detector.ScoreLatestBlock(ctx, cfg.Detector.NumTxs)
		return errors.Wrap(err, "scoring latest block")
	case cfg.Detector.ScanInterval <= 0:
		_, err = detector.ScanAndScore(ctx, cfg.Detector.NumTxs)
		return errors.Wrap(err, "scanning chain")
	}

	mux := http.NewServeMux()
	api.NewHandler(store).Routes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.Server.HttpHost, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return detector.Start(gctx, cfg.Detector.NumTxs, cfg.Detector.ScanInterval)
	})
	g.Go(func() error {
		log.Printf("main: Starting status and metrics endpoint on addr [%s].", cfg.Server.HttpHost)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Println("main: Service started.")
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Println("main: Received shutdown signal, shutting down...")
		return nil
	}
	return err
}

func createPublishers(toStdout, toKafka, toElastic bool, brokers []string, topic, namespace string, esCfg elastic.Config) ([]domain.Publisher, func(), error) {
	var publishers []domain.Publisher
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if toStdout {
		publishers = append(publishers, stdout.NewWriter(os.Stdout))
	}

	if toKafka {
		kafkaMetrics := kprom.NewMetrics(namespace,
			kprom.Registerer(prometheus.DefaultRegisterer),
			kprom.Gatherer(prometheus.DefaultGatherer))
		kcl, err := kgo.NewClient(
			kgo.WithHooks(kafkaMetrics),
			kgo.DefaultProduceTopic(topic),
			kgo.SeedBrokers(brokers...),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "creating kafka client")
		}
		closers = append(closers, kcl.Close)
		publishers = append(publishers, kafka.NewClient(kcl))
	}

	if toElastic {
		elasticClient, err := elastic.NewClient(esCfg)
		if err != nil {
			closeAll()
			return nil, nil, errors.Wrap(err, "creating elastic client")
		}
		publishers = append(publishers, elasticClient)
	}

	if len(publishers) == 0 {
		log.Println("[WARN] main: all sinks disabled, reports are only counted")
	}
	return publishers, closeAll, nil
}
