package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/marketpulse/internal/api"
	"github.com/rewired-gh/marketpulse/internal/config"
	"github.com/rewired-gh/marketpulse/internal/engine"
	"github.com/rewired-gh/marketpulse/internal/exchange"
	"github.com/rewired-gh/marketpulse/internal/kafka"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/metrics"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/reversal"
	"github.com/rewired-gh/marketpulse/internal/storage"
	"github.com/rewired-gh/marketpulse/internal/stream"
	"github.com/rewired-gh/marketpulse/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxSessions, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var notifiers reversal.MultiNotifier
	var alerter stream.Alerter

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifiers = append(notifiers, telegramClient)
		alerter = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	board := kafka.NewBoard()
	var consumer *kafka.Consumer
	var publisher *kafka.Publisher
	if cfg.Kafka.Enabled {
		publisher, err = kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka publisher: %v", err)
		}
		defer publisher.Close() //nolint:errcheck
		notifiers = append(notifiers, publisher)

		consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.KeyZoneTopic, cfg.Kafka.SignalsTopic, board)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka consumer: %v", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logger.Fatal("Failed to start Kafka consumer: %v", err)
		}
		defer consumer.Close() //nolint:errcheck
	} else {
		logger.Debug("Kafka disabled, KeyZone contact stays inactive")
	}

	var notifier reversal.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}
	machine, err := reversal.New(store, notifier, reversal.Options{
		Initial:        cfg.Reversal.Initial,
		PersistRetries: cfg.Reversal.PersistRetries,
		RetryDelayBase: cfg.Reversal.RetryDelayBase,
	})
	if err != nil {
		logger.Fatal("Failed to initialize reversal state machine: %v", err)
	}
	defer machine.Wait()

	eng := engine.New(engine.Config{
		WindowSize:        cfg.Market.WindowSize,
		SampleInterval:    cfg.Market.SampleInterval,
		TickInterval:      cfg.Market.TickInterval,
		Requirement:       cfg.Market.Requirement,
		StrongRequirement: cfg.Market.StrongRequirement,
		BaseSymbol:        cfg.Market.BaseSymbol,
	}, machine, board)

	streamClient := stream.New(stream.Config{
		URL:               cfg.Binance.WSURL,
		WatchdogInterval:  cfg.Stream.WatchdogInterval,
		StaleAfter:        cfg.Stream.StaleAfter,
		MaxBackoff:        cfg.Stream.MaxBackoff,
		FailureAlertAfter: cfg.Stream.FailureAlertAfter,
	}, alerter)

	refresher := exchange.NewRefresher(
		exchange.NewBinanceSource(cfg.Binance.RESTBaseURL, cfg.Binance.Timeout),
		exchange.Config{
			QuoteAsset:      cfg.Exchange.QuoteAsset,
			MinAgeDays:      cfg.Exchange.MinAgeDays,
			MaxInstruments:  cfg.Exchange.MaxInstruments,
			AlwaysInclude:   cfg.Exchange.AlwaysInclude,
			RefreshInterval: cfg.Exchange.RefreshInterval,
			MaxRetries:      cfg.Exchange.MaxRetries,
			RetryDelayBase:  cfg.Exchange.RetryDelayBase,
		},
	)

	if cfg.Metrics.Enabled {
		metricsServer := metrics.Serve(cfg.Metrics.Addr)
		logger.Info("Metrics listening on %s", cfg.Metrics.Addr)
		defer shutdownServer("metrics", metricsServer.Shutdown)
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(api.Dependencies{
			Reversal:    machine,
			History:     store,
			Market:      eng,
			Instruments: refresher,
			Stream:      streamClient,
			StaleAfter:  cfg.Stream.StaleAfter,
		})
		go func() {
			if err := apiServer.Start(cfg.API.Addr); err != nil {
				logger.Error("HTTP server stopped: %v", err)
			}
		}()
		defer shutdownServer("api", apiServer.Shutdown)
	}

	if telegramClient != nil {
		telegramClient.SetStatusFunc(func() string {
			return statusText(eng.Snapshot(), machine.State(), streamClient.SinceLastMessage())
		})
		telegramClient.ListenForCommands(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	batches := make(chan []models.PriceTick, 64)
	instruments := make(chan []string, 1)

	go refresher.Run(ctx, instruments)
	go func() {
		if err := streamClient.Run(ctx, batches); err != nil && ctx.Err() == nil {
			logger.Error("Price stream stopped: %v", err)
			cancel()
		}
	}()

	if err := eng.Run(ctx, batches, instruments); err != nil && ctx.Err() == nil {
		logger.Error("Market engine stopped: %v", err)
	}
	logger.Info("Service stopped")
}

func shutdownServer(name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("Failed to shut down %s server: %v", name, err)
	}
}

func statusText(snap engine.Snapshot, state models.ReversalState, idle time.Duration) string {
	session := "idle"
	if state.ID != 0 {
		score := 0.0
		if n := state.Scores.Len(); n > 0 {
			score = state.Scores.Global[n-1]
		}
		session = fmt.Sprintf("%s #%d, score %.1f, event %t", state.Kind, state.ID, score, state.Event != nil)
	}
	return fmt.Sprintf("Market: %s (%d/%d ready)\nReversal: %s\nLast price update: %v ago",
		snap.Direction, snap.Ready, snap.Installed, session, idle.Round(time.Second))
}
