package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"iv-monitor-backend/config"
	"iv-monitor-backend/internal/alarm"
	"iv-monitor-backend/internal/api"
	"iv-monitor-backend/internal/bubble"
	"iv-monitor-backend/internal/db"
	"iv-monitor-backend/internal/device"
	"iv-monitor-backend/internal/engine"
	"iv-monitor-backend/internal/estimator"
	"iv-monitor-backend/internal/notify"
	"iv-monitor-backend/internal/prescription"
	"iv-monitor-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "ivmond ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded from %s", configPath)

	secretsPath := os.Getenv("SECRETS_PATH")
	if secretsPath == "" {
		secretsPath = "./config/secrets.yaml"
	}
	secrets, haveSecrets := config.LoadSecrets(secretsPath)
	if !haveSecrets {
		logger.Println("no secrets available, notifications run local-only")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := notify.NewGateway(cfg.Notify, secrets, cfg.WorkerPool.Size, appStore)

	display := device.LogDisplay{}
	input := device.NewReaderInput(os.Stdin, os.Stdout)
	indicator := &device.LogIndicator{}
	beeper := &device.LogBeeper{}
	buttons := engine.Buttons{
		Acknowledge: &device.LatchButton{},
		New:         &device.LatchButton{},
		Reset:       &device.LatchButton{},
		Terminate:   &device.LatchButton{},
	}

	rx := prescription.New(cfg.Prescription)
	now := time.Now()

	// Sensor lines. Without hardware the drop line is a simulated pulse
	// train and the bubble lines stay inactive (active low, so held high).
	dropLine := device.SignalReader(device.NewPulseLine(now, simulatedDropRate()))
	irLine := device.SignalReader(device.StaticLevel(true))
	slotLine := device.SignalReader(device.StaticLevel(true))

	var (
		source     estimator.Source
		weight     *estimator.WeightSource
		calibrator *estimator.Calibrator
	)
	switch cfg.Sensor.Source {
	case "weight":
		reader := newLoadCellReader()
		var cal estimator.Calibration
		if rec, err := appStore.LoadCalibration(ctx); err != nil {
			logger.Fatalf("failed to load calibration: %v", err)
		} else if rec != nil {
			cal = estimator.Calibration{Offset: rec.Offset, Scale: rec.Scale}
			logger.Printf("calibration loaded (calibrated at %s)", rec.CalibratedAt.Format(time.RFC3339))
		} else {
			logger.Println("no persisted calibration, scale must be calibrated before monitoring")
		}
		weight = estimator.NewWeightSource(reader, rx, cal, cfg.Sensor.WeightToleranceGrams, now)
		calibrator = estimator.NewCalibrator(reader, display, buttons.Acknowledge,
			cfg.Sensor.TareSamples, cfg.Sensor.ReferenceMassGrams, cfg.Sensor.CalibrationTimeout)
		source = weight
	default:
		source = estimator.NewDropSource(cfg.Sensor.DropDebounce, dropLine, rx, now)
	}

	eng := engine.New(engine.Options{
		Config:       cfg,
		Store:        appStore,
		Gateway:      gateway,
		Source:       source,
		Weight:       weight,
		Calibrator:   calibrator,
		Bubbles:      bubble.NewDetector(cfg.Sensor.BubbleConfirmWindow, irLine.Level(), slotLine.Level()),
		IRLine:       irLine,
		SlotLine:     slotLine,
		Alarms:       alarm.NewController(cfg.Alarm, indicator, beeper),
		Display:      display,
		Input:        input,
		Buttons:      buttons,
		Prescription: rx,
	})

	var webpushOptions *webpush.Options
	if secrets.VAPIDPublic != "" && secrets.VAPIDPrivate != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  secrets.VAPIDPublic,
			VAPIDPrivateKey: secrets.VAPIDPrivate,
			Subscriber:      cfg.Notify.PushSubject,
			TTL:             cfg.Notify.PushTTL,
		}
	}

	router := api.NewRouter(cfg.Server, appStore, webpushOptions, eng)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Println("shutdown signal received, stopping services...")
		cancel()
		<-engineDone
	case <-engineDone:
		logger.Println("monitoring session ended, stopping services...")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}
	logger.Println("server gracefully stopped")
}

// newLoadCellReader returns the bench load-cell stand-in: a reservoir
// starting at 500 g draining at 250 g/h.
func newLoadCellReader() device.RawReader {
	return device.NewDrainingRaw(time.Now(), 500, 250)
}

// simulatedDropRate is the pulse rate of the bench drop line when no sensor
// hardware is attached.
func simulatedDropRate() int {
	if v := os.Getenv("SIM_DROP_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 40
}
