package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/stepchange-tokyo/pointsconversion/lib/configutil"
	"github.com/stepchange-tokyo/pointsconversion/lib/scrapers/spat4"
	"github.com/stepchange-tokyo/pointsconversion/lib/serviceutil"
	"github.com/stepchange-tokyo/pointsconversion/lib/telemetry"
	"github.com/stepchange-tokyo/pointsconversion/services/pointconversion"
)

type ScheduleConfig struct {
	DailyConversionTime pointconversion.TimeOfDay `json:"daily_conversion_time"`
	MinStartDelayMs     int                       `json:"min_start_delay_ms"`
	MaxStartDelayMs     int                       `json:"max_start_delay_ms"`
}

type ClientConfig struct {
	BaseUrl                 string `json:"base_url"`
	RequestTimeoutSeconds   int    `json:"request_timeout_seconds"`
	MaxRetries              int    `json:"max_retries"`
	MinConversionWaitMs     int    `json:"min_conversion_wait_ms"`
	MaxConversionWaitMs     int    `json:"max_conversion_wait_ms"`
	MaxConversionsPerDay    int    `json:"max_conversions_per_day"`
	MinimumConversionAmount int64  `json:"minimum_conversion_amount"`
	PointsInputValue        string `json:"points_input_value"`
}

type Config struct {
	Port     int             `json:"port"`
	Accounts []spat4.Account `json:"accounts"`
	Schedule ScheduleConfig  `json:"schedule"`
	Client   ClientConfig    `json:"client"`
}

func main() {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}

	t, err := telemetry.SetupFromEnv(ctx, "pointsconversion")
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("no telemetry.json5 found, traces and metrics are disabled")
	} else if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())

	clientOpts := spat4.ClientOptions{
		BaseURL:                 config.Client.BaseUrl,
		RequestTimeout:          time.Duration(config.Client.RequestTimeoutSeconds) * time.Second,
		MaxRetries:              config.Client.MaxRetries,
		MinConversionWait:       time.Duration(config.Client.MinConversionWaitMs) * time.Millisecond,
		MaxConversionWait:       time.Duration(config.Client.MaxConversionWaitMs) * time.Millisecond,
		MaxConversionsPerDay:    config.Client.MaxConversionsPerDay,
		MinimumConversionAmount: config.Client.MinimumConversionAmount,
		PointsInputValue:        config.Client.PointsInputValue,
	}
	if err := clientOpts.Validate(); err != nil {
		serviceutil.Fatal("invalid client config", err)
	}

	service, err := pointconversion.NewService(
		config.Accounts,
		pointconversion.Options{
			DailyConversionTime: config.Schedule.DailyConversionTime,
			MinStartDelay:       time.Duration(config.Schedule.MinStartDelayMs) * time.Millisecond,
			MaxStartDelay:       time.Duration(config.Schedule.MaxStartDelayMs) * time.Millisecond,
		},
		func(account spat4.Account) (pointconversion.SessionClient, error) {
			return spat4.NewClient(account, clientOpts)
		},
	)
	if err != nil {
		serviceutil.Fatal("failed to build conversion service", err)
	}

	service.Start()
	defer service.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("Waiting"))
	})

	port := config.Port
	if port == 0 {
		port = 8080
	}
	go serviceutil.StartHttpServer(port, mux)

	<-ctx.Done()
}
