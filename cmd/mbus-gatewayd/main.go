// mbus-gatewayd is the long-running daemon: it receives raw wM-Bus
// frames from a gateway bridge, decodes and decrypts them, aggregates
// per-meter state, persists readings, and pushes them to a live
// listener.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agsys/mbus-decoder/internal/analyzer"
	"github.com/agsys/mbus-decoder/internal/config"
	"github.com/agsys/mbus-decoder/internal/driver"
	"github.com/agsys/mbus-decoder/internal/gateway"
	"github.com/agsys/mbus-decoder/internal/live"
	"github.com/agsys/mbus-decoder/internal/mbus"
	"github.com/agsys/mbus-decoder/internal/security"
	"github.com/agsys/mbus-decoder/internal/storage"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "mbus-gatewayd",
		Short: "wM-Bus gateway daemon",
		Long:  "Receives raw wM-Bus telegrams from a gateway bridge, decodes and persists readings, and pushes them live.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE:  runDaemon,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mbus-gatewayd v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/mbus-gatewayd/config.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	keyStore := security.NewKeyStore()
	for identification, keyHex := range cfg.Security.Keys {
		key, err := security.ParseKey(keyHex)
		if err != nil {
			return fmt.Errorf("invalid key for meter %s: %w", identification, err)
		}
		keyStore.Set(identification, key)
	}

	registry := driver.DefaultRegistry()
	suggestions := driver.DefaultSuggestionTable()
	meters := analyzer.New(registry, suggestions)

	registrations, err := db.GetAllMeterRegistrations()
	if err != nil {
		return fmt.Errorf("failed to load meter registrations: %w", err)
	}
	for _, r := range registrations {
		reg := analyzer.Registration{
			Name:           r.Name,
			Identification: r.Identification,
			DriverName:     r.DriverName,
			LinkMode:       r.LinkMode,
		}
		meters.Register(reg)
	}

	var liveClient *live.Client
	if cfg.Live.URL != "" {
		liveCfg := live.DefaultConfig()
		liveCfg.URL = cfg.Live.URL
		liveCfg.PropertyUID = cfg.Live.PropertyUID
		liveCfg.APIKey = cfg.Live.APIKey
		liveClient = live.New(liveCfg)
	}

	gatewayCfg := gateway.DefaultConfig()
	if cfg.Gateway.EventURL != "" {
		gatewayCfg.EventURL = cfg.Gateway.EventURL
	}
	receiver := gateway.New(gatewayCfg)

	receiver.SetFrameCallback(func(frame gateway.Frame) {
		handleFrame(frame, db, meters, registry, keyStore, liveClient)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if liveClient != nil {
		liveClient.Start(ctx)
	}
	if err := receiver.Start(); err != nil {
		return fmt.Errorf("failed to start gateway receiver: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("mbus-gatewayd started")
	sig := <-sigChan
	log.Printf("received signal %v, shutting down...", sig)

	if err := receiver.Stop(); err != nil {
		log.Printf("error stopping gateway receiver: %v", err)
	}
	if liveClient != nil {
		liveClient.Stop()
	}

	log.Println("shutdown complete")
	return nil
}

func handleFrame(frame gateway.Frame, db *storage.DB, meters *analyzer.Analyzer,
	registry *driver.Registry, keyStore *security.KeyStore, liveClient *live.Client) {

	telegram, err := mbus.FromBytes(frame.Raw)
	if err != nil {
		log.Printf("gatewayd: failed to parse frame %s: %v", frame.ScanID, err)
		return
	}

	if telegram.Header.Encrypted {
		key, ok := keyStore.Lookup(telegram.Header.Identification)
		if !ok {
			log.Printf("gatewayd: no key for meter %s", telegram.Header.Identification)
			return
		}
		iv, err := security.GenerateIV(telegram.Header.Manufacturer, telegram.Header.Identification,
			telegram.Header.Version, uint8(telegram.Header.DeviceType))
		if err != nil {
			log.Printf("gatewayd: IV synthesis failed for %s: %v", telegram.Header.Identification, err)
			return
		}
		result, err := security.Decrypt(key, iv, telegram.EncryptedPayload())
		if err != nil {
			log.Printf("gatewayd: decryption failed for %s: %v", telegram.Header.Identification, err)
			return
		}
		telegram.SetPlaintext(result.Plaintext)
	}

	records, err := telegram.Records()
	if err != nil {
		log.Printf("gatewayd: record parsing stopped early for %s: %v", telegram.Header.Identification, err)
	}

	now := time.Now()
	meters.Process(telegram.Header, records, frame.Raw, now)

	if _, err := db.InsertTelegram(&storage.TelegramRecord{
		Identification: telegram.Header.Identification,
		RawHex:         fmt.Sprintf("%x", frame.Raw),
		Encrypted:      telegram.Header.Encrypted,
		RecordCount:    len(records),
		ObservedAt:     now,
	}); err != nil {
		log.Printf("gatewayd: failed to persist telegram: %v", err)
	}

	reading, err := registry.Process(telegram.Header, records)
	if err != nil {
		log.Printf("gatewayd: %v", err)
		return
	}

	fields := make(map[string]interface{}, len(reading))
	for field, value := range reading {
		fields[field] = value
		var numeric *float64
		switch v := value.(type) {
		case float64:
			numeric = &v
		case int64:
			f := float64(v)
			numeric = &f
		}
		if _, err := db.InsertReading(&storage.Reading{
			Identification: telegram.Header.Identification,
			FieldName:      field,
			ValueNumeric:   numeric,
			ObservedAt:     now,
		}); err != nil {
			log.Printf("gatewayd: failed to persist reading: %v", err)
		}
	}

	if liveClient != nil && liveClient.IsConnected() {
		if err := liveClient.SendReading(telegram.Header.Identification, fields); err != nil {
			log.Printf("gatewayd: failed to push reading: %v", err)
		}
	}
}
