// Command gpio-hub exposes a GPIO chip's lines as switches, binary sensors and
// covers, and bridges them to MQTT and a small HTTP status page.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/config"
	"github.com/sweeney/gpio-hub/internal/gpio"
	"github.com/sweeney/gpio-hub/internal/hub"
	"github.com/sweeney/gpio-hub/internal/logging"
	"github.com/sweeney/gpio-hub/internal/loop"
	"github.com/sweeney/gpio-hub/internal/mqtt"
	"github.com/sweeney/gpio-hub/internal/state"
	"github.com/sweeney/gpio-hub/internal/status"
	"github.com/sweeney/gpio-hub/internal/web"
)

// statusRefresh is how often the tracker's MQTT connection flag is updated
// and changed switch states are saved.
const statusRefresh = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML configuration file (empty: defaults, no devices)")
	logLevel := flag.String("loglevel", "", "Log level override (debug, info, warn, error)")
	broker := flag.String("broker", "", "MQTT broker override")
	httpAddr := flag.String("http", "", "HTTP status address override")
	printState := flag.Bool("print-state", false, "Print the chip and the configured lines, then exit")

	flag.Parse()

	cfg, err := loadConfig(*configPath, *logLevel, *broker, *httpAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *printState, log); err != nil {
		log.WithError(err).Fatal("fatal")
	}
}

// loadConfig reads the file, or the defaults without one, and applies the
// command line overrides.
func loadConfig(path, logLevel, broker, httpAddr string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if broker != "" {
		cfg.MQTT.Broker = broker
		cfg.MQTT.Disabled = false
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	return cfg, nil
}

func hubConfig(cfg *config.Config) hub.Config {
	return hub.Config{
		Path:        cfg.Chip.Path,
		Candidates:  cfg.Chip.Candidates,
		LabelMarker: cfg.Chip.LabelMarker,
		Consumer:    cfg.Chip.Consumer,
		Liveness:    cfg.Chip.Liveness,
	}
}

func run(cfg *config.Config, printState bool, log *logrus.Entry) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := loop.New(cfg.Workers, logging.Component(log, "loop"))
	go l.Run(ctx)
	defer l.Stop()

	h := hub.New(hubConfig(cfg), l, gpio.Open, logging.Component(log, "hub"))
	if err := h.Start(ctx); err != nil {
		return err
	}

	if printState {
		defer l.Call(func() { h.Close() })
		return printLines(os.Stdout, h.Chips(), cfg.Offsets())
	}

	store := state.New(cfg.StateFile)
	if err := store.Load(); err != nil {
		log.WithError(err).Warn("state file unreadable, starting fresh")
	}

	var publisher mqtt.Publisher = mqtt.NopPublisher{}
	var mqttStatus mqtt.ConnectionStatus = mqtt.NopPublisher{}
	if !cfg.MQTT.Disabled && cfg.MQTT.Broker != "" {
		p := mqtt.NewRealPublisher(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			Prefix:   cfg.MQTT.Prefix,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Buffer:   cfg.MQTT.Buffer,
		}, logging.Component(log, "mqtt"))
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		Prefix:      cfg.MQTT.Prefix,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	d := newDaemon(h, publisher, mqttStatus, tracker, store, logging.Component(log, "daemon"))
	d.trackChip()
	d.addDevices(ctx, cfg)

	if err := publisher.Subscribe(func(cmd mqtt.Command) {
		d.execute(cmd.ID, cmd.Action)
	}); err != nil {
		log.WithError(err).Error("command subscription failed")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, d.execute)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.HTTP.Addr).Info("http status server listening")
	}

	d.publishStatus("STARTUP", "", true)
	log.WithFields(logrus.Fields{
		"broker":    cfg.MQTT.Broker,
		"heartbeat": cfg.Heartbeat,
		"devices":   len(cfg.Switches) + len(cfg.Sensors) + len(cfg.Covers),
	}).Info("started")

	refresh := time.NewTicker(statusRefresh)
	defer refresh.Stop()

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		hb := time.NewTicker(cfg.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(d, refresh.C, heartbeat, sigCh)
}

// runLoop waits for a signal, refreshing status and publishing heartbeats,
// then shuts the daemon down.
func runLoop(d *daemon, refresh, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			d.log.WithField("signal", s).Info("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			return d.shutdown(signalName)

		case <-refresh:
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
			d.saveState()

		case <-heartbeat:
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			d.trackChip()
			d.saveState()
			snap := d.publishStatus("HEARTBEAT", "", false)
			d.log.WithFields(logrus.Fields{
				"uptime":  snap.Uptime().Truncate(time.Second),
				"devices": len(snap.Devices),
				"changes": snap.Counts.Changes,
			}).Info("heartbeat")
		}
	}
}

// printLines reports the chip and who holds each configured offset.
func printLines(w io.Writer, chips *hub.ChipManager, offsets []int) error {
	info, err := chips.Info()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s [%s] %d lines (%s)\n", info.Name, info.Label, info.Lines, info.Path)
	for _, o := range offsets {
		li, err := chips.LineInfo(o)
		if err != nil {
			return errors.Wrapf(err, "line %d", o)
		}
		owner := "free"
		if li.Used {
			owner = fmt.Sprintf("used by %q", li.Consumer)
		}
		fmt.Fprintf(w, "line %d: %s\n", o, owner)
	}
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
