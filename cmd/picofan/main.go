// Command picofan drives a fan from a DHT temperature sensor and exchanges
// control parameters and telemetry over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	flags "github.com/jessevdk/go-flags"

	"github.com/sweeney/picofan/internal/config"
	"github.com/sweeney/picofan/internal/control"
	"github.com/sweeney/picofan/internal/gpio"
	"github.com/sweeney/picofan/internal/logic"
	"github.com/sweeney/picofan/internal/mqtt"
	"github.com/sweeney/picofan/internal/pwm"
	"github.com/sweeney/picofan/internal/sensor"
	"github.com/sweeney/picofan/internal/status"
	"github.com/sweeney/picofan/internal/telemetry"
	"github.com/sweeney/picofan/internal/web"
)

type options struct {
	Config string `short:"c" long:"config" env:"PICOFAN_CONFIG" description:"YAML configuration file (default /etc/picofan/picofan.yaml)"`

	MQTTHost     string `long:"mqtt-host" env:"PICOFAN_MQTT_HOST" description:"MQTT broker host"`
	MQTTPort     int    `long:"mqtt-port" env:"PICOFAN_MQTT_PORT" description:"MQTT broker port"`
	MQTTUser     string `long:"mqtt-user" env:"PICOFAN_MQTT_USER" description:"MQTT username"`
	MQTTPassword string `long:"mqtt-password" env:"PICOFAN_MQTT_PASSWORD" description:"MQTT password"`
	MQTTTLS      bool   `long:"mqtt-tls" env:"PICOFAN_MQTT_TLS" description:"Connect to the broker over TLS"`

	HTTPAddr   string `long:"http" env:"PICOFAN_HTTP" description:"HTTP status address (\"off\" disables)"`
	LogLevel   string `long:"log-level" env:"PICOFAN_LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogJSON    bool   `long:"log-json" env:"PICOFAN_LOG_JSON" description:"Log as JSON"`
	PrintState bool   `long:"print-state" description:"Read the sensor once, print the resulting duty and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger, err := newLogger(os.Stderr, opts.LogLevel, opts.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if err := run(opts, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	ho := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, ho)), nil
	}
	return slog.New(slog.NewTextHandler(w, ho)), nil
}

// loadConfig reads the configuration file and applies command line and
// environment overrides. The default path may be absent.
func loadConfig(opts options) (config.Config, error) {
	path, required := opts.Config, true
	if path == "" {
		path, required = config.DefaultPath, false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return cfg, err
	}

	if opts.MQTTHost != "" {
		cfg.MQTT.Host = opts.MQTTHost
	}
	if opts.MQTTPort != 0 {
		cfg.MQTT.Port = opts.MQTTPort
	}
	if opts.MQTTUser != "" {
		cfg.MQTT.Username = opts.MQTTUser
	}
	if opts.MQTTPassword != "" {
		cfg.MQTT.Password = opts.MQTTPassword
	}
	if opts.MQTTTLS {
		cfg.MQTT.TLS = true
	}
	switch opts.HTTPAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = opts.HTTPAddr
	}
	cfg.MQTT.ClientID = clientID(cfg.MQTT.ClientID)

	return cfg, cfg.Validate()
}

// clientID returns configured, or a random picofan-xxxxxxxx id.
func clientID(configured string) string {
	if configured != "" {
		return configured
	}
	return "picofan-" + uuid.New().String()[:8]
}

func run(opts options, logger *slog.Logger) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	reader, err := sensor.NewIIOReader(cfg.Sensor.Device)
	if err != nil {
		return fmt.Errorf("init sensor: %w", err)
	}
	defer reader.Close()

	if opts.PrintState {
		return printState(os.Stdout, reader, cfg.Control.Params())
	}

	fan, err := pwm.NewSysfsDriver(cfg.PWM.Chip, cfg.PWM.Channel, cfg.PWM.Frequency)
	if err != nil {
		return fmt.Errorf("init pwm: %w", err)
	}
	defer fan.Close()

	var led gpio.Output = gpio.Nop{}
	if cfg.LED.Enabled {
		out, err := gpio.NewRealOutput(cfg.LED.Chip, cfg.LED.Pin)
		if err != nil {
			return fmt.Errorf("init led: %w", err)
		}
		led = out
	}
	defer led.Close()

	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
	session := mqtt.NewRealSession(mqtt.Options{
		Broker:         cfg.MQTT.BrokerURL(),
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		KeepAlive:      cfg.MQTT.KeepAlive,
		TLS:            cfg.MQTT.TLSConfig(),
		WillTopic:      topics.Topic(mqtt.ChannelSystem),
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		QueueSize:      cfg.MQTT.QueueSize,
		Logger:         logger.With("component", "mqtt"),
	})

	a := newApp(cfg, logger, time.Now(), session, mqtt.NewInterfaceProvider(cfg.Network.Interface), reader, fan, led)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if s, ok := <-sigCh; ok {
			logger.Info("shutting down", "signal", s.String())
			cancel(&signalCause{sig: s})
		}
	}()

	if err := a.start(ctx); err != nil {
		return err
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, a.tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	ticker := time.NewTicker(cfg.Control.PollInterval)
	defer ticker.Stop()

	err = a.loop.Run(ctx, ticker.C)
	a.shutdown(shutdownReason(context.Cause(ctx)))
	return err
}

// app holds the wired components between startup and shutdown.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	topics  mqtt.Topics
	manager *mqtt.Manager
	tracker *status.Tracker
	loop    *control.Loop

	announced bool
}

func newApp(cfg config.Config, logger *slog.Logger, start time.Time, session mqtt.Session, network mqtt.NetworkProvider, reader sensor.Reader, fan pwm.Driver, led gpio.Output) *app {
	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}

	manager := mqtt.NewManager(session, network, mqtt.ManagerConfig{
		NetworkPoll:    cfg.Network.PollInterval,
		ReconnectDelay: cfg.Reconnect.Delay,
		RetryDelay:     cfg.Reconnect.RetryDelay,
		Attempts:       cfg.Reconnect.Attempts,
	}, logger.With("component", "mqtt"))

	tracker := status.NewTracker(start, cfg.Control.Params(), status.Config{
		PollMs:      cfg.Control.PollInterval.Milliseconds(),
		SampleMs:    cfg.Control.SampleInterval.Milliseconds(),
		Broker:      cfg.MQTT.BrokerURL(),
		TopicPrefix: cfg.MQTT.TopicPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	manager.OnStateChange(func(s mqtt.State) { tracker.SetConnection(s.String()) })

	loop := control.New(control.Config{
		FirstSample:    cfg.Control.FirstSample,
		SampleInterval: cfg.Control.SampleInterval,
	}, control.Deps{
		Sensor:    reader,
		Fan:       fan,
		LED:       led,
		Conn:      manager,
		Params:    logic.NewParameterStore(cfg.Control.Params()),
		Telemetry: telemetry.New(manager, topics),
		Topics:    topics,
		Tracker:   tracker,
		Log:       logger.With("component", "control"),
	})
	manager.Subscribe(topics.Inputs()...)
	manager.SetHandler(loop.HandleMessage)

	a := &app{
		cfg:     cfg,
		log:     logger,
		topics:  topics,
		manager: manager,
		tracker: tracker,
		loop:    loop,
	}
	manager.OnConnect(a.announce)
	return a
}

// start waits for the network and opens the session. Only a network timeout
// or cancellation is fatal; a failed first connect is retried by the control
// loop, and STARTUP goes out once that succeeds.
func (a *app) start(ctx context.Context) error {
	link, err := a.manager.ConnectNetwork(ctx, a.cfg.Network.Timeout)
	if err != nil {
		return fmt.Errorf("wait for network: %w", err)
	}
	a.tracker.SetNetwork(&status.NetworkInfo{Interface: link.Interface, IP: link.Addr})

	if err := a.manager.ConnectSession(ctx); err != nil {
		a.log.Warn("initial mqtt connect failed, will retry", "broker", a.cfg.MQTT.BrokerURL(), "err", err)
	}
	return nil
}

// announce runs after every complete connect. The first publishes STARTUP,
// later ones RECONNECTED, replacing the retained last-will OFFLINE.
func (a *app) announce() {
	if a.announced {
		a.publishSystem("RECONNECTED", "")
		return
	}
	a.announced = true
	a.publishSystem("STARTUP", "")
	a.log.Info("started",
		"broker", a.cfg.MQTT.BrokerURL(),
		"client_id", a.cfg.MQTT.ClientID,
		"prefix", a.cfg.MQTT.TopicPrefix,
		"sample_interval", a.cfg.Control.SampleInterval)
}

// shutdown announces SHUTDOWN and closes the session.
func (a *app) shutdown(reason string) {
	a.publishSystem("SHUTDOWN", reason)
	if err := a.manager.Close(); err != nil {
		a.log.Warn("mqtt disconnect", "err", err)
	}
}

func (a *app) publishSystem(event, reason string) {
	payload := status.FormatStatusEvent(a.tracker.Snapshot(), event, reason)
	if err := a.manager.PublishRetained(a.topics.Topic(mqtt.ChannelSystem), payload); err != nil {
		a.log.Warn("failed to publish system event", "event", event, "err", err)
		return
	}
	a.log.Info("published system event", "event", event)
}

// signalCause is the cancellation cause recorded when a signal arrives.
type signalCause struct {
	sig os.Signal
}

func (c *signalCause) Error() string {
	return "received " + c.sig.String()
}

func shutdownReason(cause error) string {
	var sc *signalCause
	if !errors.As(cause, &sc) {
		return "UNKNOWN"
	}
	switch sc.sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

func printState(w io.Writer, reader sensor.Reader, p logic.Params) error {
	m, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	level := logic.ComputeWith(m.Temperature, p)
	fmt.Fprintf(w, "temperature: %s C, humidity: %s %%, duty: %d (%d%%)\n",
		telemetry.FormatDecimal(m.Temperature),
		telemetry.FormatDecimal(m.Humidity),
		level.Duty, level.Percent)
	return nil
}
