// Command cdu-controller runs the fan/pump control and safety loops of a
// liquid-cooling distribution unit and reports its state over MQTT and HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/config"
	"github.com/sweeney/cdu-controller/internal/controller"
	"github.com/sweeney/cdu-controller/internal/eeprom"
	"github.com/sweeney/cdu-controller/internal/gpio"
	"github.com/sweeney/cdu-controller/internal/mqtt"
	"github.com/sweeney/cdu-controller/internal/sensor"
	"github.com/sweeney/cdu-controller/internal/shell"
	"github.com/sweeney/cdu-controller/internal/status"
	"github.com/sweeney/cdu-controller/internal/web"
)

type options struct {
	configPath string
	broker     string
	httpAddr   string
	heartbeat  time.Duration
	eeprom     string
	sensors    string
	actuators  string
	gpioChip   string
	shell      bool
	simulate   bool
	printState bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "YAML table file (empty for built-in tables)")
	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&o.eeprom, "eeprom", "/var/lib/cdu-controller/eeprom.bin", "Persistent store file (empty for in-memory)")
	flag.StringVar(&o.sensors, "sensors", "", "Sensor hub Modbus TCP endpoint (overrides config)")
	flag.StringVar(&o.actuators, "actuators", "", "PWM controller Modbus TCP endpoint (overrides config)")
	flag.StringVar(&o.gpioChip, "gpio-chip", "", "GPIO chip for LEDs and ready lines (overrides config)")
	flag.BoolVar(&o.shell, "shell", false, "Run the interactive diagnostics shell")
	flag.BoolVar(&o.simulate, "simulate", false, "Run against a simulated plant instead of hardware")
	flag.BoolVar(&o.printState, "print-state", false, "Read every sensor once, print and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func loadConfig(o options) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.sensors != "" {
		cfg.Modbus.Sensors.Endpoint = o.sensors
	}
	if o.actuators != "" {
		cfg.Modbus.Actuators.Endpoint = o.actuators
	}
	if o.gpioChip != "" {
		cfg.GPIO.Chip = o.gpioChip
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// hardware holds the device seams the controller runs against.
type hardware struct {
	reader  sensor.Reader
	outputs interface {
		actuator.DeviceWriter
		actuator.PowerGood
	}
	gpio    gpio.Writer
	store   eeprom.Store
	closers []io.Closer
}

func (h *hardware) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

func openHardware(cfg *config.Config, o options) (*hardware, error) {
	h := &hardware{}
	ok := false
	defer func() {
		if !ok {
			h.Close()
		}
	}()

	if o.eeprom == "" {
		h.store = eeprom.NewMemory(eeprom.DefaultSize)
	} else {
		f, err := eeprom.OpenFile(o.eeprom, eeprom.DefaultSize, 0)
		if err != nil {
			return nil, fmt.Errorf("open eeprom: %w", err)
		}
		h.store = f
		h.closers = append(h.closers, f)
	}

	if o.simulate {
		topo, err := cfg.ActuatorTopology()
		if err != nil {
			return nil, err
		}
		p := newPlant(topo)
		h.outputs = p
		h.reader = p
		h.gpio = gpio.NewFakeWriter()
		ok = true
		return h, nil
	}

	ms := cfg.Modbus.Sensors
	r, err := sensor.NewModbusReader(ms.Endpoint, ms.UnitID, time.Duration(ms.TimeoutMs)*time.Millisecond, cfg.Points())
	if err != nil {
		return nil, fmt.Errorf("init sensor hub: %w", err)
	}
	h.reader = r
	h.closers = append(h.closers, r)

	ma := cfg.Modbus.Actuators
	w, err := actuator.NewModbusWriter(ma.Endpoint, ma.UnitID, time.Duration(ma.TimeoutMs)*time.Millisecond, cfg.Channels())
	if err != nil {
		return nil, fmt.Errorf("init pwm controller: %w", err)
	}
	h.outputs = w
	h.closers = append(h.closers, w)

	g, err := gpio.NewRealWriter(cfg.GPIO.Chip, cfg.OutputLines())
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	h.gpio = g
	h.closers = append(h.closers, g)

	ok = true
	return h, nil
}

func run(o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	hw, err := openHardware(cfg, o)
	if err != nil {
		return err
	}
	defer hw.Close()

	// Print state mode
	if o.printState {
		for _, id := range cfg.SensorIDs() {
			v, err := hw.reader.ReadSensor(id)
			if err != nil {
				fmt.Printf("%s: error: %v\n", id, err)
				continue
			}
			fmt.Printf("%s: %.2f\n", id, v)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := sensor.NewCache()
	poller := sensor.NewPoller(hw.reader, cache, cfg.SensorIDs())
	poller.PollOnce()
	go poller.Run(ctx, cfg.SensorPoll())

	clientID := mqtt.ClientID()
	publisher := mqtt.NewRealPublisher(o.broker, clientID)
	defer publisher.Close()

	ctl, err := controller.New(cfg, controller.Deps{
		Sensors:    cache,
		Actuators:  hw.outputs,
		PowerGood:  hw.outputs,
		Store:      hw.store,
		GPIO:       hw.gpio,
		Publisher:  publisher,
		InstanceID: clientID,
		Start:      time.Now(),
		Display: status.Config{
			FSCIntervalMs:       cfg.FSCTick().Milliseconds(),
			ThresholdIntervalMs: cfg.ThresholdInterval().Milliseconds(),
			HeartbeatMs:         o.heartbeat.Milliseconds(),
			Broker:              o.broker,
			HTTPPort:            o.httpAddr,
		},
	})
	if err != nil {
		return fmt.Errorf("init controller: %w", err)
	}
	defer ctl.Close()

	// Publish startup event with full status snapshot
	snap := ctl.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, ctl)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	if o.shell {
		sh, err := shell.New(ctl)
		if err != nil {
			return err
		}
		log.SetOutput(sh.Stdout())
		defer log.SetOutput(os.Stderr)
		go sh.Run(ctx, cancel)
	}

	log.Printf("started: fsc=%v threshold=%v broker=%s heartbeat=%v simulate=%v",
		cfg.FSCTick(), cfg.ThresholdInterval(), o.broker, o.heartbeat, o.simulate)

	fscTicker := time.NewTicker(cfg.FSCTick())
	defer fscTicker.Stop()
	thresholdTicker := time.NewTicker(cfg.ThresholdInterval())
	defer thresholdTicker.Stop()
	panelTicker := time.NewTicker(time.Second)
	defer panelTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctx, ctl, publisher, publisher, o.heartbeat, time.Now, ticks{
		fsc:       fscTicker.C,
		threshold: thresholdTicker.C,
		panel:     panelTicker.C,
	}, sigCh)
}

// ticks are the loop's time sources.
type ticks struct {
	fsc       <-chan time.Time
	threshold <-chan time.Time
	panel     <-chan time.Time
}

func runLoop(ctx context.Context, ctl *controller.Controller, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, heartbeat time.Duration, now func() time.Time, tk ticks, sig <-chan os.Signal) error {
	lastBeat := now()

	shutdown := func(reason string) error {
		event := mqtt.SystemEvent{
			Timestamp: now(),
			Event:     "SHUTDOWN",
			Reason:    reason,
			Retained:  true,
		}
		if mqttStatus != nil {
			ctl.Tracker().SetMQTTConnected(mqttStatus.IsConnected())
		}
		event.RawPayload = status.FormatStatusEvent(ctl.Snapshot(), "SHUTDOWN", reason)
		if err := publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish shutdown event: %v", err)
		} else {
			log.Printf("published shutdown event")
		}
		return nil
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			return shutdown(signalName(s))

		case <-ctx.Done():
			log.Printf("shell exited, shutting down")
			return shutdown("SHELL")

		case <-tk.fsc:
			for _, r := range ctl.TickFSC() {
				if r.Err != nil {
					log.Printf("zone %d (%s): %v", r.Zone, r.Target, r.Err)
				}
			}

		case <-tk.threshold:
			for _, e := range ctl.TickThreshold() {
				log.Printf("threshold: %s (%s) %s -> %s value=%.2f", e.Name, e.Sensor, e.Previous, e.Status, e.Value)
			}
			if mqttStatus != nil {
				ctl.Tracker().SetMQTTConnected(mqttStatus.IsConnected())
			}

			t := now()
			if heartbeat <= 0 || t.Sub(lastBeat) < heartbeat {
				continue
			}
			lastBeat = t
			snap := ctl.Snapshot()
			log.Printf("heartbeat: uptime=%v control=%v redundancy=%s",
				snap.Uptime().Truncate(time.Second), snap.Flags.Control, snap.Flags.Redundancy)
			hbEvent := mqtt.SystemEvent{
				Timestamp:  t,
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}

		case <-tk.panel:
			ctl.TickPanel()
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
