//go:build !no_mqtt

// Package mqtt exposes directory hosts to Home Assistant as wake buttons.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/notify"
	"wol-go-home/internal/wake"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// DirectoryLoader builds the current host directory.
type DirectoryLoader interface {
	Load(ctx context.Context) (*hostdir.Directory, error)
}

// Waker sends a wake packet with the configured defaults.
type Waker interface {
	Dispatch(ctx context.Context, mac, name string) (*wake.Outcome, error)
}

// hostState is the retained per-host state payload.
type hostState struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
	Time    string `json:"time"`
}

// Bridge publishes one HA button per directory host and turns button
// presses into wake requests.
type Bridge struct {
	client pahomqtt.Client
	dir    DirectoryLoader
	waker  Waker
	events *notify.Bus
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	// publish is replaced in tests.
	publish func(topic string, payload []byte, retained bool)

	// MACs with live discovery entries.
	mu    sync.Mutex
	known map[string]bool
}

func newBridge(dir DirectoryLoader, waker Waker, events *notify.Bus, prefix string, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		dir:    dir,
		waker:  waker,
		events: events,
		prefix: prefix,
		logger: logger.With("component", "mqtt"),
		known:  make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(dir DirectoryLoader, waker Waker, events *notify.Bus, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(dir, waker, events, cfg.TopicPrefix, logger)
	b.publish = b.publishMQTT

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "wol-go-home"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to notifications and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.events.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event notify.Event) {
	switch event.Type {
	case notify.EventDirectoryReloaded:
		if dir, ok := event.Data.(*hostdir.Directory); ok && dir != nil {
			b.syncDiscovery(dir)
		}
	case notify.EventWakeSent:
		b.publishHostState(event, "sent")
	case notify.EventWakeFailed:
		b.publishHostState(event, "failed")
	}

	if event.Type != notify.EventPinState && event.Message != "" {
		b.publish(b.prefix+"/bridge/notification", mustJSON(event), false)
	}
}

// eventMAC extracts the target MAC from wake event data.
func eventMAC(data any) string {
	switch d := data.(type) {
	case *wake.Outcome:
		if d != nil {
			return d.MAC
		}
	case map[string]string:
		return d["mac"]
	}
	return ""
}

func (b *Bridge) publishHostState(event notify.Event, result string) {
	mac := eventMAC(event.Data)
	if !hostdir.ValidMAC(mac) {
		return
	}
	state := hostState{
		Result:  result,
		Message: event.Message,
		Time:    event.Time.UTC().Format(time.RFC3339),
	}
	b.publish(hostTopic(b.prefix, mac), mustJSON(state), true)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	dir, err := b.dir.Load(ctx)
	if err != nil {
		b.logger.Error("load directory for discovery", "err", err)
		return
	}
	b.syncDiscovery(dir)
}

// syncDiscovery publishes discovery for every host in dir and removes the
// entries of hosts that disappeared since the last sync.
func (b *Bridge) syncDiscovery(dir *hostdir.Directory) {
	current := make(map[string]bool)
	for _, h := range dir.Hosts() {
		msgs := buildDiscovery(h, b.prefix)
		if len(msgs) == 0 {
			continue
		}
		current[h.MAC] = true
		for _, msg := range msgs {
			b.publish(msg.Topic, msg.Payload, true)
		}
	}

	b.mu.Lock()
	stale := make([]string, 0)
	for mac := range b.known {
		if !current[mac] {
			stale = append(stale, mac)
		}
	}
	b.known = current
	b.mu.Unlock()

	for _, mac := range stale {
		for _, msg := range buildRemoveDiscovery(mac) {
			b.publish(msg.Topic, msg.Payload, true)
		}
	}
	b.logger.Info("published HA discovery", "hosts", len(current), "removed", len(stale))
}

// subscribeCommands uses one wildcard subscription, so hosts added later
// need no resubscribe.
func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/+/wake"
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		mac, ok := parseCommandTopic(b.prefix, msg.Topic())
		if !ok {
			b.logger.Warn("ignoring command on unexpected topic", "topic", msg.Topic())
			return
		}
		b.handleCommand(mac, msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT subscribe error", "topic", topic, "err", err)
		}
	}()
}

func (b *Bridge) handleCommand(mac string, payload []byte) {
	if p := strings.TrimSpace(string(payload)); p != "" && !strings.EqualFold(p, pressPayload) {
		b.logger.Warn("ignoring unknown wake payload", "mac", mac, "payload", p)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 15*time.Second)
	defer cancel()

	name := ""
	if dir, err := b.dir.Load(ctx); err == nil {
		if h, ok := dir.Lookup(mac); ok {
			name = h.Name
		}
	}
	// The dispatcher publishes the outcome; handleEvent turns it into
	// host state.
	if _, err := b.waker.Dispatch(ctx, mac, name); err != nil {
		b.logger.Warn("wake via MQTT failed", "mac", mac, "err", err)
	}
}

func (b *Bridge) publishMQTT(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
