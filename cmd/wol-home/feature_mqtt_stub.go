//go:build no_mqtt

package main

import (
	"log/slog"

	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/notify"
	"wol-go-home/internal/wake"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *hostdir.Loader, _ *wake.Dispatcher, _ *notify.Bus, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
