package handlers

import (
	"context"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/relay"
)

// Subscriber feeds the store from the device's MQTT topics
// (<prefix>/frame, <prefix>/ml, <prefix>/status, <prefix>/gps). Messages must
// be sealed with the push secret.
type Subscriber struct {
	Store  *Store
	Prefix string
	Secret string
	QoS    byte
}

// Filters returns the subscription set for SubscribeMultiple.
func (s *Subscriber) Filters() map[string]byte {
	filters := make(map[string]byte, 4)
	for _, class := range []string{ClassFrame, ClassDetections, ClassStatus, ClassGPS} {
		filters[s.Prefix+"/"+class] = s.QoS
	}
	return filters
}

// OnConnect subscribes on every (re)connect.
func (s *Subscriber) OnConnect(client mqtt.Client) {
	token := client.SubscribeMultiple(s.Filters(), s.handle)
	token.Wait()
	if err := token.Error(); err != nil {
		slog.Error("MQTT subscribe failed", "prefix", s.Prefix, "error", err)
		return
	}
	slog.Info("Subscribed to device topics", "prefix", s.Prefix)
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	_ = s.Handle(msg.Topic(), msg.Payload())
}

// Handle applies one message. Topics outside the prefix are ignored and
// messages not sealed with the secret are rejected.
func (s *Subscriber) Handle(topic string, msg []byte) error {
	class, ok := s.classOf(topic)
	if !ok {
		return nil
	}
	payload, err := relay.Open(s.Secret, msg)
	if err != nil {
		record(context.Background(), class, "unauthorized")
		slog.Warn("Rejected unsigned MQTT message", "topic", topic)
		return err
	}
	if err := s.Store.Apply(class, payload); err != nil {
		record(context.Background(), class, "rejected")
		slog.Debug("Rejected MQTT message", "topic", topic, "error", err)
		return err
	}
	record(context.Background(), class, "ok")
	return nil
}

func (s *Subscriber) classOf(topic string) (string, bool) {
	class, ok := strings.CutPrefix(topic, s.Prefix+"/")
	return class, ok && class != ""
}

func record(ctx context.Context, class, result string) {
	pushesCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("result", result),
	))
}
