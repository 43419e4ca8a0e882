package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/gps"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

// MQTTPusher publishes each class to <prefix>/<class> on a broker. Payloads
// are sealed with the push secret, see Seal.
type MQTTPusher struct {
	Client mqtt.Client
	Prefix string
	Secret string
	QoS    byte
}

// DialMQTT connects to broker (host:port) with a random client id.
func DialMQTT(ctx context.Context, broker, prefix, secret string) (*MQTTPusher, error) {
	client, err := ConnectMQTT(ctx, broker, nil)
	if err != nil {
		return nil, err
	}
	slog.Info("MQTT connection established", "broker", broker, "prefix", prefix)
	return &MQTTPusher{Client: client, Prefix: prefix, Secret: secret}, nil
}

// Seal prefixes payload with its HMAC-SHA256 under secret.
func Seal(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return append(mac.Sum(nil), payload...)
}

// Open verifies a sealed message and returns its payload. A missing or wrong
// MAC yields ErrUnauthorized.
func Open(secret string, msg []byte) ([]byte, error) {
	if len(msg) < sha256.Size {
		return nil, ErrUnauthorized
	}
	sum, payload := msg[:sha256.Size], msg[sha256.Size:]
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(sum, mac.Sum(nil)) {
		return nil, ErrUnauthorized
	}
	return payload, nil
}

// ConnectMQTT returns a connected, auto-reconnecting client. onConnect, if
// set, runs after every (re)connect and is where subscriptions belong.
func ConnectMQTT(ctx context.Context, broker string, onConnect mqtt.OnConnectHandler) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID("pistream-" + uuid.NewString())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("MQTT connection lost, will auto-reconnect", "broker", broker, "error", err)
	}
	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !waitToken(ctx, token, 5*time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

func (p *MQTTPusher) PushFrame(ctx context.Context, jpeg []byte) error {
	return p.publish(ctx, ClassFrame, jpeg)
}

func (p *MQTTPusher) PushDetections(ctx context.Context, dets []vision.Detection) error {
	if dets == nil {
		dets = []vision.Detection{}
	}
	return p.publishJSON(ctx, ClassDetections, dets)
}

func (p *MQTTPusher) PushStatus(ctx context.Context, status string) error {
	return p.publishJSON(ctx, ClassStatus, statusPayload{Status: status})
}

func (p *MQTTPusher) PushGPS(ctx context.Context, fix gps.Fix) error {
	return p.publishJSON(ctx, ClassGPS, fix)
}

func (p *MQTTPusher) Close() {
	p.Client.Disconnect(250)
}

func (p *MQTTPusher) publishJSON(ctx context.Context, class string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.publish(ctx, class, payload)
}

func (p *MQTTPusher) publish(ctx context.Context, class string, payload []byte) error {
	if !p.Client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}
	topic := p.Prefix + "/" + class
	token := p.Client.Publish(topic, p.QoS, class == ClassStatus, Seal(p.Secret, payload))
	if !waitToken(ctx, token, 2*time.Second) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	return token.Error()
}

// waitToken waits for t until ctx is done or limit elapses.
func waitToken(ctx context.Context, t mqtt.Token, limit time.Duration) bool {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-t.Done():
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}
