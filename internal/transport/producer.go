package transport

import (
	"context"
	"crypto/tls"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/shipsync/offline-sync/internal/errs"
	"github.com/shipsync/offline-sync/internal/model"
)

// BusConfig is the subset of §6's bus.* configuration the transport layer
// needs to dial the cluster.
type BusConfig struct {
	Brokers  []string
	ClientID string
	SSL      bool
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string
}

func clientOpts(cfg BusConfig) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
	}
	if cfg.SSL {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	switch cfg.SASLMechanism {
	case "PLAIN":
		opts = append(opts, kgo.SASL(plain.Auth{User: cfg.SASLUsername, Pass: cfg.SASLPassword}.AsMechanism()))
	case "SCRAM-SHA-256":
		opts = append(opts, kgo.SASL(scram.Auth{User: cfg.SASLUsername, Pass: cfg.SASLPassword}.AsSha256Mechanism()))
	case "SCRAM-SHA-512":
		opts = append(opts, kgo.SASL(scram.Auth{User: cfg.SASLUsername, Pass: cfg.SASLPassword}.AsSha512Mechanism()))
	}
	return opts
}

// Producer implements C8: publishes SyncMessages, keyed by messageId so the
// bus partitioner preserves per-document order when key-aware (§4.8).
type Producer struct {
	client *kgo.Client
}

func NewProducer(cfg BusConfig) (*Producer, error) {
	client, err := kgo.NewClient(clientOpts(cfg)...)
	if err != nil {
		return nil, errs.Config("building bus producer", err)
	}
	return &Producer{client: client}, nil
}

// Publish sends msg to topic and waits for the broker ack. Non-idempotent
// transport errors surface as errs.KindTransient (retriable); a caller-side
// encode failure is errs.KindSchema (fatal, per §4.8's producer contract).
func (p *Producer) Publish(ctx context.Context, topic string, msg model.SyncMessage) error {
	body, err := Encode(msg)
	if err != nil {
		return err // already classified KindSchema by Encode
	}
	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(msg.MessageID),
		Value: body,
	}
	result := p.client.ProduceSync(ctx, rec)
	if err := result.FirstErr(); err != nil {
		return errs.Transient("publishing sync message", err)
	}
	return nil
}

// Healthy performs a cheap broker metadata round-trip, for the HTTP API's
// health/ready and health endpoints (§6).
func (p *Producer) Healthy(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() { p.client.Close() }
