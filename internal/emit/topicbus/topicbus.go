// Package topicbus implements the topic-bus Emitter variant: a Kafka
// producer publishing names and values records to separate topics.
package topicbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"ratesink/internal/cell"
	"ratesink/pkg/circuit"
	"ratesink/pkg/clock"
)

// AuthMechanism names a supported SASL mechanism.
type AuthMechanism string

const (
	AuthPlain       AuthMechanism = "plain"
	AuthSCRAMSHA256 AuthMechanism = "scram-sha-256"
	AuthSCRAMSHA512 AuthMechanism = "scram-sha-512"
)

// AuthConfig configures optional SASL authentication against the
// broker.
type AuthConfig struct {
	Enabled   bool
	Mechanism AuthMechanism
	Username  string
	Password  string
}

// Config configures the topic-bus sink.
type Config struct {
	Brokers []string
	// SinkID is the sink's configured id, used to derive TopicPrefix
	// when it is left unset.
	SinkID string
	// TopicPrefix roots the two published topics:
	// "<prefix>/names" and "<prefix>/values". Defaults to
	// "/intrometry/<normalized SinkID, or a random id if SinkID
	// normalizes to empty>".
	TopicPrefix string
	Auth        AuthConfig
}

// Sink is an EmitterFactory (see internal/drain) that publishes every
// source's records to the same pair of topics, distinguishing sources
// by partition key rather than by topic.
type Sink struct {
	cfg            Config
	logger         *logrus.Logger
	namesProducer  sarama.SyncProducer
	valuesProducer sarama.SyncProducer

	// breaker guards both producers: a broker that is down fails every
	// publish identically, so one breaker keyed on the sink's prefix is
	// enough to stop hammering it once it trips, rather than waiting out
	// sarama's own dial/produce timeouts on every drain tick.
	breaker *circuit.Breaker
}

// New dials brokers and builds the two underlying producers: one with
// RequiredAcks=WaitForAll for the names topic (reliable, low volume,
// spec.md's "accompanies every shape change"), one with
// RequiredAcks=NoResponse for the values topic (best-effort, high
// volume, matching the library's overall lossy posture).
func New(cfg Config, logger *logrus.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("topicbus: no brokers configured")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix(cfg.SinkID)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	namesCfg := sarama.NewConfig()
	namesCfg.Producer.Return.Successes = true
	namesCfg.Producer.RequiredAcks = sarama.WaitForAll
	applyAuth(namesCfg, cfg.Auth)

	valuesCfg := sarama.NewConfig()
	valuesCfg.Producer.Return.Successes = true
	valuesCfg.Producer.RequiredAcks = sarama.NoResponse
	applyAuth(valuesCfg, cfg.Auth)

	namesProducer, err := sarama.NewSyncProducer(cfg.Brokers, namesCfg)
	if err != nil {
		return nil, fmt.Errorf("topicbus: names producer: %w", err)
	}
	valuesProducer, err := sarama.NewSyncProducer(cfg.Brokers, valuesCfg)
	if err != nil {
		_ = namesProducer.Close()
		return nil, fmt.Errorf("topicbus: values producer: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"brokers": cfg.Brokers,
		"prefix":  cfg.TopicPrefix,
	}).Info("topic-bus: producers initialized")

	breaker := circuit.NewBreaker(circuit.BreakerConfig{
		Name:             cfg.TopicPrefix,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		HalfOpenMaxCalls: 1,
	}, logger)

	return &Sink{
		cfg:            cfg,
		logger:         logger,
		namesProducer:  namesProducer,
		valuesProducer: valuesProducer,
		breaker:        breaker,
	}, nil
}

// defaultTopicPrefix builds "/intrometry/<normalized_id_or_random8>":
// the sink id normalized, falling back to a random id when the
// normalized form is empty (e.g. sinkID is unset or all-punctuation).
func defaultTopicPrefix(sinkID string) string {
	id := clock.NormalizeID(sinkID)
	if id == "" {
		id = clock.RandomID(8)
	}
	return "/intrometry/" + id
}

func applyAuth(cfg *sarama.Config, auth AuthConfig) {
	if !auth.Enabled {
		return
	}
	cfg.Net.SASL.Enable = true
	cfg.Net.SASL.User = auth.Username
	cfg.Net.SASL.Password = auth.Password

	switch auth.Mechanism {
	case AuthPlain:
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case AuthSCRAMSHA256:
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &xdgSCRAMClient{HashGeneratorFcn: sha256Generator}
		}
	case AuthSCRAMSHA512:
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &xdgSCRAMClient{HashGeneratorFcn: sha512Generator}
		}
	}
}

func (s *Sink) namesTopic() string  { return s.cfg.TopicPrefix + "/names" }
func (s *Sink) valuesTopic() string { return s.cfg.TopicPrefix + "/values" }

// ForSource implements drain.EmitterFactory. Every source shares the
// sink's two producers; only the partition key varies.
func (s *Sink) ForSource(displayID string) (cell.Emitter, error) {
	return &sourceEmitter{sink: s, displayID: displayID}, nil
}

// Close closes both underlying producers, returning the first error
// encountered (if any).
func (s *Sink) Close() error {
	var firstErr error
	if err := s.namesProducer.Close(); err != nil {
		firstErr = err
	}
	if err := s.valuesProducer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type namesWire struct {
	DisplayID string      `json:"display_id"`
	Header    cell.Header `json:"header"`
	Names     []string    `json:"names"`
}

type valuesWire struct {
	DisplayID string      `json:"display_id"`
	Header    cell.Header `json:"header"`
	Values    []float64   `json:"values"`
}

// sourceEmitter implements cell.Emitter for one DisplayId, publishing
// through its parent Sink's shared producers.
type sourceEmitter struct {
	sink      *Sink
	displayID string
}

// WriteNames implements cell.Emitter.
func (e *sourceEmitter) WriteNames(r cell.NamesRecord) error {
	payload, err := json.Marshal(namesWire{DisplayID: e.displayID, Header: r.Header, Names: r.Names})
	if err != nil {
		return fmt.Errorf("topicbus: marshal names: %w", err)
	}
	return e.publish(e.sink.namesProducer, e.sink.namesTopic(), payload)
}

// WriteValues implements cell.Emitter.
func (e *sourceEmitter) WriteValues(r cell.ValuesRecord) error {
	payload, err := json.Marshal(valuesWire{DisplayID: e.displayID, Header: r.Header, Values: r.Values})
	if err != nil {
		return fmt.Errorf("topicbus: marshal values: %w", err)
	}
	return e.publish(e.sink.valuesProducer, e.sink.valuesTopic(), payload)
}

func (e *sourceEmitter) publish(producer sarama.SyncProducer, topic string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(e.displayID),
		Value: sarama.ByteEncoder(payload),
	}
	err := e.sink.breaker.Execute(func() error {
		_, _, sendErr := producer.SendMessage(msg)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("topicbus: publish to %s: %w", topic, err)
	}
	return nil
}

// ParseAuthMechanism normalizes a config string into an AuthMechanism,
// matching the teacher's case-insensitive YAML mechanism field.
func ParseAuthMechanism(s string) AuthMechanism {
	return AuthMechanism(strings.ToLower(s))
}
