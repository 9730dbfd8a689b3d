package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stc-sync/pkg/common/logger"
)

// Config contains settings for connecting to Kafka and routing job events.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// Topic receives every provisioning lifecycle and progress event.
	Topic string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
	// ConnectTimeout bounds how long startup keeps retrying the connection.
	ConnectTimeout time.Duration
}

// NewClient creates and configures a Kafka client for producing events.
func NewClient(cfg *Config) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	// Producer settings
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Retry.Max = 3

	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}

// ConnectWithRetry establishes the Kafka connection with exponential backoff
// and returns a publisher on top of it. It retries for up to
// cfg.ConnectTimeout, starting with 5 second intervals, so the service
// survives a broker that starts after it.
func ConnectWithRetry(
	cfg *Config,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) (*DomainEventPublisher, func() error, error) {
	var (
		client   sarama.Client
		producer sarama.SyncProducer
	)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = cfg.ConnectTimeout
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		client, err = NewClient(cfg)
		if err != nil {
			return fmt.Errorf("creating client: %w", err)
		}

		producer, err = sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close() // Clean up on failure
			return fmt.Errorf("creating producer: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	closeFn := func() error {
		if err := producer.Close(); err != nil {
			return fmt.Errorf("closing producer: %w", err)
		}
		return client.Close()
	}
	return NewDomainEventPublisher(producer, cfg.Topic, logger, metrics, tracer), closeFn, nil
}
