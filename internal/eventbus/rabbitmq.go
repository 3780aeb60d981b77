package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/config"
	"github.com/streadway/amqp"
)

const (
	publishTimeout    = 5 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 30 * time.Second
)

var (
	ErrPermanentFailure = errors.New("permanent failure processing message")
	ErrNotReady         = errors.New("rabbitmq not ready")
)

type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// RabbitMQManager owns one connection with a confirm-mode producer channel
// for the events exchange and a consumer channel for the fulfillment queue.
// The fulfillment queue dead-letters to <queue>.dlq; messages that fail
// permanently are republished to the <queue>.parking queue.
type RabbitMQManager struct {
	cfg config.RabbitMQConfig

	mu              sync.Mutex
	publishMu       sync.Mutex
	connection      *amqp.Connection
	consumerChan    *amqp.Channel
	producerChan    *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	isReady         bool
	closed          bool

	consumeCtx context.Context
	handler    MessageHandler
}

func NewRabbitMQManager(cfg config.RabbitMQConfig) (*RabbitMQManager, error) {
	rmq := &RabbitMQManager{cfg: cfg}
	if err := rmq.connect(); err != nil {
		return nil, fmt.Errorf("initial RabbitMQ connection failed: %w", err)
	}
	go rmq.handleReconnect()
	return rmq, nil
}

func (rmq *RabbitMQManager) dlxName() string { return rmq.cfg.FulfillmentQueue + ".dlx" }
func (rmq *RabbitMQManager) dlqName() string { return rmq.cfg.FulfillmentQueue + ".dlq" }
func (rmq *RabbitMQManager) parkingExchange() string { return rmq.cfg.FulfillmentQueue + ".parking" }
func (rmq *RabbitMQManager) parkingQueue() string { return rmq.cfg.FulfillmentQueue + ".parking" }

func (rmq *RabbitMQManager) connect() error {
	rmq.mu.Lock()
	defer rmq.mu.Unlock()

	log.Info().Str("exchange", rmq.cfg.Exchange).Msg("connecting to RabbitMQ")
	conn, err := amqp.Dial(rmq.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial RabbitMQ: %w", err)
	}
	rmq.connection = conn
	rmq.notifyConnClose = make(chan *amqp.Error, 1)
	conn.NotifyClose(rmq.notifyConnClose)

	if err := rmq.setupProducerChannel(); err != nil {
		conn.Close()
		return fmt.Errorf("setup producer channel: %w", err)
	}
	if err := rmq.setupConsumerChannelAndTopology(); err != nil {
		conn.Close()
		return fmt.Errorf("setup consumer topology: %w", err)
	}

	rmq.isReady = true
	log.Info().Msg("RabbitMQ connected and channels initialized")
	return nil
}

func (rmq *RabbitMQManager) setupProducerChannel() error {
	ch, err := rmq.connection.Channel()
	if err != nil {
		return fmt.Errorf("open producer channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}
	rmq.notifyConfirm = ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	err = ch.ExchangeDeclare(
		rmq.cfg.Exchange,     // name
		rmq.cfg.ExchangeType, // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", rmq.cfg.Exchange, err)
	}
	rmq.producerChan = ch
	return nil
}

func (rmq *RabbitMQManager) setupConsumerChannelAndTopology() error {
	ch, err := rmq.connection.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(rmq.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}

	for _, exchange := range []struct{ name, kind string }{
		{rmq.dlxName(), "direct"},
		{rmq.parkingExchange(), "direct"},
		{rmq.cfg.Exchange, rmq.cfg.ExchangeType},
	} {
		if err := ch.ExchangeDeclare(exchange.name, exchange.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange.name, err)
		}
	}

	if _, err := ch.QueueDeclare(rmq.dlqName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}
	if err := ch.QueueBind(rmq.dlqName(), rmq.cfg.FulfillmentQueue, rmq.dlxName(), false, nil); err != nil {
		return fmt.Errorf("bind DLQ: %w", err)
	}

	if _, err := ch.QueueDeclare(rmq.parkingQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare parking lot queue: %w", err)
	}
	if err := ch.QueueBind(rmq.parkingQueue(), rmq.cfg.FulfillmentQueue, rmq.parkingExchange(), false, nil); err != nil {
		return fmt.Errorf("bind parking lot queue: %w", err)
	}

	queueArgs := amqp.Table{
		"x-dead-letter-exchange":    rmq.dlxName(),
		"x-dead-letter-routing-key": rmq.cfg.FulfillmentQueue,
	}
	if _, err := ch.QueueDeclare(rmq.cfg.FulfillmentQueue, true, false, false, false, queueArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", rmq.cfg.FulfillmentQueue, err)
	}
	if err := ch.QueueBind(rmq.cfg.FulfillmentQueue, rmq.cfg.FulfillmentKey, rmq.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s with key %s: %w", rmq.cfg.FulfillmentQueue, rmq.cfg.FulfillmentKey, err)
	}

	rmq.consumerChan = ch
	log.Info().Str("queue", rmq.cfg.FulfillmentQueue).Msg("consumer topology ready")
	return nil
}

// PublishMessage publishes payload as persistent JSON on the events
// exchange and waits for the broker confirm.
func (rmq *RabbitMQManager) PublishMessage(ctx context.Context, routingKey, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return rmq.publish(ctx, rmq.cfg.Exchange, routingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Body:         body,
		Timestamp:    time.Now(),
	})
}

func (rmq *RabbitMQManager) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	rmq.publishMu.Lock()
	defer rmq.publishMu.Unlock()

	rmq.mu.Lock()
	ready, ch, confirms := rmq.isReady, rmq.producerChan, rmq.notifyConfirm
	rmq.mu.Unlock()
	if !ready || ch == nil {
		return ErrNotReady
	}

	if err := ch.Publish(exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case confirm, ok := <-confirms:
		if !ok {
			return errors.New("producer channel closed before confirm")
		}
		if confirm.Ack {
			log.Debug().Uint64("tag", confirm.DeliveryTag).Str("routingKey", routingKey).Msg("message published and confirmed")
			return nil
		}
		return errors.New("message published but not confirmed by broker")
	case <-timer.C:
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming delivers fulfillment messages to handler until ctx is
// done or the channel closes.
func (rmq *RabbitMQManager) StartConsuming(ctx context.Context, handler MessageHandler) error {
	rmq.mu.Lock()
	ready, ch := rmq.isReady, rmq.consumerChan
	rmq.consumeCtx, rmq.handler = ctx, handler
	rmq.mu.Unlock()
	if !ready || ch == nil {
		return ErrNotReady
	}

	msgs, err := ch.Consume(
		rmq.cfg.FulfillmentQueue, // queue
		rmq.cfg.ConsumerTag,      // consumer tag
		false,                    // auto-ack
		false,                    // exclusive
		false,                    // no-local
		false,                    // no-wait
		nil,                      // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	log.Info().Str("queue", rmq.cfg.FulfillmentQueue).Str("tag", rmq.cfg.ConsumerTag).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("context cancelled, stopping consumer")
				return
			case delivery, ok := <-msgs:
				if !ok {
					log.Warn().Msg("delivery channel closed, consumer stopping")
					return
				}
				rmq.processMessageWithRetries(ctx, delivery, handler)
			}
		}
	}()
	return nil
}

func (rmq *RabbitMQManager) processMessageWithRetries(ctx context.Context, delivery amqp.Delivery, handler MessageHandler) {
	maxRetries := rmq.cfg.MaxProcessingRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var processingErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		processingErr = handler(ctx, delivery)
		if processingErr == nil {
			if err := delivery.Ack(false); err != nil {
				log.Error().Err(err).Uint64("deliveryTag", delivery.DeliveryTag).Msg("failed to ACK message")
			}
			return
		}

		if errors.Is(processingErr, ErrPermanentFailure) {
			log.Error().Err(processingErr).Uint64("deliveryTag", delivery.DeliveryTag).Msg("permanent failure, sending to parking lot")
			if err := rmq.sendToParkingLot(ctx, delivery, processingErr); err != nil {
				log.Error().Err(err).Msg("failed to park message, NACKing to DLX")
				delivery.Nack(false, false)
				return
			}
			delivery.Ack(false)
			return
		}

		log.Warn().Err(processingErr).
			Uint64("deliveryTag", delivery.DeliveryTag).
			Int("attempt", attempt).
			Int("maxRetries", maxRetries).
			Msg("transient error processing message")
		if attempt < maxRetries {
			select {
			case <-time.After(time.Duration(attempt*2) * time.Second):
			case <-ctx.Done():
				delivery.Nack(false, true)
				return
			}
		}
	}

	log.Error().Err(processingErr).Uint64("deliveryTag", delivery.DeliveryTag).Msg("max processing retries exceeded, NACKing to DLX")
	if err := delivery.Nack(false, false); err != nil {
		log.Error().Err(err).Msg("failed to NACK message")
	}
}

func (rmq *RabbitMQManager) sendToParkingLot(ctx context.Context, original amqp.Delivery, cause error) error {
	headers := amqp.Table{}
	for k, v := range original.Headers {
		headers[k] = v
	}
	headers["x-parking-lot-reason"] = cause.Error()
	headers["x-original-exchange"] = original.Exchange
	headers["x-original-routing-key"] = original.RoutingKey

	return rmq.publish(ctx, rmq.parkingExchange(), rmq.cfg.FulfillmentQueue, amqp.Publishing{
		ContentType:   original.ContentType,
		CorrelationId: original.CorrelationId,
		MessageId:     original.MessageId,
		Timestamp:     time.Now(),
		DeliveryMode:  amqp.Persistent,
		Body:          original.Body,
		Headers:       headers,
	})
}

func (rmq *RabbitMQManager) handleReconnect() {
	for {
		rmq.mu.Lock()
		notify := rmq.notifyConnClose
		rmq.mu.Unlock()

		err, ok := <-notify
		rmq.mu.Lock()
		rmq.isReady = false
		closed := rmq.closed
		rmq.mu.Unlock()
		if !ok || closed {
			log.Info().Msg("RabbitMQ connection closed, reconnect handler exiting")
			return
		}
		log.Error().Err(err).Msg("RabbitMQ connection lost, reconnecting")

		delay := reconnectDelay
		for attempt := 1; ; attempt++ {
			time.Sleep(delay)
			if rmq.isClosed() {
				return
			}
			if err := rmq.connect(); err == nil {
				log.Info().Int("attempt", attempt).Msg("RabbitMQ reconnected")
				break
			}
			if delay *= 2; delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}

		rmq.mu.Lock()
		ctx, handler := rmq.consumeCtx, rmq.handler
		rmq.mu.Unlock()
		if handler != nil && ctx.Err() == nil {
			if err := rmq.StartConsuming(ctx, handler); err != nil {
				log.Error().Err(err).Msg("failed to restart consumer after reconnect")
			}
		}
	}
}

func (rmq *RabbitMQManager) isClosed() bool {
	rmq.mu.Lock()
	defer rmq.mu.Unlock()
	return rmq.closed
}

func (rmq *RabbitMQManager) Close() {
	rmq.mu.Lock()
	defer rmq.mu.Unlock()
	rmq.closed = true
	rmq.isReady = false
	if rmq.connection != nil && !rmq.connection.IsClosed() {
		rmq.connection.Close()
	}
}
