package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/config"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

const (
	ExchangeName           = "frameflow"
	DeadLetterExchangeName = "frameflow_dlq"

	// RetryCountHeader carries how often a request has been retried
	RetryCountHeader = "x-retry-count"
	// MaxRetries is the number of delayed retries before a request is
	// dead-lettered
	MaxRetries = 12

	baseRetryDelay = 5 * time.Second
	maxRetryDelay  = 5 * time.Minute
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type inspector interface {
	QueueInspect(name string) (amqp.Queue, error)
}

// Queue carries extraction requests to workers and their results back
type Queue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	publisher publisher
	inspector inspector

	extractionQueue string
	statusQueue     string
}

// URL builds the AMQP connection URL for cfg
func URL(cfg config.QueueConfig) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.Vhost,
	}
	return u.String()
}

// DeadLetterQueue names the queue rejected requests end up in
func DeadLetterQueue(extractionQueue string) string {
	return extractionQueue + "_dlq"
}

// RetryQueue names the queue requests wait in before they are redelivered
func RetryQueue(extractionQueue string) string {
	return extractionQueue + "_retry"
}

// BackoffDelay is the wait before retry number retry+1: 5s doubling up to
// five minutes.
func BackoffDelay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > 6 {
		return maxRetryDelay
	}
	return min(baseRetryDelay<<retry, maxRetryDelay)
}

// RetryCount reads the retry header of a delivery
func RetryCount(headers amqp.Table) int {
	switch v := headers[RetryCountHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// New connects and declares the exchange, queues and bindings
func New(cfg config.QueueConfig) (*Queue, error) {
	conn, err := amqp.Dial(URL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{
		conn:            conn,
		channel:         channel,
		publisher:       channel,
		inspector:       channel,
		extractionQueue: cfg.ExtractionQueue,
		statusQueue:     cfg.StatusQueue,
	}
	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) declare() error {
	for _, exchange := range []string{ExchangeName, DeadLetterExchangeName} {
		err := q.channel.ExchangeDeclare(
			exchange,
			"direct",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	dlq := DeadLetterQueue(q.extractionQueue)
	queues := []struct {
		name     string
		exchange string
		args     amqp.Table
	}{
		{dlq, DeadLetterExchangeName, nil},
		{q.extractionQueue, ExchangeName, amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchangeName,
			"x-dead-letter-routing-key": dlq,
		}},
		{q.statusQueue, ExchangeName, nil},
		// Expired retries flow back into the extraction queue
		{RetryQueue(q.extractionQueue), ExchangeName, amqp.Table{
			"x-dead-letter-exchange":    ExchangeName,
			"x-dead-letter-routing-key": q.extractionQueue,
		}},
	}

	for _, d := range queues {
		_, err := q.channel.QueueDeclare(
			d.name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			d.args,
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", d.name, err)
		}
		if err := q.channel.QueueBind(d.name, d.name, d.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", d.name, err)
		}
	}
	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func publishing(v interface{}) (amqp.Publishing, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	}, nil
}

// PublishExtraction queues an extraction request for a worker
func (q *Queue) PublishExtraction(ctx context.Context, req *models.ExtractionRequest) error {
	msg, err := publishing(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	msg.MessageId = req.JobID

	if err := q.publisher.PublishWithContext(ctx, ExchangeName, q.extractionQueue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}
	return nil
}

// PublishStatus reports the terminal state of a job
func (q *Queue) PublishStatus(ctx context.Context, status *models.ExtractionStatus) error {
	msg, err := publishing(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	msg.MessageId = status.JobID

	if err := q.publisher.PublishWithContext(ctx, ExchangeName, q.statusQueue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// DecodeRequest parses and checks an extraction request body
func DecodeRequest(body []byte) (*models.ExtractionRequest, error) {
	var req models.ExtractionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if req.VideoPath == "" {
		return nil, fmt.Errorf("request %q has no video path", req.JobID)
	}
	return &req, nil
}

// ConsumeExtractions delivers requests to handler one at a time until ctx
// is done. Malformed messages are dead-lettered and handler errors are
// retried with backoff. The returned channel is closed once the request in
// flight, if any, has been settled.
func (q *Queue) ConsumeExtractions(ctx context.Context, handler func(context.Context, *models.ExtractionRequest) error) (<-chan struct{}, error) {
	// One request in flight per worker
	if err := q.channel.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		q.extractionQueue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	return q.consume(ctx, msgs, handler), nil
}

func (q *Queue) consume(ctx context.Context, msgs <-chan amqp.Delivery, handler func(context.Context, *models.ExtractionRequest) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					msg.Nack(false, true)
					return
				}
				q.handle(ctx, msg, handler)
			}
		}
	}()
	return done
}

func (q *Queue) handle(ctx context.Context, msg amqp.Delivery, handler func(context.Context, *models.ExtractionRequest) error) {
	req, err := DecodeRequest(msg.Body)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.MessageId).Msg("Dead-lettering extraction request")
		msg.Nack(false, false)
		return
	}

	herr := handler(ctx, req)
	if herr == nil {
		msg.Ack(false)
		return
	}

	retry := RetryCount(msg.Headers)
	if retry >= MaxRetries {
		log.Error().Err(herr).Str("job_id", req.JobID).Int("retries", retry).Msg("Dead-lettering extraction request after retries")
		msg.Nack(false, false)
		return
	}

	if err := q.publishRetry(context.WithoutCancel(ctx), msg, retry); err != nil {
		log.Error().Err(err).Str("job_id", req.JobID).Msg("Failed to schedule retry, requeueing")
		msg.Nack(false, true)
		return
	}
	log.Warn().Err(herr).Str("job_id", req.JobID).Int("retry", retry+1).
		Dur("delay", BackoffDelay(retry)).Msg("Extraction request scheduled for retry")
	msg.Ack(false)
}

// publishRetry parks a copy of msg in the retry queue until its backoff
// expires
func (q *Queue) publishRetry(ctx context.Context, msg amqp.Delivery, retry int) error {
	retryMsg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  msg.ContentType,
		MessageId:    msg.MessageId,
		Body:         msg.Body,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{RetryCountHeader: int32(retry + 1)},
		Expiration:   strconv.FormatInt(BackoffDelay(retry).Milliseconds(), 10),
	}
	if err := q.publisher.PublishWithContext(ctx, "", RetryQueue(q.extractionQueue), false, false, retryMsg); err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}
	return nil
}

// GetQueueDepth returns the number of requests waiting
func (q *Queue) GetQueueDepth() (int, error) {
	return q.depth(q.extractionQueue)
}

func (q *Queue) depth(name string) (int, error) {
	info, err := q.inspector.QueueInspect(name)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %s: %w", name, err)
	}
	return info.Messages, nil
}

// Health reports whether the extraction queue can be inspected
func (q *Queue) Health(ctx context.Context) error {
	_, err := q.GetQueueDepth()
	return err
}

// ReportDepth publishes the depth of the extraction, retry and dead-letter
// queues to the queue depth gauge
func (q *Queue) ReportDepth() error {
	pending, err := q.GetQueueDepth()
	if err != nil {
		return err
	}
	metrics.SetQueueDepth(q.extractionQueue, pending)

	for _, name := range []string{RetryQueue(q.extractionQueue), DeadLetterQueue(q.extractionQueue)} {
		n, err := q.depth(name)
		if err != nil {
			return err
		}
		metrics.SetQueueDepth(name, n)
	}
	return nil
}

// MonitorDepth calls ReportDepth every interval until ctx is done
func (q *Queue) MonitorDepth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.ReportDepth(); err != nil {
				log.Warn().Err(err).Msg("Failed to report queue depth")
			}
		}
	}
}
