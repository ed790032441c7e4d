package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"voiceagent-server/pkg/metrics"
)

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL             string
	OutcomeQueue    string
	TranscriptQueue string
	ExchangeName    string
	Durable         bool
}

// AMQPClient publishes call outcomes and transcript lines to AMQP queues.
// Connection loss triggers background reconnection; publishes while
// disconnected fail fast and the session keeps running.
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.OutcomeQueue == "" {
		config.OutcomeQueue = "voiceagent.outcomes"
	}
	if config.TranscriptQueue == "" {
		config.TranscriptQueue = "voiceagent.transcripts"
	}
	config.Durable = true

	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes a connection to the AMQP server and declares the
// outcome and transcript queues
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" {
		return fmt.Errorf("AMQP URL not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	for _, queue := range []string{c.config.OutcomeQueue, c.config.TranscriptQueue} {
		if _, err := channel.QueueDeclare(
			queue,
			c.config.Durable,
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,
		); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to declare AMQP queue %s: %w", queue, err)
		}
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})
	metrics.SetAMQPConnectionStatus(true)

	c.logger.WithFields(logrus.Fields{
		"url":              c.config.URL,
		"outcome_queue":    c.config.OutcomeQueue,
		"transcript_queue": c.config.TranscriptQueue,
	}).Info("Connected to AMQP server")

	go c.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	metrics.SetAMQPConnectionStatus(false)
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishOutcome publishes the terminal record for a call
func (c *AMQPClient) PublishOutcome(record OutcomeRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome record: %w", err)
	}

	if err := c.publish(c.config.OutcomeQueue, body); err != nil {
		metrics.RecordAMQPPublish("outcome", "error")
		return err
	}

	metrics.RecordAMQPPublish("outcome", "ok")
	c.logger.WithFields(logrus.Fields{
		"call_uuid": record.CallUUID,
		"outcome":   record.Outcome,
	}).Debug("Published call outcome")
	return nil
}

type transcriptMessage struct {
	CallUUID  string                 `json:"call_uuid"`
	Speaker   string                 `json:"speaker"`
	Text      string                 `json:"text"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PublishTranscript publishes one utterance of the call transcript
func (c *AMQPClient) PublishTranscript(callUUID, speaker, text string, metadata map[string]interface{}) error {
	body, err := json.Marshal(transcriptMessage{
		CallUUID:  callUUID,
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal transcript message: %w", err)
	}

	if err := c.publish(c.config.TranscriptQueue, body); err != nil {
		metrics.RecordAMQPPublish("transcript", "error")
		return err
	}

	metrics.RecordAMQPPublish("transcript", "ok")
	return nil
}

// publish sends one persistent JSON message with a short timeout so a stuck
// broker cannot stall session teardown
func (c *AMQPClient) publish(routingKey string, body []byte) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("recover", r).Error("Recovered from panic in AMQP publish")
		}
	}()

	if !c.IsConnected() {
		return fmt.Errorf("not connected to AMQP server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		c.connMutex.RLock()
		defer c.connMutex.RUnlock()

		if !c.connected || c.channel == nil {
			select {
			case <-ctx.Done():
			case publishChan <- fmt.Errorf("lost AMQP connection before publishing"):
			}
			return
		}

		err := c.channel.Publish(
			c.config.ExchangeName,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
		select {
		case <-ctx.Done():
		case publishChan <- err:
		}
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			return fmt.Errorf("failed to publish to AMQP: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publishing to AMQP timed out")
	}
}

// monitorConnection watches for connection loss and reconnects with
// exponential backoff
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	select {
	case <-c.stopChan:
		return
	case closeErr := <-closeChan:
		c.connMutex.Lock()
		c.connected = false
		c.connMutex.Unlock()
		metrics.SetAMQPConnectionStatus(false)

		c.logger.WithField("error", closeErr).Warn("AMQP connection closed, attempting to reconnect")

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = 30 * time.Second
		bo.MaxElapsedTime = 0 // keep trying until shutdown

		err := backoff.Retry(func() error {
			select {
			case <-c.stopChan:
				return backoff.Permanent(fmt.Errorf("shutting down"))
			default:
			}
			return c.Connect()
		}, bo)
		if err != nil {
			c.logger.WithField("error", err).Error("Gave up reconnecting to AMQP server")
			return
		}
		c.logger.Info("Successfully reconnected to AMQP server")
	}
}
