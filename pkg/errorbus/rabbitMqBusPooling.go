package errorbus

import (
	"errors"
	"fmt"
	"log"

	"github.com/streadway/amqp"

	"github.com/sbtg-data/flowmirror/pkg/config"
)

type pooledChannel struct {
	channel     *amqp.Channel
	notifyClose chan *amqp.Error
}

func newConnection(settings *config.BrokerSettings) (*amqp.Connection, error) {
	conn, err := amqp.Dial(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	// Set up a channel to handle connection close notifications
	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)
	go func() {
		for err := range notifyClose {
			log.Printf("RabbitMQ connection closed: %v", err)
		}
	}()

	return conn, nil
}

func (r *rabbitMqBus) connectAndInitialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Close existing connection if it exists
	if r.connection != nil && !r.connection.IsClosed() {
		r.connection.Close()
	}

	// Establish a new connection
	connection, err := newConnection(r.settings)
	if err != nil {
		return err
	}
	r.connection = connection

	// Declare the error topic exchange
	channel, err := connection.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	err = channel.ExchangeDeclare(
		r.settings.Topic, // name of the exchange
		"topic",          // type of the exchange
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Rebuild the channel pool
	for len(r.channelPool) > 0 {
		pooled := <-r.channelPool
		pooled.channel.Close()
	}
	for i := 0; i < r.settings.PoolSize; i++ {
		ch, err := connection.Channel()
		if err != nil {
			return err
		}
		notifyClose := make(chan *amqp.Error, 1)
		ch.NotifyClose(notifyClose)
		r.channelPool <- &pooledChannel{channel: ch, notifyClose: notifyClose}
	}

	return nil
}

func (r *rabbitMqBus) recoverConnection() {
	for {
		select {
		case <-r.stopReconnect:
			return
		case <-r.reconnectTicker.C:
			r.mu.Lock()
			closed := r.connection == nil || r.connection.IsClosed()
			r.mu.Unlock()
			if !closed {
				continue
			}
			log.Printf("RabbitMQ connection lost, reconnecting")
			if err := r.connectAndInitialize(); err != nil {
				log.Printf("RabbitMQ reconnect failed: %v", err)
			}
		}
	}
}

func (r *rabbitMqBus) getChannel() (*pooledChannel, error) {
	pooled, ok := <-r.channelPool
	if !ok {
		return nil, errors.New("channel pool is closed")
	}

	// Replace the channel if it was closed while pooled
	select {
	case <-pooled.notifyClose:
		r.mu.Lock()
		connection := r.connection
		r.mu.Unlock()
		ch, err := connection.Channel()
		if err != nil {
			return nil, err
		}
		notifyClose := make(chan *amqp.Error, 1)
		ch.NotifyClose(notifyClose)
		pooled = &pooledChannel{channel: ch, notifyClose: notifyClose}
	default:
	}

	return pooled, nil
}

func (r *rabbitMqBus) releaseChannel(pooled *pooledChannel) {
	select {
	case r.channelPool <- pooled:
	default:
		pooled.channel.Close()
	}
}
