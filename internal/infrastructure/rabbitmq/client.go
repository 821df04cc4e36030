package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-event-board/internal/config"
	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
)

const (
	reconnectDelay = 5 * time.Second
	publishTimeout = 5 * time.Second
)

var ErrClientClosed = errors.New("RabbitMQクライアントは終了しています")

// Publisher はエクスチェンジへメッセージを送るインターフェース
type Publisher interface {
	Publish(ctx context.Context, exchange, messageID string, body []byte) error
}

// Client は RabbitMQ への接続を保持し、切断時は再接続する
type Client struct {
	url       string
	exchanges []string
	log       *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	done    chan struct{}
	once    sync.Once
}

// NewClient は接続を作成し、通知・メール用のエクスチェンジを宣言する
func NewClient(cfg *config.BrokerConfig) (*Client, error) {
	c := &Client{
		url:       cfg.URL,
		exchanges: []string{cfg.NotificationExchange, cfg.MailExchange},
		log:       logger.Named("rabbitmq"),
		done:      make(chan struct{}),
	}

	conn, ch, err := c.connect()
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.channel = ch

	go c.monitorConnection(conn)

	return c, nil
}

func (c *Client) connect() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, nil, fmt.Errorf("RabbitMQへの接続に失敗: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("チャネルの作成に失敗: %w", err)
	}

	for _, name := range c.exchanges {
		err := ch.ExchangeDeclare(
			name,     // name
			"fanout", // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("エクスチェンジ %s の宣言に失敗: %w", name, err)
		}
	}
	return conn, ch, nil
}

// monitorConnection は切断を検知して再接続する
func (c *Client) monitorConnection(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-c.done:
		return
	case err := <-closed:
		c.log.Error("RabbitMQの接続が切断されました", zap.Error(err))
	}

	for {
		select {
		case <-c.done:
			return
		case <-time.After(reconnectDelay):
		}

		c.log.Info("RabbitMQへの再接続を試みます")
		newConn, ch, err := c.connect()
		if err != nil {
			c.log.Error("RabbitMQへの再接続に失敗しました", zap.Error(err))
			continue
		}

		c.mu.Lock()
		oldConn, oldChannel := c.conn, c.channel
		c.conn, c.channel = newConn, ch
		c.mu.Unlock()

		if oldChannel != nil {
			oldChannel.Close()
		}
		if oldConn != nil {
			oldConn.Close()
		}

		c.log.Info("RabbitMQに再接続しました")
		go c.monitorConnection(newConn)
		return
	}
}

// Publish はメッセージを永続化モードで送信する
func (c *Client) Publish(ctx context.Context, exchange, messageID string, body []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	return ch.PublishWithContext(
		ctx,
		exchange, // exchange
		"",       // routing key
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		})
}

// Close は接続を閉じ、再接続を停止する
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

var _ Publisher = (*Client)(nil)
