package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

const (
	rabbitExchange = "ex.staff"
	rabbitDLX      = "ex.staff.dlx"
)

// Rabbit очередь уведомлений через AMQP. Повторно отклонённые сообщения уходят в <queue>.dlq.
type Rabbit struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbit подключается к брокеру и объявляет топологию.
func NewRabbit(url, queue string) (*Rabbit, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("подключение к RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if err := setupTopology(ch, queue); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("объявление топологии: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Rabbit{conn: conn, ch: ch, queue: queue}, nil
}

func setupTopology(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"
	if err := ch.ExchangeDeclare(rabbitDLX, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(dlq, queue, rabbitDLX, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(rabbitExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    rabbitDLX,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return err
	}
	return ch.QueueBind(queue, queue, rabbitExchange, false, nil)
}

// Publish публикует уведомление.
func (q *Rabbit) Publish(ctx context.Context, n domain.Notification) error {
	n = prepare(n)
	body, err := encode(n)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, rabbitExchange, q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    n.ID,
		Timestamp:    n.CreatedAt,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return domain.Transient("rabbitmq: publish", err)
	}
	return nil
}

func (q *Rabbit) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	q.deliveries = msgs
	return msgs, nil
}

// Receive блокирующе читает уведомление. Неудачная обработка возвращает сообщение в очередь один раз.
func (q *Rabbit) Receive(ctx context.Context) (domain.Notification, domain.AckFunc, error) {
	msgs, err := q.consume()
	if err != nil {
		return domain.Notification{}, nil, domain.Transient("rabbitmq: consume", err)
	}
	for {
		select {
		case <-ctx.Done():
			return domain.Notification{}, nil, ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return domain.Notification{}, nil, ErrClosed
			}
			n, err := decode(d.Body)
			if err != nil {
				_ = d.Nack(false, false)
				continue
			}
			return n, func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, !d.Redelivered)
			}, nil
		}
	}
}

// Close закрывает канал и соединение.
func (q *Rabbit) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}
