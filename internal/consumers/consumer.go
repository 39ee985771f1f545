// Package consumers corre los procesos que drenan los canales de eventos y
// los traducen a correos salientes. Entrega at-least-once: el ack ocurre
// solo despues de que el caso de uso correspondiente termina sin error, y
// los mensajes pendientes se reclaman con XAUTOCLAIM.
package consumers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"scribly/internal/domain"
	"scribly/internal/messaging"
)

// Handler procesa el cuerpo JSON de un mensaje. Un error encadenado a
// domain.ErrScribly es un resultado de negocio (duplicado, payload roto,
// historia borrada): se ackea y descarta. Cualquier otro error deja el
// mensaje pendiente para redelivery.
type Handler func(ctx context.Context, body []byte) error

const (
	readBlock    = 5 * time.Second
	claimMinIdle = time.Minute
	retryBackoff = time.Second
)

// Consumer ata un consumer group durable de un stream a un Handler.
// Procesa de a un mensaje por instancia; varias instancias sobre la misma
// cola reparten carga, sin garantia de orden entre ellas.
type Consumer struct {
	logger  *zap.Logger
	client  *redis.Client
	stream  string
	group   string
	name    string
	handler Handler
}

func New(logger *zap.Logger, client *redis.Client, stream, group, name string, handler Handler) *Consumer {
	return &Consumer{
		logger:  logger.With(zap.String("stream", stream), zap.String("queue", group)),
		client:  client,
		stream:  stream,
		group:   group,
		name:    name,
		handler: handler,
	}
}

// Run bloquea consumiendo hasta que el contexto se cancele.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.claimStale(ctx)

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("read from stream failed", zap.Error(err))
			time.Sleep(retryBackoff)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				c.process(ctx, msg)
			}
		}
	}
}

// claimStale reclama mensajes que otro consumer leyo y nunca ackeo.
func (c *Consumer) claimStale(ctx context.Context) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  claimMinIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil {
		return
	}
	for _, msg := range msgs {
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	body, _ := msg.Values[messaging.BodyField].(string)

	if err := c.handler(ctx, []byte(body)); err != nil {
		if errors.Is(err, domain.ErrScribly) {
			// Resultado de negocio, reintentar no lo va a arreglar.
			c.logger.Warn("dropping message", zap.Error(err), zap.String("message_id", msg.ID))
		} else {
			c.logger.Warn("message handling failed, leaving pending for redelivery",
				zap.Error(err), zap.String("message_id", msg.ID))
			return
		}
	}

	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		c.logger.Warn("ack failed", zap.Error(err), zap.String("message_id", msg.ID))
	}
}
