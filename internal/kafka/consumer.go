package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/profile-ledger/internal/anticheat"
	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
)

// SyncHandler applies progression sync submissions
type SyncHandler interface {
	Sync(ctx context.Context, sub domain.SyncSubmission, signed bool) (*domain.Snapshot, error)
	RecordBadSignature(ctx context.Context, accountID string)
}

// Consumer ingests high-volume progression sync messages from Kafka,
// feeding them into the ledger in batches
type Consumer struct {
	config        *config.KafkaConfig
	handler       SyncHandler
	sig           *anticheat.SignatureCheck
	clock         domain.Clock
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler SyncHandler, sig *anticheat.SignatureCheck, clock domain.Clock, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		sig:           sig,
		clock:         clock,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// batchItem is one decoded submission with its signature verdict
type batchItem struct {
	sub    domain.SyncSubmission
	signed bool
}

// checkSignature applies the embedded-signature policy to a broker-delivered
// submission: signed reports a valid signature, drop that enforce mode
// rejected the message.
func (c *Consumer) checkSignature(ctx context.Context, sub domain.SyncSubmission) (signed, drop bool) {
	if c.sig == nil {
		return false, false
	}
	err := c.sig.VerifySubmission(sub, c.clock.Now())
	if err == nil {
		return true, false
	}
	if sub.Signature != "" {
		c.handler.RecordBadSignature(ctx, sub.AccountID)
	}
	if c.sig.Enforcing() {
		c.logger.Warn("rejecting sync with bad signature",
			"account_id", sub.AccountID, "error", err)
		return false, true
	}
	c.logger.Warn("sync signature check failed",
		"account_id", sub.AccountID, "error", err)
	return false, false
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]batchItem, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		applied := 0
		for _, item := range batch {
			if _, err := h.consumer.handler.Sync(ctx, item.sub, item.signed); err != nil {
				h.consumer.logger.Warn("failed to apply sync from broker",
					"account_id", item.sub.AccountID, "error", err)
				continue
			}
			applied++
		}
		h.consumer.logger.Debug("processed batch", "batch_size", len(batch), "applied", applied)

		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}

			var sub domain.SyncSubmission
			if err := json.Unmarshal(message.Value, &sub); err != nil {
				h.consumer.logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if sub.AccountID == "" {
				h.consumer.logger.Warn("invalid sync submission without account id",
					"offset", message.Offset,
				)
				session.MarkMessage(message, "")
				continue
			}

			signed, drop := h.consumer.checkSignature(session.Context(), sub)
			if drop {
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, batchItem{sub: sub, signed: signed})
			session.MarkMessage(message, "")

			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
