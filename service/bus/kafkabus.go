package bus

import (
	"context"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"threadline/logger"
	"threadline/tools/errs"
)

const (
	kafkaTopic     = "dm-thread-events"
	kafkaHdrMsgID  = "msg-id"
	kafkaHdrThread = "thread-id"
)

// KafkaBus is the sarama-backed Bus. Thread id rides as the message key,
// so one thread's events stay on one partition and keep their order. Each
// gateway node joins with its own group id; fan-out needs every node to
// see every event.
type KafkaBus struct {
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	idem     *Idem

	mu       sync.Mutex
	handlers []Handler
	started  bool
	cancel   context.CancelFunc
}

func NewKafkaBus(brokers []string, groupID string) (*KafkaBus, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		_ = producer.Close()
		return nil, errs.WrapMsg(err, "kafka consumer group", "group", groupID)
	}
	return &KafkaBus{
		producer: producer,
		group:    group,
		idem:     NewIdem(10 * time.Minute),
	}, nil
}

func (b *KafkaBus) Publish(_ context.Context, threadID string, payload []byte, msgID string) error {
	msg := &sarama.ProducerMessage{
		Topic: kafkaTopic,
		Key:   sarama.StringEncoder(threadID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafkaHdrThread), Value: []byte(threadID)},
			{Key: []byte(kafkaHdrMsgID), Value: []byte(msgID)},
		},
	}
	_, _, err := b.producer.SendMessage(msg)
	return errs.WrapMsg(err, "kafka publish", "thread", threadID)
}

func (b *KafkaBus) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	idx := len(b.handlers) - 1
	if !b.started {
		b.started = true
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		go b.consumeLoop(ctx)
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.handlers) {
			b.handlers[idx] = nil
		}
	}, nil
}

func (b *KafkaBus) consumeLoop(ctx context.Context) {
	for {
		if err := b.group.Consume(ctx, []string{kafkaTopic}, &groupHandler{bus: b}); err != nil {
			logger.Warn("kafka consume", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *KafkaBus) dispatch(threadID string, payload []byte, msgID string) {
	if msgID != "" && b.idem.SeenOnce(msgID) {
		return
	}
	b.mu.Lock()
	hs := append([]Handler(nil), b.handlers...)
	b.mu.Unlock()
	for _, h := range hs {
		if h == nil {
			continue
		}
		if err := h(context.Background(), threadID, payload); err != nil {
			logger.Warn("kafka handler failed", zap.String("thread", threadID), zap.Error(err))
		}
	}
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()
	b.idem.Close()
	_ = b.group.Close()
	return b.producer.Close()
}

type groupHandler struct {
	bus *KafkaBus
}

func (groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (g *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		threadID := string(msg.Key)
		msgID := ""
		for _, h := range msg.Headers {
			switch string(h.Key) {
			case kafkaHdrThread:
				threadID = string(h.Value)
			case kafkaHdrMsgID:
				msgID = string(h.Value)
			}
		}
		g.bus.dispatch(threadID, msg.Value, msgID)
		sess.MarkMessage(msg, "")
	}
	return nil
}

var _ Bus = (*KafkaBus)(nil)
