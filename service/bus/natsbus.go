package bus

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"threadline/logger"
	"threadline/tools/errs"
)

const (
	natsSubjectPrefix = "dm.thread."
	natsHdrMsgID      = "Nats-Msg-Id"
)

// NatsBus carries thread events over NATS core subjects
// (dm.thread.<thread_id>). Every gateway node subscribes to the wildcard;
// the consumer-side idempotency set drops transport redeliveries.
type NatsBus struct {
	nc   *nats.Conn
	idem *Idem
	subs []*nats.Subscription
}

func NewNatsBus(url string) (*NatsBus, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "url", url)
	}
	return &NatsBus{nc: nc, idem: NewIdem(10 * time.Minute)}, nil
}

func (b *NatsBus) Publish(_ context.Context, threadID string, payload []byte, msgID string) error {
	msg := nats.NewMsg(natsSubjectPrefix + threadID)
	msg.Data = payload
	if msgID != "" {
		msg.Header.Set(natsHdrMsgID, msgID)
	}
	return errs.WrapMsg(b.nc.PublishMsg(msg), "nats publish", "thread", threadID)
}

func (b *NatsBus) Subscribe(h Handler) (func(), error) {
	sub, err := b.nc.Subscribe(natsSubjectPrefix+">", func(m *nats.Msg) {
		if id := m.Header.Get(natsHdrMsgID); id != "" && b.idem.SeenOnce(id) {
			return
		}
		threadID := strings.TrimPrefix(m.Subject, natsSubjectPrefix)
		if err := h(context.Background(), threadID, m.Data); err != nil {
			logger.Warn("nats handler failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	b.subs = append(b.subs, sub)
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *NatsBus) Close() error {
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.idem.Close()
	b.nc.Close()
	return nil
}

var _ Bus = (*NatsBus)(nil)
