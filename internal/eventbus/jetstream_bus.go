package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"
)

// Subject события: terrain.events.<тип>.<узел>
const subjectPrefix = "terrain.events."

// JetStreamOptions параметры подключения узла террейна к общему стриму
type JetStreamOptions struct {
	URL       string        // nats://127.0.0.1:4222
	Stream    string        // по умолчанию TERRAIN
	NodeID    string        // имя соединения и сегмент subject
	Retention time.Duration // 0: без ограничения возраста
	// Окно, в котором JetStream отбрасывает повтор конверта с тем же ID
	DuplicateWindow time.Duration
}

// JetStreamBus публикует события загрузки и перестройки блоков в NATS JetStream,
// чтобы клиенты любого узла видели изменения террейна всех узлов.
type JetStreamBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	stream    string
	published uint64
	consumed  uint64
	dropped   uint64
}

// NewJetStreamBus подключается к NATS и создаёт стрим, если его ещё нет
func NewJetStreamBus(opts JetStreamOptions) (*JetStreamBus, error) {
	if opts.Stream == "" {
		opts.Stream = "TERRAIN"
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = 2 * time.Minute
	}

	nc, err := nats.Connect(opts.URL, nats.Name("terrain-"+opts.NodeID))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Drain()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err = js.StreamInfo(opts.Stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       opts.Stream,
			Subjects:   []string{subjectPrefix + ">"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     opts.Retention,
			Duplicates: opts.DuplicateWindow,
			Storage:    nats.FileStorage,
		})
		if err != nil {
			nc.Drain()
			return nil, fmt.Errorf("add stream %s: %w", opts.Stream, err)
		}
	}
	return &JetStreamBus{nc: nc, js: js, stream: opts.Stream}, nil
}

// subjectToken делает из имени узла или типа один токен subject
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

func subjectFor(ev *Envelope) string {
	return subjectPrefix + subjectToken(ev.EventType) + "." + subjectToken(ev.Source)
}

// filterSubject сужает подписку на стороне сервера; остальное проверяет matchFilter
func filterSubject(f Filter) string {
	typ, src := "*", "*"
	if len(f.Types) == 1 {
		typ = subjectToken(f.Types[0])
	}
	if len(f.Sources) == 1 {
		src = subjectToken(f.Sources[0])
	}
	return subjectPrefix + typ + "." + src
}

// Publish отправляет конверт в JSON. ID конверта служит Nats-Msg-Id,
// так что повторная отправка после таймаута не размножает событие.
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		atomic.AddUint64(&jb.dropped, 1)
		return err
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if ev.ID != "" {
		opts = append(opts, nats.MsgId(ev.ID))
	}
	if _, err = jb.js.Publish(subjectFor(ev), data, opts...); err != nil {
		atomic.AddUint64(&jb.dropped, 1)
		return fmt.Errorf("publish %s: %w", ev.EventType, err)
	}
	atomic.AddUint64(&jb.published, 1)
	return nil
}

// Subscribe создаёт эфемерного потребителя с доставкой только новых событий
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	sub, err := jb.js.Subscribe(filterSubject(f), func(msg *nats.Msg) {
		defer func() { _ = msg.Ack() }()

		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			atomic.AddUint64(&jb.dropped, 1)
			return
		}
		if !matchFilter(&ev, f) {
			return
		}
		h(ctx, &ev)
		atomic.AddUint64(&jb.consumed, 1)
	}, nats.BindStream(jb.stream), nats.ManualAck(), nats.DeliverNew(), nats.AckWait(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", filterSubject(f), err)
	}
	return natsSubscription{sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() {
	_ = s.sub.Unsubscribe()
}

func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&jb.published),
		Consumed:  atomic.LoadUint64(&jb.consumed),
		Dropped:   atomic.LoadUint64(&jb.dropped),
	}
}

// Close дожидается отправки буферов и закрывает соединение
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
