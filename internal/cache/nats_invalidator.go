package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/voxel-terrain/internal/logging"
)

// NATSInvalidator рассылает инвалидацию блоков между узлами террейна через NATS.
// Каждая публикация уходит в сеть; получатель отбрасывает собственные сообщения,
// а также повторы и запоздавшие сообщения одного узла по порядковому номеру.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  *InvalidatorConfig
	subject string
	nodeID  string

	subscription *nats.Subscription
	handler      InvalidationHandler
	subMu        sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	seq     uint64
	applied map[string]appliedSeq // nodeID|key -> последний применённый номер
	seqMu   sync.Mutex

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig конфигурация NATS invalidator.
type InvalidatorConfig struct {
	NATSURL string `yaml:"nats_url" env:"CACHE_NATS_URL"`
	Subject string `yaml:"subject" env:"CACHE_NATS_SUBJECT"`

	MaxReconnects int           `yaml:"max_reconnects" env:"CACHE_NATS_MAX_RECONNECTS"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"CACHE_NATS_RECONNECT_WAIT"`

	// Сколько помнить последние номера чужих узлов
	DedupeWindow time.Duration `yaml:"dedupe_window" env:"CACHE_NATS_DEDUPE_WINDOW"`
}

type appliedSeq struct {
	seq  uint64
	seen time.Time
}

// InvalidationMessage сообщение об инвалидации ключа.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Seq       uint64    `json:"seq"` // монотонен в пределах узла
	Reason    string    `json:"reason,omitempty"`
}

// NewNATSInvalidator подключается к NATS.
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if config.Subject == "" {
		config.Subject = "terrain.blocks.invalidate"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.DedupeWindow == 0 {
		config.DedupeWindow = time.Minute
	}

	opts := []nats.Option{
		nats.Name("terrain-" + nodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := &NATSInvalidator{
		conn:    conn,
		config:  config,
		subject: config.Subject,
		nodeID:  nodeID,
		stopCh:  make(chan struct{}),
		applied: make(map[string]appliedSeq),
	}
	n.startDedupeCleanup()

	logging.Info("NATS invalidator initialized: %s (subject: %s)", config.NATSURL, config.Subject)
	return n, nil
}

// PublishInvalidation отправляет уведомление об инвалидации ключа.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	data, err := json.Marshal(&InvalidationMessage{
		Key:       key,
		Timestamp: time.Now(),
		NodeID:    n.nodeID,
		Seq:       atomic.AddUint64(&n.seq, 1),
		Reason:    "block_changed",
	})
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	atomic.AddInt64(&n.publishedCount, 1)
	return nil
}

// SubscribeInvalidations подписывается на уведомления других узлов.
// Подписка снимается при отмене ctx или закрытии invalidator.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription != nil {
		return errors.New("already subscribed to invalidations")
	}
	n.handler = handler

	sub, err := n.conn.Subscribe(n.subject, n.handleInvalidationMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()

	logging.Info("Subscribed to block invalidations on subject: %s", n.subject)
	return nil
}

// Close закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	close(n.stopCh)
	n.wg.Wait()
	n.conn.Close()
	logging.Info("NATS invalidator closed")
	return nil
}

// GetMetrics возвращает счётчики invalidator.
func (n *NATSInvalidator) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"published_count": atomic.LoadInt64(&n.publishedCount),
		"received_count":  atomic.LoadInt64(&n.receivedCount),
		"errors_count":    atomic.LoadInt64(&n.errorsCount),
		"connected":       n.conn.IsConnected(),
	}
}

func (n *NATSInvalidator) handleInvalidationMessage(msg *nats.Msg) {
	atomic.AddInt64(&n.receivedCount, 1)

	var m InvalidationMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}
	if !n.accept(&m) {
		return
	}

	if n.handler != nil {
		if err := n.handler(m.Key); err != nil {
			atomic.AddInt64(&n.errorsCount, 1)
			logging.Error("Invalidation handler failed for key %s: %v", m.Key, err)
		}
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil {
		logging.Error("Failed to unsubscribe from invalidations: %v", err)
	}
	n.subscription = nil
}

// accept решает, применять ли сообщение: чужой узел и номер больше последнего
// применённого для этого ключа.
func (n *NATSInvalidator) accept(m *InvalidationMessage) bool {
	if m.NodeID == n.nodeID {
		return false
	}
	id := m.NodeID + "|" + m.Key

	n.seqMu.Lock()
	defer n.seqMu.Unlock()
	if last, ok := n.applied[id]; ok && m.Seq <= last.seq {
		return false
	}
	n.applied[id] = appliedSeq{seq: m.Seq, seen: time.Now()}
	return true
}

// startDedupeCleanup периодически чистит окно дедупликации
func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.cleanupDedupe()
			case <-n.stopCh:
				return
			}
		}
	}()
}

func (n *NATSInvalidator) cleanupDedupe() {
	n.seqMu.Lock()
	defer n.seqMu.Unlock()

	now := time.Now()
	for id, a := range n.applied {
		if now.Sub(a.seen) > n.config.DedupeWindow {
			delete(n.applied, id)
		}
	}
}
