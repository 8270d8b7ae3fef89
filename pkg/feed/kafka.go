package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/minkyow/trademirror/pkg/core"
)

// Publisher streams settled trades to a Kafka topic so downstream
// consumers (analytics, risk, archival) get the same feed the
// WebSocket clients do.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// tradeMessage is the wire format published per settled trade
type tradeMessage struct {
	BuyOrderID  string `json:"buyOrderId"`
	SellOrderID string `json:"sellOrderId"`
	Symbol      string `json:"symbol"`
	Qty         int64  `json:"qty"`
	Price       int64  `json:"price"`
	BuyerID     string `json:"buyerId"`
	SellerID    string `json:"sellerId"`
	Timestamp   int64  `json:"timestamp"`
}

// NewPublisher creates a Kafka publisher for the given brokers and topic
func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Errorw("feed_publish_failed", "count", len(messages), "err", err)
				}
			},
		},
		log: log,
	}
}

// Publish emits one settled trade, keyed by symbol so per-symbol
// ordering survives partitioning
func (p *Publisher) Publish(ctx context.Context, t core.MatchedTrade) error {
	payload, err := json.Marshal(tradeMessage{
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Symbol:      t.Symbol,
		Qty:         t.Qty,
		Price:       t.Price,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		Timestamp:   t.Timestamp,
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.Symbol),
		Value: payload,
	})
}

// Close flushes pending messages and shuts down the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
