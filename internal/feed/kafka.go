// Package feed publishes completed rounds to Kafka: one message per trade
// keyed by instrument, and one round summary.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/efreitasn/marketsim/internal/sim"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Summary is the per-round message.
type Summary struct {
	Round           int              `json:"round"`
	Trades          int              `json:"trades"`
	Volume          int64            `json:"volume"`
	Rejections      int              `json:"rejections"`
	Expired         int              `json:"expired"`
	ReferencePrices map[string]int64 `json:"reference_prices"`
}

// Summarize condenses a round.
func Summarize(r *sim.RoundResult) Summary {
	s := Summary{
		Round:           r.Round,
		Rejections:      len(r.Rejections),
		Expired:         len(r.Expired),
		ReferencePrices: r.ReferencePrices,
	}
	for _, res := range r.Instruments {
		s.Trades += len(res.Trades)
		s.Volume += res.Volume()
	}
	return s
}

// Publisher writes rounds to a trade topic and a summary topic.
type Publisher struct {
	trades    MessageWriter
	summaries MessageWriter
	logger    *slog.Logger
}

// NewKafkaPublisher creates a publisher writing to brokers. Trades go to
// topic and summaries to topic + ".rounds".
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	writer := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return NewPublisher(writer(topic), writer(topic+".rounds"), logger)
}

// NewPublisher creates a publisher over the given writers.
func NewPublisher(trades, summaries MessageWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{trades: trades, summaries: summaries, logger: logger}
}

// ObserveRound publishes the round's trades, then its summary.
func (p *Publisher) ObserveRound(ctx context.Context, r *sim.RoundResult) error {
	trades := r.Trades()
	if len(trades) > 0 {
		msgs := make([]kafka.Message, 0, len(trades))
		for _, t := range trades {
			v, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode trade %s: %w", t.TradeID, err)
			}
			msgs = append(msgs, kafka.Message{Key: []byte(t.Instrument), Value: v})
		}
		if err := p.trades.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish %d trades of round %d: %w", len(msgs), r.Round, err)
		}
	}

	v, err := json.Marshal(Summarize(r))
	if err != nil {
		return fmt.Errorf("encode summary of round %d: %w", r.Round, err)
	}
	if err := p.summaries.WriteMessages(ctx, kafka.Message{Key: []byte(fmt.Sprintf("%d", r.Round)), Value: v}); err != nil {
		return fmt.Errorf("publish summary of round %d: %w", r.Round, err)
	}
	p.logger.Debug("round published",
		slog.Int("round", r.Round),
		slog.Int("trades", len(trades)),
	)
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	err := p.trades.Close()
	if serr := p.summaries.Close(); err == nil {
		err = serr
	}
	return err
}
