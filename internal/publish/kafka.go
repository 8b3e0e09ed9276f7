// Package publish streams backtest results to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"zone-backtester/config"
	"zone-backtester/internal/backtest"
	"zone-backtester/internal/confluence"
)

// messageWriter is the subset of kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes completed trades and zone sets. Messages are keyed by ticker
// so one ticker's records stay ordered within a partition.
type KafkaSink struct {
	writer      messageWriter
	tradesTopic string
	zonesTopic  string
	logger      zerolog.Logger
}

// ZoneSetMessage is the payload published for a ticker-day zone set
type ZoneSetMessage struct {
	Ticker string                    `json:"ticker"`
	Date   string                    `json:"date"`
	Zones  []confluence.FilteredZone `json:"zones"`
}

// NewKafkaSink creates a sink writing to the configured brokers
func NewKafkaSink(cfg config.KafkaConfig, logger zerolog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchTimeout: time.Second,
	}

	return newKafkaSink(writer, cfg.TradesTopic, cfg.ZonesTopic, logger), nil
}

func newKafkaSink(w messageWriter, tradesTopic, zonesTopic string, logger zerolog.Logger) *KafkaSink {
	return &KafkaSink{
		writer:      w,
		tradesTopic: tradesTopic,
		zonesTopic:  zonesTopic,
		logger:      logger.With().Str("component", "KafkaSink").Logger(),
	}
}

// SaveTrades publishes one message per trade
func (s *KafkaSink) SaveTrades(ctx context.Context, trades []backtest.CompletedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	msgs, err := tradeMessages(s.tradesTopic, trades)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d trades: %w", len(trades), err)
	}

	s.logger.Debug().Int("trades", len(trades)).Str("topic", s.tradesTopic).Msg("Published trades")
	return nil
}

// SaveZones publishes the zone set of a ticker-day as one message
func (s *KafkaSink) SaveZones(ctx context.Context, ticker string, date time.Time, zones []confluence.FilteredZone) error {
	msg, err := zoneMessage(s.zonesTopic, ticker, date, zones)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish zones for %s: %w", ticker, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (s *KafkaSink) Close() error {
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

func tradeMessages(topic string, trades []backtest.CompletedTrade) ([]kafka.Message, error) {
	now := time.Now()
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		v, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("marshal trade %s: %w", t.TradeID, err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(t.Ticker),
			Value: v,
			Time:  now,
			Headers: []kafka.Header{
				{Key: "trade_id", Value: []byte(t.TradeID)},
				{Key: "exit_reason", Value: []byte(t.Exit.Reason)},
			},
		})
	}
	return msgs, nil
}

func zoneMessage(topic, ticker string, date time.Time, zones []confluence.FilteredZone) (kafka.Message, error) {
	if zones == nil {
		zones = []confluence.FilteredZone{}
	}
	v, err := json.Marshal(ZoneSetMessage{Ticker: ticker, Date: date.Format("2006-01-02"), Zones: zones})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal zones: %w", err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(ticker),
		Value: v,
		Time:  time.Now(),
	}, nil
}
