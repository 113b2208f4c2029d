package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/config"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
)

// Writer publishes repaired observations to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// observationMessage is the wire form of one observation. Dates travel as
// YYYY-MM-DD so consumers never see a time of day.
type observationMessage struct {
	ZoneID      string  `json:"zone_id"`
	Date        string  `json:"date"`
	RawCount    float64 `json:"raw_count"`
	DerivedArea float64 `json:"derived_area"`
	Repair      string  `json:"repair"`
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes observations in a single WriteMessages call.
// Messages are keyed by zone and date so a re-published series compacts.
func (w *Writer) Publish(ctx context.Context, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(obs))
	for i := range obs {
		msg, err := serializeToMessage(obs[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d observations: %w", len(msgs), err)
	}
	w.logger.Debug("observations published", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an Observation into a Kafka message.
func serializeToMessage(o domain.Observation) (kafkago.Message, error) {
	repair := o.Repair
	if repair == "" {
		repair = domain.RepairObserved
	}
	date := domain.FormatDate(o.Date)
	data, err := json.Marshal(observationMessage{
		ZoneID:      o.ZoneID,
		Date:        date,
		RawCount:    o.RawCount,
		DerivedArea: o.DerivedArea,
		Repair:      string(repair),
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(o.ZoneID + "|" + date),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "repair", Value: []byte(repair)},
			{Key: "date", Value: []byte(date)},
		},
	}, nil
}
