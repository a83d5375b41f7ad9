// Package publisher forwards committed block events to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ahmadzakiakmal/estatechain/events"
)

// Message is the value of every published record: one event together with
// the transaction and block it came from.
type Message struct {
	Height  int64        `json:"height"`
	Time    int64        `json:"time"`
	TxHash  string       `json:"tx_hash"`
	Sender  string       `json:"sender"`
	MsgType string       `json:"msg_type"`
	Index   int          `json:"index"`
	Event   events.Event `json:"event"`
}

// Producer is the part of the kgo client used to publish.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type Publisher struct {
	client Producer
	topic  string
	logger cmtlog.Logger
}

// New connects to the brokers. Records go to topic.
func New(brokers []string, topic string, logger cmtlog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return NewWithProducer(client, topic, logger), nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(client Producer, topic string, logger cmtlog.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, logger: logger}
}

func (p *Publisher) Name() string {
	return "kafka"
}

// Consume publishes every event of the successful transactions in block.
func (p *Publisher) Consume(ctx context.Context, block *events.Block) error {
	records, err := Records(p.topic, block)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("publishing block %d: %w", block.Height, err)
	}
	p.logger.Debug("Published block events", "height", block.Height, "records", len(records))
	return nil
}

// Records builds one record per event. Records are keyed by property or
// lease id so that a consumer sees each entity's events in order.
func Records(topic string, block *events.Block) ([]*kgo.Record, error) {
	var records []*kgo.Record
	for _, t := range block.Txs {
		if t.Code != 0 {
			continue
		}
		for i, ev := range t.Events {
			value, err := json.Marshal(Message{
				Height:  block.Height,
				Time:    block.Time.Unix(),
				TxHash:  t.Hash,
				Sender:  t.Sender,
				MsgType: t.MsgType,
				Index:   i,
				Event:   ev,
			})
			if err != nil {
				return nil, fmt.Errorf("encoding %s event: %w", ev.Type, err)
			}
			records = append(records, &kgo.Record{
				Topic: topic,
				Key:   recordKey(ev),
				Value: value,
				Headers: []kgo.RecordHeader{
					{Key: "event_type", Value: []byte(ev.Type)},
					{Key: "height", Value: []byte(strconv.FormatInt(block.Height, 10))},
				},
			})
		}
	}
	return records, nil
}

func recordKey(ev events.Event) []byte {
	if id, ok := ev.Get("propertyId"); ok {
		return []byte("property/" + id)
	}
	if id, ok := ev.Get("leaseId"); ok {
		return []byte("lease/" + id)
	}
	return nil
}

// Close flushes and closes the client.
func (p *Publisher) Close() {
	p.client.Close()
}
