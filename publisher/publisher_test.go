package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ahmadzakiakmal/estatechain/events"
)

type fakeProducer struct {
	err      error
	produced []*kgo.Record
	closed   bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.produced = append(f.produced, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeProducer) Close() { f.closed = true }

func testBlock() *events.Block {
	return &events.Block{
		Height: 11,
		Time:   time.Unix(1_700_000_000, 0),
		Txs: []events.TxRecord{
			{
				Hash:    "cafe",
				Sender:  "ALICE",
				MsgType: "create_lease",
				Events: []events.Event{
					events.New(events.TypeLeaseCreated, "leaseId", 2, "propertyId", 4),
					events.New(events.TypeRentPaid, "leaseId", 2, "amount", "10"),
					events.New(events.TypeTransfer, "from", "ALICE", "to", "BOB"),
				},
			},
			{Hash: "beef", Sender: "BOB", MsgType: "place_bid", Code: 5, Log: "bid too low"},
		},
	}
}

func TestRecords(t *testing.T) {
	records, err := Records("estate-events", testBlock())
	require.NoError(t, err)
	require.Len(t, records, 3, "failed transactions publish nothing")

	assert.Equal(t, "estate-events", records[0].Topic)
	assert.Equal(t, []byte("property/4"), records[0].Key)
	assert.Equal(t, []byte("lease/2"), records[1].Key)
	assert.Nil(t, records[2].Key)

	assert.Equal(t, []kgo.RecordHeader{
		{Key: "event_type", Value: []byte(events.TypeRentPaid)},
		{Key: "height", Value: []byte("11")},
	}, records[1].Headers)

	var msg Message
	require.NoError(t, json.Unmarshal(records[1].Value, &msg))
	assert.Equal(t, int64(11), msg.Height)
	assert.Equal(t, int64(1_700_000_000), msg.Time)
	assert.Equal(t, "cafe", msg.TxHash)
	assert.Equal(t, "create_lease", msg.MsgType)
	assert.Equal(t, 1, msg.Index)
	assert.Equal(t, events.TypeRentPaid, msg.Event.Type)
}

func TestConsume(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewWithProducer(producer, "estate-events", cmtlog.NewNopLogger())
	assert.Equal(t, "kafka", pub.Name())

	require.NoError(t, pub.Consume(context.Background(), testBlock()))
	assert.Len(t, producer.produced, 3)

	require.NoError(t, pub.Consume(context.Background(), &events.Block{Height: 12}))
	assert.Len(t, producer.produced, 3, "empty blocks are skipped")

	pub.Close()
	assert.True(t, producer.closed)
}

func TestConsumeReportsBrokerErrors(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker unavailable")}
	pub := NewWithProducer(producer, "estate-events", cmtlog.NewNopLogger())

	err := pub.Consume(context.Background(), testBlock())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 11")
	assert.Contains(t, err.Error(), "broker unavailable")
}
