package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/facility-monitor/pkg/event"
	"procodus.dev/facility-monitor/pkg/mq"
)

// Archive record keys.
const (
	archiveRoom       = "room"
	archiveReceivedAt = "received_at"
	archiveEvent      = "event"
)

// Record is one decoded archive message.
type Record struct {
	ReceivedAt time.Time
	Room       string
	Fields     map[string]any
}

// Encode renders e as a protobuf Struct:
// {room, received_at (RFC 3339), event: <the parsed envelope>}.
func Encode(e event.Envelope) ([]byte, error) {
	fields := e.Fields
	if fields == nil && len(e.Raw) > 0 {
		if err := json.Unmarshal(e.Raw, &fields); err != nil {
			return nil, fmt.Errorf("decode raw event: %w", err)
		}
	}
	body, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("convert event: %w", err)
	}

	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		archiveRoom:       structpb.NewStringValue(e.Room),
		archiveReceivedAt: structpb.NewStringValue(e.ReceivedAt.UTC().Format(time.RFC3339Nano)),
		archiveEvent:      structpb.NewStructValue(body),
	}}
	return proto.Marshal(s)
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (Record, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Record{}, fmt.Errorf("unmarshal archive record: %w", err)
	}

	body := s.GetFields()[archiveEvent].GetStructValue()
	if body == nil {
		return Record{}, errors.New("archive record has no event")
	}
	at, err := time.Parse(time.RFC3339Nano, s.GetFields()[archiveReceivedAt].GetStringValue())
	if err != nil {
		return Record{}, fmt.Errorf("archive record time: %w", err)
	}

	return Record{
		ReceivedAt: at,
		Room:       s.GetFields()[archiveRoom].GetStringValue(),
		Fields:     body.AsMap(),
	}, nil
}

// ArchiveLog pushes every event to the archive queue.
type ArchiveLog struct {
	client mq.ClientInterface
}

// NewArchiveLog wraps an archive queue client.
func NewArchiveLog(client mq.ClientInterface) (*ArchiveLog, error) {
	if client == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	return &ArchiveLog{client: client}, nil
}

// Append implements Log.
func (a *ArchiveLog) Append(ctx context.Context, e event.Envelope) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := a.client.Push(ctx, data); err != nil {
		return fmt.Errorf("push to archive: %w", err)
	}
	return nil
}
