package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/telhawk-systems/tabula/common/messaging"
	"github.com/telhawk-systems/tabula/internal/metrics"
	"github.com/telhawk-systems/tabula/internal/models"
)

// Notifier announces history changes. Failures never affect the caller.
type Notifier interface {
	Recorded(ctx context.Context, rec models.ConversionRecord) error
	Cleared(ctx context.Context, ownerID string, deleted int64) error
}

// RecordedEvent is published on messaging.SubjectConversionRecorded.
type RecordedEvent struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"userId"`
	FileName     string        `json:"fileName"`
	FileSize     int64         `json:"fileSize"`
	RowCount     int           `json:"rowCount"`
	ColumnCount  int           `json:"columnCount"`
	Status       models.Status `json:"status"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// ClearedEvent is published on messaging.SubjectHistoryCleared.
type ClearedEvent struct {
	OwnerID   string    `json:"userId"`
	Deleted   int64     `json:"deleted"`
	ClearedAt time.Time `json:"clearedAt"`
}

// BusNotifier publishes history events to the message bus.
type BusNotifier struct {
	pub messaging.Publisher
	now func() time.Time
}

func NewBusNotifier(pub messaging.Publisher) *BusNotifier {
	return &BusNotifier{pub: pub, now: time.Now}
}

func (n *BusNotifier) Recorded(ctx context.Context, rec models.ConversionRecord) error {
	return n.publish(ctx, messaging.SubjectConversionRecorded, rec.OwnerID, RecordedEvent{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		FileName:     rec.FileName,
		FileSize:     rec.FileSize,
		RowCount:     rec.RowCount,
		ColumnCount:  rec.ColumnCount,
		Status:       rec.Status,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
	})
}

func (n *BusNotifier) Cleared(ctx context.Context, ownerID string, deleted int64) error {
	return n.publish(ctx, messaging.SubjectHistoryCleared, ownerID, ClearedEvent{
		OwnerID:   ownerID,
		Deleted:   deleted,
		ClearedAt: n.now().UTC(),
	})
}

func (n *BusNotifier) publish(ctx context.Context, subject, ownerID string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}

	err = n.pub.PublishMsg(ctx, &messaging.Message{
		Subject: subject,
		Data:    data,
		Metadata: map[string]string{
			"Owner-Id":     ownerID,
			"Published-At": strconv.FormatInt(n.now().UnixMilli(), 10),
		},
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EventsPublished.WithLabelValues(subject, result).Inc()
	return err
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Recorded(context.Context, models.ConversionRecord) error { return nil }

func (NopNotifier) Cleared(context.Context, string, int64) error { return nil }
