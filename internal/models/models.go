// Package models holds the types shared between the pipeline, the history
// store and the HTTP layer.
package models

import (
	"encoding/json"
	"time"
)

// Identity is a verified caller.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Status is the outcome stored on a history record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ConversionRecord is one row of an identity's conversion history.
// Payload holds the serialized row projection for successful conversions.
type ConversionRecord struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"userId"`
	FileName     string          `json:"fileName"`
	FileSize     int64           `json:"fileSize"`
	RowCount     int             `json:"rowCount"`
	ColumnCount  int             `json:"columnCount"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Payload      json.RawMessage `json:"jsonData,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Summary drops the payload for list views.
func (r ConversionRecord) Summary() ConversionRecord {
	r.Payload = nil
	return r
}

// ConvertResponse is the 200 body of POST /api/convert.
type ConvertResponse struct {
	Data        any    `json:"data"`
	RowCount    int    `json:"rowCount"`
	ColumnCount int    `json:"columnCount"`
	FileName    string `json:"fileName"`
}

// ClearResponse is the body of DELETE /api/history.
type ClearResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

// KeepAliveResponse is the body of a successful keep-alive probe.
type KeepAliveResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
