package amqp

import (
	"encoding/json"
	"time"

	"adsdash/internal/services"
)

// SyncReportMessage carries a finished sync run's report to downstream
// consumers (alerting, archival). Source names the producer binary.
type SyncReportMessage struct {
	Source    string              `json:"source"`
	Report    services.SyncReport `json:"report"`
	Timestamp time.Time           `json:"timestamp"`
}

func NewSyncReportMessage(source string, report services.SyncReport) *SyncReportMessage {
	return &SyncReportMessage{
		Source:    source,
		Report:    report,
		Timestamp: time.Now(),
	}
}

func (m *SyncReportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SyncReportMessageFromJSON(data []byte) (*SyncReportMessage, error) {
	var msg SyncReportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
