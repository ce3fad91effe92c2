package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MaterializeRequest asks a worker to run one rollup pass. An empty UserID
// covers every user.
type MaterializeRequest struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMaterializeRequest creates a request stamped with a fresh id.
func NewMaterializeRequest(userID string) *MaterializeRequest {
	return &MaterializeRequest{
		RequestID: uuid.NewString(),
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *MaterializeRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MaterializeRequestFromJSON decodes a request published by ToJSON.
func MaterializeRequestFromJSON(data []byte) (*MaterializeRequest, error) {
	var msg MaterializeRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
