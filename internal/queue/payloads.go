package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types published by the bot gateway
const (
	TaskTypeMessage  = "verification:message"
	TaskTypePhoto    = "verification:photo"
	TaskTypeDecision = "verification:decision"
)

// MessagePayload is a text message from a user
type MessagePayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Text        string `json:"text"`
}

// PhotoPayload is a screenshot from a user
type PhotoPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	FileID      string `json:"fileId,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	ImageBuffer []byte `json:"-"` // set by UnmarshalJSON
}

// DecisionPayload is an operator button press or reply
type DecisionPayload struct {
	OperatorID   string `json:"operatorId"`
	CallbackData string `json:"callbackData,omitempty"`
	Text         string `json:"text,omitempty"`
	MessageRef   string `json:"messageRef,omitempty"`
}

// UnmarshalJSON accepts imageBuffer as a base64 string or as a serialized
// Node.js Buffer object ({"type":"Buffer","data":[...]}).
func (p *PhotoPayload) UnmarshalJSON(data []byte) error {
	type Alias PhotoPayload
	aux := &struct {
		ImageBuffer interface{} `json:"imageBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal PhotoPayload: %w", err)
	}

	buf, err := decodeBuffer(aux.ImageBuffer)
	if err != nil {
		return err
	}
	p.ImageBuffer = buf
	return nil
}

// MarshalJSON encodes imageBuffer as base64
func (p PhotoPayload) MarshalJSON() ([]byte, error) {
	type Alias PhotoPayload
	aux := struct {
		ImageBuffer string `json:"imageBuffer,omitempty"`
		Alias
	}{
		Alias: Alias(p),
	}
	if len(p.ImageBuffer) > 0 {
		aux.ImageBuffer = base64.StdEncoding.EncodeToString(p.ImageBuffer)
	}
	return json.Marshal(aux)
}

func decodeBuffer(v interface{}) ([]byte, error) {
	switch buf := v.(type) {
	case nil:
		return nil, nil

	case string:
		if buf == "" {
			return nil, nil
		}
		decoded, err := base64.StdEncoding.DecodeString(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 imageBuffer: %w", err)
		}
		return decoded, nil

	case map[string]interface{}:
		if bufferType, ok := buf["type"].(string); !ok || bufferType != "Buffer" {
			return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := buf["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("Buffer object missing 'data' array")
		}
		out := make([]byte, len(dataArray))
		for i, val := range dataArray {
			f, ok := val.(float64)
			if !ok || f < 0 || f > 255 {
				return nil, fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			out[i] = byte(f)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("imageBuffer must be either base64 string or Buffer object, got %T", v)
	}
}

// NewMessageTask builds a message task, as enqueued by the gateway
func NewMessageTask(p *MessagePayload, opts ...asynq.Option) (*asynq.Task, error) {
	return newTask(TaskTypeMessage, p, opts...)
}

// NewPhotoTask builds a photo task
func NewPhotoTask(p *PhotoPayload, opts ...asynq.Option) (*asynq.Task, error) {
	return newTask(TaskTypePhoto, p, opts...)
}

// NewDecisionTask builds an operator decision task
func NewDecisionTask(p *DecisionPayload, opts ...asynq.Option) (*asynq.Task, error) {
	return newTask(TaskTypeDecision, p, opts...)
}

func newTask(taskType string, payload interface{}, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data, opts...), nil
}
