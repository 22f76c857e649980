package preview

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/vade/internal/domain"
)

// ErrUnknownMessage is returned for envelopes whose type is not recognized.
// Hosts ignore such messages.
var ErrUnknownMessage = errors.New("preview: unknown message type")

// Message is a decoded message from the preview document.
// ElementClick is the only implementation.
type Message interface {
	messageType() string
}

// ElementClick reports that the user clicked an element in the preview.
type ElementClick struct {
	Info domain.ClickedElementInfo
}

func (ElementClick) messageType() string { return ElementClickType }

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeMessage parses a postMessage envelope. Origin is not checked.
func DecodeMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("preview: decode envelope: %w", err)
	}

	switch env.Type {
	case ElementClickType:
		var info domain.ClickedElementInfo
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil, fmt.Errorf("preview: %s without data", ElementClickType)
		}
		if err := json.Unmarshal(env.Data, &info); err != nil {
			return nil, fmt.Errorf("preview: decode element info: %w", err)
		}
		if strings.TrimSpace(info.TagName) == "" {
			return nil, fmt.Errorf("preview: %s without tagName", ElementClickType)
		}
		return ElementClick{Info: info}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

// EncodeElementClick builds the envelope the instrumentation script posts.
func EncodeElementClick(info domain.ClickedElementInfo) ([]byte, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: ElementClickType, Data: data})
}
