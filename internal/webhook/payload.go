package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedPayload — тело webhook не является ни массивом событий,
// ни конвертом {"events":[...]}, либо отдельное событие не разбирается.
var ErrMalformedPayload = errors.New("некорректное тело webhook")

// PayloadKind — форма тела webhook.
type PayloadKind string

const (
	KindEmpty    PayloadKind = "empty"
	KindArray    PayloadKind = "array"
	KindEnvelope PayloadKind = "envelope"
)

// Payload — тело webhook, разобранное один раз на границе.
type Payload struct {
	Kind  PayloadKind
	Items []Item
}

// Item — элемент пакета. Err заполнен, если элемент не разобрался
// как событие; Raw хранит исходный JSON элемента.
type Item struct {
	Event Event
	Raw   json.RawMessage
	Err   error
}

// Event — одно уведомление об изменении в удалённой CRM.
type Event struct {
	EventID          ID     `json:"eventId"`
	SubscriptionID   ID     `json:"subscriptionId"`
	PortalID         ID     `json:"portalId"`
	AppID            ID     `json:"appId"`
	OccurredAt       int64  `json:"occurredAt,omitempty"`
	Label            int64  `json:"label,omitempty"`
	SubscriptionType string `json:"subscriptionType"`
	AttemptNumber    int    `json:"attemptNumber"`
	ObjectID         ID     `json:"objectId"`
	ChangeFlag       string `json:"changeFlag,omitempty"`
	ChangeSource     string `json:"changeSource,omitempty"`
	PropertyName     string `json:"propertyName,omitempty"`
	PropertyValue    string `json:"propertyValue,omitempty"`
}

// OccurredAtMs возвращает время события в unix ms: occurredAt,
// а для уведомлений object.* поле label. 0, если нет ни того, ни другого.
func (e *Event) OccurredAtMs() int64 {
	if e.OccurredAt != 0 {
		return e.OccurredAt
	}
	return e.Label
}

// ID — идентификатор, приходящий числом или строкой.
type ID string

// UnmarshalJSON принимает JSON-число, строку или null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("идентификатор должен быть числом или строкой: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("идентификатор должен быть целым: %q", n.String())
	}
	*id = ID(n.String())
	return nil
}

// String возвращает строковое представление идентификатора.
func (id ID) String() string { return string(id) }

// envelope — форма {"events":[...]}.
type envelope struct {
	Events *[]json.RawMessage `json:"events"`
}

// DecodePayload разбирает тело webhook. Пустое тело — пустой пакет.
// Ошибка возвращается только для невалидного JSON и неизвестной формы тела;
// элемент, который не разбирается как событие, попадает в Items с Err.
func DecodePayload(body []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Payload{Kind: KindEmpty}, nil
	}

	switch trimmed[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return Payload{Kind: KindArray, Items: decodeItems(raws)}, nil
	case '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if env.Events == nil {
			return Payload{}, fmt.Errorf("%w: объект без поля events", ErrMalformedPayload)
		}
		return Payload{Kind: KindEnvelope, Items: decodeItems(*env.Events)}, nil
	default:
		return Payload{}, fmt.Errorf("%w: ожидается массив или объект", ErrMalformedPayload)
	}
}

func decodeItems(raws []json.RawMessage) []Item {
	items := make([]Item, len(raws))
	for i, raw := range raws {
		items[i].Raw = raw
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			items[i].Err = fmt.Errorf("%w: событие %d не является объектом", ErrMalformedPayload, i)
			continue
		}
		if err := json.Unmarshal(trimmed, &items[i].Event); err != nil {
			items[i].Event = Event{}
			items[i].Err = fmt.Errorf("%w: событие %d: %v", ErrMalformedPayload, i, err)
		}
	}
	return items
}
