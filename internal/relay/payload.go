package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultSummaryField - поле notification, из которого берется текст уведомления.
const DefaultSummaryField = "body"

// ErrInvalidPayload возвращается, если тело push-сообщения не является JSON объектом.
var ErrInvalidPayload = errors.New("invalid push payload")

// PushPayload - push-сообщение, полученное от платформы доставки.
// Поля notification необязательны: вызывающий код обязан проверять их наличие.
type PushPayload struct {
	UserID       string          // Пользователь (origin), чьи вкладки получат сообщение. Пусто = все вкладки.
	Notification *Notification   // nil, если в payload нет объекта notification
	Data         map[string]any  // Произвольные данные приложения
	Raw          json.RawMessage // Исходные байты, пересылаются без изменений
}

// Notification содержит видимые части push-сообщения.
type Notification struct {
	Title   *string
	Summary *string
	Image   *string
}

// Displayable сообщает, можно ли построить из payload системное уведомление.
func (p PushPayload) Displayable() bool {
	return p.Notification != nil
}

// ParsePushPayload разбирает тело push-сообщения.
// summaryField задает имя поля notification, которое используется как текст уведомления.
func ParsePushPayload(raw []byte, summaryField string) (PushPayload, error) {
	if summaryField == "" {
		summaryField = DefaultSummaryField
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PushPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if envelope == nil {
		return PushPayload{}, fmt.Errorf("%w: payload is null", ErrInvalidPayload)
	}

	payload := PushPayload{
		Raw: append(json.RawMessage(nil), raw...),
	}

	if v, ok := envelope["user_id"]; ok {
		payload.UserID = parseUserID(v)
	}

	if v, ok := envelope["data"]; ok {
		var data map[string]any
		if err := json.Unmarshal(v, &data); err == nil {
			payload.Data = data
		}
	}

	if v, ok := envelope["notification"]; ok {
		var fields map[string]any
		if err := json.Unmarshal(v, &fields); err == nil && fields != nil {
			payload.Notification = &Notification{
				Title:   stringField(fields, "title"),
				Summary: stringField(fields, summaryField),
				Image:   stringField(fields, "image"),
			}
		}
	}

	return payload, nil
}

// parseUserID принимает строку или целое число. Число берется в исходной записи,
// без перевода в float64, иначе id больше 2^53 округляются.
func parseUserID(v json.RawMessage) string {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var userID any
	if err := dec.Decode(&userID); err != nil {
		return ""
	}
	switch id := userID.(type) {
	case string:
		return id
	case json.Number:
		// дробные и экспоненциальные значения не являются id
		if !strings.ContainsAny(id.String(), ".eE") {
			return id.String()
		}
	}
	return ""
}

func stringField(fields map[string]any, key string) *string {
	v, ok := fields[key].(string)
	if !ok {
		return nil
	}
	return &v
}

// StringData возвращает строковое представление Data для платформенных SDK,
// которые принимают только map[string]string.
func (p PushPayload) StringData() map[string]string {
	if len(p.Data) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.Data))
	for k, v := range p.Data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
