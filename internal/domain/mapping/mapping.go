// Пакет mapping — разрешение соответствий полей между локальной и удалённой CRM.
// Все функции чистые: не обращаются к хранилищу и не возвращают ошибок
// при применении соответствий; отсутствующие значения просто опускаются.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

// Ключи полей контакта локальной CRM.
const (
	FieldEmail     = "email"
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldPhone     = "phone"
)

// LocalFields — допустимые ключи полей локального контакта.
var LocalFields = []string{FieldEmail, FieldFirstName, FieldLastName, FieldPhone}

// PropertyEmail — уникальный ключ контакта в удалённой CRM.
const PropertyEmail = "email"

// BaseRemoteProperties — свойства, запрашиваемые у удалённой CRM всегда.
var BaseRemoteProperties = []string{"email", "firstname", "lastname", "phone"}

var (
	// ErrDuplicateRemoteProperty — два соответствия пишут в одно свойство.
	ErrDuplicateRemoteProperty = errors.New("свойство удалённой CRM указано в нескольких соответствиях")
	// ErrInvalidMapping — некорректная строка соответствия.
	ErrInvalidMapping = errors.New("некорректное соответствие полей")
)

// Flow — поток, для которого разрешаются соответствия.
type Flow int

const (
	// Outbound — локальная CRM → удалённая CRM.
	Outbound Flow = iota
	// Inbound — удалённая CRM → локальная CRM.
	Inbound
)

// Resolve возвращает соответствия, применимые к потоку: направление
// совпадает с потоком либо bidirectional. Порядок сохраняется.
func Resolve(mappings []model.FieldMapping, flow Flow) []model.FieldMapping {
	want := model.DirectionLocalToRemote
	if flow == Inbound {
		want = model.DirectionRemoteToLocal
	}

	result := make([]model.FieldMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.Direction == want || m.Direction == model.DirectionBidirectional {
			result = append(result, m)
		}
	}
	return result
}

// ApplyTransform применяет преобразование к значению.
// Неизвестное преобразование трактуется как none.
func ApplyTransform(value string, transform model.Transform) string {
	switch transform {
	case model.TransformTrim:
		return strings.TrimSpace(value)
	case model.TransformLowercase:
		return strings.ToLower(strings.TrimSpace(value))
	default:
		return value
	}
}

// OutboundValues — значения для записи в удалённую CRM.
type OutboundValues struct {
	// Properties — свойства удалённой CRM для записи.
	Properties map[string]string
	// Canonical — те же значения по ключам локальных полей (для хэша).
	Canonical map[string]string
}

// Empty сообщает, что ни одно соответствие не дало значения.
func (v OutboundValues) Empty() bool {
	return len(v.Properties) == 0
}

// ApplyOutbound вычисляет свойства удалённой CRM из полей локального контакта.
// mappings должны быть уже отфильтрованы через Resolve(..., Outbound).
func ApplyOutbound(local map[string]string, mappings []model.FieldMapping) OutboundValues {
	out := OutboundValues{
		Properties: make(map[string]string),
		Canonical:  make(map[string]string),
	}
	for _, m := range mappings {
		value := ApplyTransform(local[m.LocalField], m.Transform)
		if value == "" {
			continue
		}
		out.Properties[m.RemoteProperty] = value
		if _, seen := out.Canonical[m.LocalField]; !seen {
			out.Canonical[m.LocalField] = value
		}
	}
	return out
}

// ApplyInbound вычисляет значения локальных полей из свойств удалённого контакта.
// Если несколько свойств указывают на одно локальное поле, побеждает первое непустое.
// Поля, не входящие в LocalFields, игнорируются.
func ApplyInbound(remote map[string]string, mappings []model.FieldMapping) map[string]string {
	out := make(map[string]string)
	for _, m := range mappings {
		if !IsLocalField(m.LocalField) {
			continue
		}
		if _, seen := out[m.LocalField]; seen {
			continue
		}
		value := ApplyTransform(remote[m.RemoteProperty], m.Transform)
		if value == "" {
			continue
		}
		out[m.LocalField] = value
	}
	return out
}

// RemoteProperties возвращает объединение базовых свойств и свойств из соответствий
// без дубликатов.
func RemoteProperties(mappings []model.FieldMapping) []string {
	seen := make(map[string]struct{}, len(BaseRemoteProperties)+len(mappings))
	props := make([]string, 0, len(BaseRemoteProperties)+len(mappings))
	add := func(p string) {
		if _, ok := seen[p]; ok || p == "" {
			return
		}
		seen[p] = struct{}{}
		props = append(props, p)
	}
	for _, p := range BaseRemoteProperties {
		add(p)
	}
	for _, m := range mappings {
		add(m.RemoteProperty)
	}
	return props
}

// IsLocalField проверяет, что ключ — известное поле локального контакта.
func IsLocalField(key string) bool {
	for _, f := range LocalFields {
		if f == key {
			return true
		}
	}
	return false
}

// Validate проверяет набор соответствий перед сохранением.
// Имена свойств удалённой CRM сравниваются без учёта регистра.
func Validate(mappings []model.FieldMapping) error {
	seen := make(map[string]int, len(mappings))
	for i, m := range mappings {
		if !IsLocalField(m.LocalField) {
			return fmt.Errorf("%w: строка %d: неизвестное локальное поле %q", ErrInvalidMapping, i, m.LocalField)
		}
		prop := strings.ToLower(strings.TrimSpace(m.RemoteProperty))
		if prop == "" {
			return fmt.Errorf("%w: строка %d: пустое свойство удалённой CRM", ErrInvalidMapping, i)
		}
		switch m.Direction {
		case model.DirectionLocalToRemote, model.DirectionRemoteToLocal, model.DirectionBidirectional:
		default:
			return fmt.Errorf("%w: строка %d: недопустимое направление %q", ErrInvalidMapping, i, m.Direction)
		}
		switch m.Transform {
		case model.TransformNone, model.TransformTrim, model.TransformLowercase:
		default:
			return fmt.Errorf("%w: строка %d: недопустимое преобразование %q", ErrInvalidMapping, i, m.Transform)
		}
		if first, dup := seen[prop]; dup {
			return fmt.Errorf("%w: %q (строки %d и %d)", ErrDuplicateRemoteProperty, m.RemoteProperty, first, i)
		}
		seen[prop] = i
	}
	return nil
}
