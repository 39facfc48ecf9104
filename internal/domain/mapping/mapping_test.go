package mapping

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

func fm(local, remote string, dir model.Direction, tr model.Transform) model.FieldMapping {
	return model.FieldMapping{LocalField: local, RemoteProperty: remote, Direction: dir, Transform: tr}
}

func TestResolve(t *testing.T) {
	mappings := []model.FieldMapping{
		fm(FieldEmail, "email", model.DirectionBidirectional, model.TransformLowercase),
		fm(FieldFirstName, "firstname", model.DirectionLocalToRemote, model.TransformTrim),
		fm(FieldLastName, "lastname", model.DirectionRemoteToLocal, model.TransformNone),
	}

	out := Resolve(mappings, Outbound)
	if len(out) != 2 || out[0].RemoteProperty != "email" || out[1].RemoteProperty != "firstname" {
		t.Errorf("Resolve(Outbound) = %+v", out)
	}

	in := Resolve(mappings, Inbound)
	if len(in) != 2 || in[0].RemoteProperty != "email" || in[1].RemoteProperty != "lastname" {
		t.Errorf("Resolve(Inbound) = %+v", in)
	}
}

func TestApplyTransform(t *testing.T) {
	tests := []struct {
		value     string
		transform model.Transform
		want      string
	}{
		{"  A@Example.com ", model.TransformLowercase, "a@example.com"},
		{"  Ann  ", model.TransformTrim, "Ann"},
		{"  Ann  ", model.TransformNone, "  Ann  "},
		{"  Ann  ", model.Transform("reverse"), "  Ann  "},
	}
	for _, tt := range tests {
		if got := ApplyTransform(tt.value, tt.transform); got != tt.want {
			t.Errorf("ApplyTransform(%q, %q) = %q, ожидается %q", tt.value, tt.transform, got, tt.want)
		}
	}
}

func TestApplyOutbound_OmitsEmptyValues(t *testing.T) {
	mappings := []model.FieldMapping{
		fm(FieldEmail, "email", model.DirectionBidirectional, model.TransformLowercase),
		fm(FieldPhone, "phone", model.DirectionBidirectional, model.TransformTrim),
		fm(FieldFirstName, "firstname", model.DirectionBidirectional, model.TransformTrim),
	}
	local := map[string]string{
		FieldEmail:     " A@Example.com",
		FieldPhone:     "   ",
		FieldFirstName: "",
	}

	got := ApplyOutbound(local, mappings)

	wantProps := map[string]string{"email": "a@example.com"}
	if !reflect.DeepEqual(got.Properties, wantProps) {
		t.Errorf("Properties = %v, ожидается %v", got.Properties, wantProps)
	}
	wantCanonical := map[string]string{FieldEmail: "a@example.com"}
	if !reflect.DeepEqual(got.Canonical, wantCanonical) {
		t.Errorf("Canonical = %v, ожидается %v", got.Canonical, wantCanonical)
	}
	if got.Empty() {
		t.Error("Empty() = true при наличии email")
	}
}

func TestApplyOutbound_NoValues(t *testing.T) {
	mappings := []model.FieldMapping{fm(FieldPhone, "phone", model.DirectionBidirectional, model.TransformNone)}
	if got := ApplyOutbound(map[string]string{}, mappings); !got.Empty() {
		t.Errorf("ожидался пустой результат, получено %+v", got)
	}
}

func TestApplyInbound(t *testing.T) {
	mappings := []model.FieldMapping{
		fm(FieldEmail, "email", model.DirectionBidirectional, model.TransformLowercase),
		fm(FieldFirstName, "nickname", model.DirectionRemoteToLocal, model.TransformTrim),
		fm(FieldFirstName, "firstname", model.DirectionRemoteToLocal, model.TransformTrim),
		fm("company", "company", model.DirectionRemoteToLocal, model.TransformNone),
	}
	remote := map[string]string{
		"email":     "A@EXAMPLE.COM",
		"nickname":  "",
		"firstname": " Ann ",
		"company":   "ACME",
	}

	got := ApplyInbound(remote, mappings)
	want := map[string]string{FieldEmail: "a@example.com", FieldFirstName: "Ann"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ApplyInbound = %v, ожидается %v", got, want)
	}
}

func TestRemoteProperties(t *testing.T) {
	mappings := []model.FieldMapping{
		fm(FieldEmail, "email", model.DirectionBidirectional, model.TransformNone),
		fm(FieldPhone, "mobilephone", model.DirectionRemoteToLocal, model.TransformNone),
	}
	want := []string{"email", "firstname", "lastname", "phone", "mobilephone"}
	if got := RemoteProperties(mappings); !reflect.DeepEqual(got, want) {
		t.Errorf("RemoteProperties = %v, ожидается %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	valid := fm(FieldEmail, "email", model.DirectionBidirectional, model.TransformLowercase)

	tests := []struct {
		name     string
		mappings []model.FieldMapping
		wantErr  error
	}{
		{"пустой набор", nil, nil},
		{"валидный набор", []model.FieldMapping{valid, fm(FieldPhone, "phone", model.DirectionLocalToRemote, model.TransformNone)}, nil},
		{"дубликат свойства", []model.FieldMapping{valid, fm(FieldFirstName, "email", model.DirectionRemoteToLocal, model.TransformNone)}, ErrDuplicateRemoteProperty},
		{"дубликат в другом регистре", []model.FieldMapping{valid, fm(FieldFirstName, " Email", model.DirectionRemoteToLocal, model.TransformNone)}, ErrDuplicateRemoteProperty},
		{"неизвестное поле", []model.FieldMapping{fm("company", "company", model.DirectionBidirectional, model.TransformNone)}, ErrInvalidMapping},
		{"пустое свойство", []model.FieldMapping{fm(FieldEmail, " ", model.DirectionBidirectional, model.TransformNone)}, ErrInvalidMapping},
		{"неизвестное направление", []model.FieldMapping{fm(FieldEmail, "email", "both", model.TransformNone)}, ErrInvalidMapping},
		{"неизвестное преобразование", []model.FieldMapping{fm(FieldEmail, "email", model.DirectionBidirectional, "upper")}, ErrInvalidMapping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.mappings)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, ожидается nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, ожидается %v", err, tt.wantErr)
			}
		})
	}
}
