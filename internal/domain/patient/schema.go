package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/platform/validation"
)

// Fields of a patient payload.
const (
	FieldName validation.FieldSet = 1 << iota
	FieldEmail
	FieldPhone
	FieldBirthday
	FieldCity
)

const (
	msgNameType     = "Nome inválido"
	msgNameMin      = "Nome deve ter no mínimo 3 caracteres"
	msgNameMax      = "Nome deve ter no máximo 100 caracteres"
	msgEmail        = "Email inválido"
	msgEmailMax     = "Email deve ter no máximo 100 caracteres"
	msgPhone        = "Telefone inválido"
	msgPhoneMax     = "Telefone deve ter no máximo 30 caracteres"
	msgBirthday     = "Data inválida"
	msgBirthdayForm = "Data deve estar no formato YYYY-MM-DD"
	msgCity         = "Cidade inválida"
	msgCityMax      = "Cidade deve ter no máximo 100 caracteres"
)

// CreateInput is a validated patient creation payload. Optional fields are
// nil when absent.
type CreateInput struct {
	DoctorID uuid.UUID
	Name     string
	Email    string
	Phone    *string
	Birthday *time.Time
	City     *string
}

// UpdateInput is a validated partial update. A nullable field whose bit is in
// Present but whose pointer is nil clears the stored value.
type UpdateInput struct {
	Present  validation.FieldSet
	Name     string
	Email    string
	Phone    *string
	Birthday *time.Time
	City     *string
}

// ValidateCreate checks a creation payload. doctorId, name and email are
// required; phone, birthday and city may be omitted but not null.
func ValidateCreate(payload map[string]any) (*CreateInput, error) {
	r := validation.NewReader(payload)
	in := &CreateInput{}
	in.DoctorID = readDoctorID(r)
	in.Name, _ = readName(r, true)
	in.Email, _ = readEmail(r, true)
	in.Phone, _ = readOptional(r, "phone", msgPhone, false, func(s string) bool {
		return r.Length("phone", s, 8, 30, msgPhone, msgPhoneMax)
	})
	in.City, _ = readOptional(r, "city", msgCity, false, func(s string) bool {
		return r.Length("city", s, 2, 100, msgCity, msgCityMax)
	})
	in.Birthday, _ = readBirthday(r, false)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return in, nil
}

// ValidateUpdate checks a partial update payload. doctorId is not updatable
// and is ignored like any other unknown key.
func ValidateUpdate(payload map[string]any) (*UpdateInput, error) {
	r := validation.NewReader(payload)
	in := &UpdateInput{}
	var ok bool
	if in.Name, ok = readName(r, false); ok {
		in.Present.Add(FieldName)
	}
	if in.Email, ok = readEmail(r, false); ok {
		in.Present.Add(FieldEmail)
	}
	if in.Phone, ok = readOptional(r, "phone", msgPhone, true, func(s string) bool {
		return r.Length("phone", s, 8, 30, msgPhone, msgPhoneMax)
	}); ok {
		in.Present.Add(FieldPhone)
	}
	if in.City, ok = readOptional(r, "city", msgCity, true, func(s string) bool {
		return r.Length("city", s, 2, 100, msgCity, msgCityMax)
	}); ok {
		in.Present.Add(FieldCity)
	}
	if in.Birthday, ok = readBirthday(r, true); ok {
		in.Present.Add(FieldBirthday)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return in, nil
}

func readDoctorID(r *validation.Reader) uuid.UUID {
	s, st := r.String("doctorId", MsgInvalidDoctorID)
	// A missing doctorId reads as an invalid one, not as a generic required field.
	if st == validation.Missing {
		r.Add("doctorId", MsgInvalidDoctorID)
		return uuid.Nil
	}
	if !r.Present("doctorId", st, true, MsgInvalidDoctorID) {
		return uuid.Nil
	}
	if !r.Check("doctorId", validation.IsUUIDv4(s), MsgInvalidDoctorID) {
		return uuid.Nil
	}
	return uuid.MustParse(s)
}

func readName(r *validation.Reader, required bool) (string, bool) {
	s, st := r.String("name", msgNameType)
	if !r.Present("name", st, required, msgNameType) {
		return "", false
	}
	return s, r.Length("name", s, 3, 100, msgNameMin, msgNameMax)
}

func readEmail(r *validation.Reader, required bool) (string, bool) {
	s, st := r.String("email", msgEmail)
	if !r.Present("email", st, required, msgEmail) {
		return "", false
	}
	s = strings.ToLower(s)
	ok := r.Check("email", validation.IsEmail(s), msgEmail)
	ok = r.Length("email", s, 0, 100, msgEmailMax, msgEmailMax) && ok
	return s, ok
}

// readOptional reads a trimmed nullable string. It reports true when the
// field should be written: a valid value, or null when nullable is set.
func readOptional(r *validation.Reader, field, typeMessage string, nullable bool, rule func(string) bool) (*string, bool) {
	s, st := r.String(field, typeMessage)
	switch st {
	case validation.Set:
		if !rule(s) {
			return nil, false
		}
		return &s, true
	case validation.Null:
		if nullable {
			return nil, true
		}
		r.Add(field, typeMessage)
	}
	return nil, false
}

func readBirthday(r *validation.Reader, nullable bool) (*time.Time, bool) {
	s, st := r.String("birthday", msgBirthday)
	switch st {
	case validation.Set:
		if !r.Check("birthday", validation.IsISODate(s), msgBirthdayForm) {
			return nil, false
		}
		d, ok := validation.ParseDate(s)
		if !r.Check("birthday", ok, msgBirthday) {
			return nil, false
		}
		return &d, true
	case validation.Null:
		if nullable {
			return nil, true
		}
		r.Add("birthday", msgBirthday)
	}
	return nil, false
}
