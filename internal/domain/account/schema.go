package account

import (
	"strings"

	"github.com/ehr/recordsvc/internal/platform/validation"
)

// Fields of an account payload, as bits of validation.FieldSet.
const (
	FieldName validation.FieldSet = 1 << iota
	FieldEmail
	FieldPassword
	FieldRole
)

const (
	msgNameType     = "Nome inválido"
	msgNameMin      = "Nome deve ter no mínimo 3 caracteres"
	msgNameMax      = "Nome deve ter no máximo 100 caracteres"
	msgEmail        = "Email inválido"
	msgEmailMax     = "Email deve ter no máximo 100 caracteres"
	msgPasswordType = "Senha inválida"
	msgPasswordMin  = "Senha deve ter no mínimo 8 caracteres"
	msgPasswordMax  = "Senha deve ter no máximo 32 caracteres"
	msgPasswordMix  = "A senha deve conter letra maiúscula, minúscula, número e caractere especial"
	msgRole         = "Role inválida"
)

// passwordSymbols is the set a password must draw its special character from.
const passwordSymbols = "@$!%*?&"

// CreateInput is a validated account creation payload.
type CreateInput struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

// UpdateInput is a validated partial update. Only fields in Present apply.
type UpdateInput struct {
	Present  validation.FieldSet
	Name     string
	Email    string
	Password string
	Role     Role
}

// ValidateCreate checks a creation payload. Every field is required.
func ValidateCreate(payload map[string]any) (*CreateInput, error) {
	r := validation.NewReader(payload)
	in := &CreateInput{}
	in.Name, _ = readName(r, true)
	in.Email, _ = readEmail(r, true)
	in.Password, _ = readPassword(r, true)
	in.Role, _ = readRole(r, true)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return in, nil
}

// ValidateUpdate checks a partial update payload. Absent fields are left out
// of Present; explicit nulls are rejected since no account field is nullable.
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
	if in.Password, ok = readPassword(r, false); ok {
		in.Present.Add(FieldPassword)
	}
	if in.Role, ok = readRole(r, false); ok {
		in.Present.Add(FieldRole)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return in, nil
}

func readName(r *validation.Reader, required bool) (string, bool) {
	s, st := r.String("name", msgNameType)
	if !r.Present("name", st, required, msgNameType) {
		return "", false
	}
	return s, r.Length("name", s, 3, 100, msgNameMin, msgNameMax)
}

// NormalizeEmail is the canonical form emails are stored and compared in.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func readEmail(r *validation.Reader, required bool) (string, bool) {
	s, st := r.String("email", msgEmail)
	if !r.Present("email", st, required, msgEmail) {
		return "", false
	}
	s = NormalizeEmail(s)
	ok := r.Check("email", validation.IsEmail(s), msgEmail)
	ok = r.Length("email", s, 0, 100, msgEmailMax, msgEmailMax) && ok
	return s, ok
}

func readPassword(r *validation.Reader, required bool) (string, bool) {
	s, st := r.RawString("password", msgPasswordType)
	if !r.Present("password", st, required, msgPasswordType) {
		return "", false
	}
	ok := r.Length("password", s, 8, 32, msgPasswordMin, msgPasswordMax)
	ok = r.Check("password", isStrongPassword(s), msgPasswordMix) && ok
	return s, ok
}

// isStrongPassword reports whether s has at least 8 characters, all from
// letters, digits and passwordSymbols, with at least one of each class.
func isStrongPassword(s string) bool {
	var lower, upper, digit, symbol bool
	n := 0
	for _, c := range s {
		n++
		switch {
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= '0' && c <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, c):
			symbol = true
		default:
			return false
		}
	}
	return n >= 8 && lower && upper && digit && symbol
}

func readRole(r *validation.Reader, required bool) (Role, bool) {
	s, st := r.String("role", msgRole)
	if !r.Present("role", st, required, msgRole) {
		return "", false
	}
	role, ok := ParseRole(s)
	return role, r.Check("role", ok, msgRole)
}
