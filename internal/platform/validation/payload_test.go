package validation

import (
	"strings"
	"testing"

	"github.com/ehr/recordsvc/internal/platform/apperr"
)

func TestReader_Present(t *testing.T) {
	r := NewReader(map[string]any{"name": nil, "email": "a@b.co"})

	_, st := r.String("email", "bad")
	if !r.Present("email", st, true, "null") {
		t.Error("expected email to be usable")
	}
	_, st = r.String("name", "bad")
	if r.Present("name", st, false, "Nome inválido") {
		t.Error("explicit null must not be usable")
	}
	_, st = r.String("role", "bad")
	if r.Present("role", st, false, "Role inválida") {
		t.Error("missing optional field must not be usable")
	}
	_, st = r.String("password", "bad")
	r.Present("password", st, true, "Senha inválida")

	v := r.Violations()
	if len(v) != 2 {
		t.Fatalf("expected 2 violations, got %+v", v)
	}
	if v[0].Field != "name" || v[0].Message != "Nome inválido" {
		t.Errorf("unexpected null violation %+v", v[0])
	}
	if v[1].Field != "password" || v[1].Message != MsgRequired {
		t.Errorf("unexpected required violation %+v", v[1])
	}
}

func TestDecodeObject(t *testing.T) {
	m, err := DecodeObject(strings.NewReader(`{"name":"Ana","age":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["name"] != "Ana" {
		t.Errorf("unexpected payload %v", m)
	}

	m, err = DecodeObject(strings.NewReader(""))
	if err != nil || len(m) != 0 {
		t.Errorf("expected empty object for empty body, got %v %v", m, err)
	}

	for _, body := range []string{`[1,2]`, `"text"`, `{"name":`, `null`} {
		if _, err := DecodeObject(strings.NewReader(body)); !apperr.Is(err, apperr.InvalidInput) {
			t.Errorf("body %q: expected InvalidInput, got %v", body, err)
		}
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("3f1c2b8e-6d4a-4c1e-9b7a-2f5e8d9c0a11", MsgInvalidID)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.String() != "3f1c2b8e-6d4a-4c1e-9b7a-2f5e8d9c0a11" {
		t.Errorf("unexpected id %s", id)
	}

	_, err = ParseID("42", "ID do doutor inválido")
	ae, ok := err.(*apperr.Error)
	if !ok || ae.Kind != apperr.InvalidInput || ae.Message != "ID do doutor inválido" {
		t.Errorf("unexpected error %v", err)
	}
}
