package validation

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/platform/apperr"
)

// Messages shared by every schema.
const (
	MsgRequired  = "Campo obrigatório"
	MsgInvalidID = "ID inválido"
)

// Present resolves the state of a non-nullable field. A missing field records
// MsgRequired when required is set; an explicit null records nullMessage. It
// reports whether a usable value was read.
func (r *Reader) Present(field string, st State, required bool, nullMessage string) bool {
	switch st {
	case Set:
		return true
	case Missing:
		if required {
			r.Add(field, MsgRequired)
		}
	case Null:
		r.Add(field, nullMessage)
	}
	return false
}

// DecodeObject reads a JSON object from body. An empty body decodes to an
// empty object; anything that is not an object is an InvalidInput error.
func DecodeObject(body io.Reader) (map[string]any, error) {
	var payload map[string]any
	if body == nil {
		return map[string]any{}, nil
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, apperr.Wrap(apperr.InvalidInput, apperr.MsgInvalidPayload, err)
	}
	if payload == nil {
		return nil, apperr.New(apperr.InvalidInput, apperr.MsgInvalidPayload)
	}
	return payload, nil
}

// ParseID parses raw as a version 4 identifier, failing with message.
func ParseID(raw, message string) (uuid.UUID, error) {
	if !IsUUIDv4(raw) {
		return uuid.Nil, apperr.New(apperr.InvalidInput, message)
	}
	return uuid.MustParse(raw), nil
}
