// Package envelope implements the compact transport-neutral serializer
// from spec.md §6: small out-of-band payloads such as join requests are
// encoded as mdb://<type>/<base64url(JSON(payload))> with a required
// integer "v" version field, grounded on the teacher's own compact
// textual encodings in internal/idgen.EncodeBase36 for the "short,
// copy-pasteable token" shape.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const scheme = "mdb://"

var (
	ErrWrongScheme    = errors.New("envelope: wrong scheme prefix")
	ErrMissingType    = errors.New("envelope: missing type separator")
	ErrUnknownType    = errors.New("envelope: unknown payload type")
	ErrInvalidBase64  = errors.New("envelope: invalid base64 payload")
	ErrEmptyPayload   = errors.New("envelope: empty payload")
	ErrNotAnObject    = errors.New("envelope: payload is not a JSON object")
	ErrInvalidVersion = errors.New("envelope: missing or invalid version field")
)

// Type identifies the kind of payload an envelope carries. Decode rejects
// any type not registered via RegisterType.
type Type string

var knownTypes = map[Type]struct{}{
	TypeJoinRequest:  {},
	TypeJoinResponse: {},
}

const (
	TypeJoinRequest  Type = "join-request"
	TypeJoinResponse Type = "join-response"
)

// RegisterType extends the set of types Decode accepts, for callers
// defining their own envelope payloads outside this package.
func RegisterType(t Type) {
	knownTypes[t] = struct{}{}
}

// Encode serializes payload as JSON, base64url-encodes it, and wraps it
// in the mdb:// scheme. payload must marshal to a JSON object carrying an
// integer "v" field — Encode does not itself enforce this, only Decode
// validates it, matching the spec's decoder-side failure list.
func Encode(t Type, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return scheme + string(t) + "/" + encoded, nil
}

// Decoded is a successfully decoded envelope: its type, the payload's
// version field, and the raw JSON object as bytes (for re-unmarshaling
// into a concrete struct).
type Decoded struct {
	Type    Type
	Version int
	Raw     json.RawMessage
}

// Decode parses an mdb:// URI, failing on any of the conditions spec.md
// §6 lists: wrong scheme, missing separator, unknown type, empty/invalid
// base64, non-object payload, missing/invalid v.
func Decode(uri string) (Decoded, error) {
	if !strings.HasPrefix(uri, scheme) {
		return Decoded{}, ErrWrongScheme
	}
	rest := strings.TrimPrefix(uri, scheme)

	sep := strings.IndexByte(rest, '/')
	if sep < 0 {
		return Decoded{}, ErrMissingType
	}
	typ := Type(rest[:sep])
	encoded := rest[sep+1:]

	if _, ok := knownTypes[typ]; !ok {
		return Decoded{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if encoded == "" {
		return Decoded{}, ErrEmptyPayload
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	if len(raw) == 0 {
		return Decoded{}, ErrEmptyPayload
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrNotAnObject, err)
	}

	vRaw, ok := generic["v"]
	if !ok {
		return Decoded{}, ErrInvalidVersion
	}
	var v int
	if err := json.Unmarshal(vRaw, &v); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}

	return Decoded{Type: typ, Version: v, Raw: json.RawMessage(raw)}, nil
}

// Unmarshal decodes d.Raw into out, for callers that already matched on
// d.Type and want the concrete payload struct.
func (d Decoded) Unmarshal(out any) error {
	return json.Unmarshal(d.Raw, out)
}
