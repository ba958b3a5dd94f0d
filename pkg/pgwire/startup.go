// Package pgwire decodes just the opening handshake of a PostgreSQL v3 wire
// connection: the StartupMessage (or one of the special-purpose requests
// that can appear in its place). It is stateless — callers own the growing
// read buffer and feed it to Decode until a result or an error comes back.
package pgwire

import (
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5/pgproto3"
)

// Kind classifies the opening message of a client connection.
type Kind int

const (
	// StandardStartup is a normal StartupMessage (protocol 3.0).
	StandardStartup Kind = iota
	// SSLRequest asks whether the server supports SSL negotiation.
	SSLRequest
	// GSSAPIRequest asks whether the server supports GSSAPI encryption.
	GSSAPIRequest
	// CancelRequest asks the server to cancel a running query on another connection.
	CancelRequest
	// UnsupportedVersion is any protocol version pgfrontdoor does not understand.
	UnsupportedVersion
)

func (k Kind) String() string {
	switch k {
	case StandardStartup:
		return "StandardStartup"
	case SSLRequest:
		return "SSLRequest"
	case GSSAPIRequest:
		return "GSSAPIRequest"
	case CancelRequest:
		return "CancelRequest"
	case UnsupportedVersion:
		return "UnsupportedVersion"
	default:
		return "Unknown"
	}
}

// Wire protocol codes embedded where the protocol version normally goes.
const (
	codeSSLRequest    = 80877103
	codeGSSAPIRequest = 80877104
	codeCancelRequest = 80877102
	codeProtocolV3    = 196608
)

// Descriptor is the result of decoding a client's opening message.
type Descriptor struct {
	Kind Kind
	// Raw holds the exact bytes of the message (length prefix included), for
	// StandardStartup only — these are replayed to the backend unmodified.
	Raw []byte
	// Database is the target database name, populated for StandardStartup
	// (falls back to the `user` parameter per spec.md §4.1).
	Database string
	// Parameters holds every StartupMessage key/value pair, StandardStartup only.
	Parameters map[string]string
	// CancelRequest fields, populated for Kind == CancelRequest.
	ProcessID uint32
	SecretKey uint32
}

// ProtocolError is returned for a malformed or unsupported opening message.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pgwire: %s: %v", e.Reason, e.Err)
	}
	return "pgwire: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ErrIncomplete is returned by Decode when buf does not yet hold a full
// message; the caller should read more bytes and try again.
var ErrIncomplete = fmt.Errorf("pgwire: incomplete message")

// Decode inspects buf, the bytes accumulated so far from a freshly accepted
// client connection, and returns:
//   - (nil, ErrIncomplete) if buf does not yet contain a complete message,
//   - (descriptor, nil) on success, along with the number of leading bytes
//     of buf the message consumed,
//   - (nil, *ProtocolError) if the message is malformed or exceeds maxSize.
//
// Decode never reads past buf; it is safe to call repeatedly as buf grows,
// including one byte at a time.
func Decode(buf []byte, maxSize int) (desc *Descriptor, consumed int, err error) {
	if len(buf) < 8 {
		return nil, 0, ErrIncomplete
	}

	length := int(binary.BigEndian.Uint32(buf[0:4]))
	if length < 8 {
		return nil, 0, &ProtocolError{Reason: fmt.Sprintf("message length %d is below the minimum of 8", length)}
	}
	if length > maxSize {
		return nil, 0, &ProtocolError{Reason: fmt.Sprintf("message length %d exceeds the %d byte ceiling", length, maxSize)}
	}
	if len(buf) < length {
		return nil, 0, ErrIncomplete
	}

	code := binary.BigEndian.Uint32(buf[4:8])
	msg := buf[0:length]

	switch code {
	case codeSSLRequest:
		return &Descriptor{Kind: SSLRequest}, length, nil

	case codeGSSAPIRequest:
		return &Descriptor{Kind: GSSAPIRequest}, length, nil

	case codeCancelRequest:
		var req pgproto3.CancelRequest
		if err := req.Decode(msg[4:]); err != nil {
			return nil, 0, &ProtocolError{Reason: "malformed CancelRequest", Err: err}
		}
		return &Descriptor{Kind: CancelRequest, ProcessID: req.ProcessID, SecretKey: req.SecretKey}, length, nil

	case codeProtocolV3:
		var sm pgproto3.StartupMessage
		if err := sm.Decode(msg[4:]); err != nil {
			return nil, 0, &ProtocolError{Reason: "malformed StartupMessage", Err: err}
		}
		dbname := sm.Parameters["database"]
		if dbname == "" {
			dbname = sm.Parameters["user"]
		}
		if dbname == "" {
			return nil, 0, &ProtocolError{Reason: "StartupMessage has neither 'database' nor 'user' parameter"}
		}
		raw := make([]byte, length)
		copy(raw, msg)
		return &Descriptor{
			Kind:       StandardStartup,
			Raw:        raw,
			Database:   dbname,
			Parameters: sm.Parameters,
		}, length, nil

	default:
		return &Descriptor{Kind: UnsupportedVersion}, length, nil
	}
}
