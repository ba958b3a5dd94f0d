package pgwire

import "io"

// DeclineSSL writes the single-byte 'N' response PostgreSQL clients expect
// when SSL or GSSAPI encryption is not supported, per spec.md §4.1.
func DeclineSSL(w io.Writer) error {
	_, err := w.Write([]byte{'N'})
	return err
}
