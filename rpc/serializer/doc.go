// Package serializer converts Message objects to and from byte arrays for
// the transport layer. Two encodings are provided: JSON (human readable,
// interoperable) and GOB (compact, Go-to-Go). Server and client of a
// deployment must agree on the encoding.
package serializer
