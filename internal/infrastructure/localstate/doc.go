// Package localstate manages the two small files the gateway keeps beside
// its configuration: the signing secret and the listening port.
//
// The secret file holds 32 random bytes, hex encoded, and is created with
// mode 0600 on first start. A file that exists but cannot be decoded is a
// fatal error. An existing secret is never regenerated.
//
// The port file holds a decimal port number. A missing file is created with
// the default; an unparsable or out-of-range value is reported and the
// default is used without rewriting the file.
package localstate
