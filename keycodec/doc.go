// Package keycodec implements the pure cryptographic primitives of the
// telepath core: key material generation, the canonical public key
// identifier format, and authenticated wrapping of message payloads.
//
// The package holds no state. Key material comes from a cryptographically
// secure random source, the public identifier is a deterministic rendering
// of that material, and wrapped payloads are sealed with NaCl secretbox so
// tampering is always detectable on unwrap.
//
// Example:
//
//	material, err := keycodec.GenerateMaterial()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	value := keycodec.FormatPublicID(material)
//	opaque, err := keycodec.Wrap([]byte("hello"), value)
package keycodec
