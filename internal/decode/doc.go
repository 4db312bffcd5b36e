// Package decode turns one raw account update into the rows the processor
// persists. Decoders are looked up by name; the built-in "layout" decoder
// maps owner programs to tables through a YAML layout file.
package decode
