// Copyright 2020 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package json

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Encoder represents an encoder for json
type Encoder interface {
	Encode(v any) error
}

// Decoder represents a decoder for json
type Decoder interface {
	Decode(v any) error
}

// Interface represents an interface to handle json data
type Interface interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	NewEncoder(writer io.Writer) Encoder
	NewDecoder(reader io.Reader) Decoder
	Indent(dst *bytes.Buffer, src []byte, prefix, indent string) error
}

var (
	// DefaultJSONHandler default json handler
	DefaultJSONHandler Interface = JSONiter{jsoniter.ConfigCompatibleWithStandardLibrary}

	_ Interface = JSONiter{}
)

// JSONiter implements Interface via jsoniter
type JSONiter struct {
	jsoniter.API
}

// Marshal implements Interface
func (j JSONiter) Marshal(v any) ([]byte, error) {
	return j.API.Marshal(v)
}

// Unmarshal implements Interface
func (j JSONiter) Unmarshal(data []byte, v any) error {
	return j.API.Unmarshal(data, v)
}

// NewEncoder implements Interface
func (j JSONiter) NewEncoder(writer io.Writer) Encoder {
	return j.API.NewEncoder(writer)
}

// NewDecoder implements Interface
func (j JSONiter) NewDecoder(reader io.Reader) Decoder {
	return j.API.NewDecoder(reader)
}

// Indent implements Interface, since jsoniter don't support Indent, just use encoding/json's
func (j JSONiter) Indent(dst *bytes.Buffer, src []byte, prefix, indent string) error {
	return stdIndent(dst, src, prefix, indent)
}

// Marshal converts object as bytes
func Marshal(v any) ([]byte, error) {
	return DefaultJSONHandler.Marshal(v)
}

// Unmarshal decodes object from bytes
func Unmarshal(data []byte, v any) error {
	return DefaultJSONHandler.Unmarshal(data, v)
}

// NewEncoder creates an encoder to write objects to writer
func NewEncoder(writer io.Writer) Encoder {
	return DefaultJSONHandler.NewEncoder(writer)
}

// NewDecoder creates a decoder to read objects from reader
func NewDecoder(reader io.Reader) Decoder {
	return DefaultJSONHandler.NewDecoder(reader)
}

// Indent appends to dst an indented form of the JSON-encoded src.
func Indent(dst *bytes.Buffer, src []byte, prefix, indent string) error {
	return DefaultJSONHandler.Indent(dst, src, prefix, indent)
}

// Valid reports whether data is a valid JSON encoding
func Valid(data []byte) bool {
	return jsoniter.Valid(data)
}

// Compact appends to dst the JSON-encoded src with insignificant space characters elided.
// Bulk bodies are newline delimited, so every document must fit on a single line.
func Compact(dst *bytes.Buffer, src []byte) error {
	return stdCompact(dst, src)
}

// BorrowStream returns a pooled stream writing to w, it must be returned by ReturnStream
func BorrowStream(w io.Writer) *jsoniter.Stream {
	return jsoniter.ConfigCompatibleWithStandardLibrary.BorrowStream(w)
}

// ReturnStream gives a stream back to the pool
func ReturnStream(s *jsoniter.Stream) {
	jsoniter.ConfigCompatibleWithStandardLibrary.ReturnStream(s)
}

// BorrowIterator returns a pooled iterator reading data, it must be returned by ReturnIterator
func BorrowIterator(data []byte) *jsoniter.Iterator {
	return jsoniter.ConfigCompatibleWithStandardLibrary.BorrowIterator(data)
}

// ReturnIterator gives an iterator back to the pool
func ReturnIterator(it *jsoniter.Iterator) {
	jsoniter.ConfigCompatibleWithStandardLibrary.ReturnIterator(it)
}
