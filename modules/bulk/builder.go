// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"bytes"
	"fmt"
	"strconv"

	"code.gitea.io/esbulk/modules/json"
)

// BulkRequest is an ordered batch of works and their serialized body,
// the response items are correlated by position so the order must never change
type BulkRequest struct {
	Works         []*Work
	Body          []byte
	EstimatedSize int64
	Refresh       bool
}

// Builder serializes works into the newline delimited _bulk format
type Builder struct {
	dialect   *Dialect
	buf       bytes.Buffer
	works     []*Work
	estimated int64
	refresh   bool
}

// NewBuilder creates a builder for the dialect, a nil dialect means DefaultDialect
func NewBuilder(dialect *Dialect) *Builder {
	if dialect == nil {
		dialect = DefaultDialect
	}
	return &Builder{dialect: dialect}
}

// Dialect returns the dialect used to write the metadata lines
func (b *Builder) Dialect() *Dialect {
	return b.dialect
}

// EstimateSize returns the serialized size of the work without serializing it.
// Escaped characters and multi-line payloads make the real size differ slightly.
func (b *Builder) EstimateSize(w *Work) int64 {
	const (
		kFraming     = 19 // {"":{"_index":""}}\n
		kTypeFraming = 11 // ,"_type":""
		kIDFraming   = 9  // ,"_id":""
	)
	sz := kFraming + len(w.Kind.String()) + len(w.IndexName)
	if b.dialect.TypeName != "" {
		sz += kTypeFraming + len(b.dialect.TypeName)
	}
	if id := w.WireID(); id != "" {
		sz += kIDFraming + len(id)
	}
	if w.RoutingKey != "" {
		sz += 6 + len(b.dialect.RoutingField) + len(w.RoutingKey) // ,"":""
	}
	if w.RetryOnConflict > 0 {
		sz += 4 + len(b.dialect.RetryOnConflictField) + len(strconv.Itoa(w.RetryOnConflict)) // ,"":
	}

	switch w.Kind {
	case KindIndex:
		sz += len(w.Payload) + 1
	case KindUpdate:
		sz += 9 + len(w.Payload) // {"doc":}\n
		if w.Upsert {
			sz += 21 // ,"doc_as_upsert":true
		}
	}
	return int64(sz)
}

// Add appends the work to the body, nothing is written if the work is rejected
func (b *Builder) Add(w *Work) error {
	if !w.Kind.Bulkable() {
		return fmt.Errorf("%w: %s", ErrNotBulkable, w.Kind)
	}
	if err := w.Validate(); err != nil {
		return err
	}

	payload := []byte(w.Payload)
	if bytes.ContainsAny(payload, "\r\n") {
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, payload); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidWork, err)
		}
		payload = compacted.Bytes()
	}

	start := b.buf.Len()
	if err := b.writeMeta(w); err != nil {
		b.buf.Truncate(start)
		return err
	}
	switch w.Kind {
	case KindIndex:
		b.buf.Write(payload)
		b.buf.WriteByte('\n')
	case KindUpdate:
		b.buf.WriteString(`{"doc":`)
		b.buf.Write(payload)
		if w.Upsert {
			b.buf.WriteString(`,"doc_as_upsert":true`)
		}
		b.buf.WriteString("}\n")
	}

	b.works = append(b.works, w)
	b.estimated += b.EstimateSize(w)
	b.refresh = b.refresh || w.Refresh
	return nil
}

func (b *Builder) writeMeta(w *Work) error {
	s := json.BorrowStream(&b.buf)
	defer json.ReturnStream(s)

	s.WriteObjectStart()
	s.WriteObjectField(w.Kind.String())
	s.WriteObjectStart()
	s.WriteObjectField("_index")
	s.WriteString(w.IndexName)
	if b.dialect.TypeName != "" {
		s.WriteMore()
		s.WriteObjectField("_type")
		s.WriteString(b.dialect.TypeName)
	}
	if id := w.WireID(); id != "" {
		s.WriteMore()
		s.WriteObjectField("_id")
		s.WriteString(id)
	}
	if w.RoutingKey != "" {
		s.WriteMore()
		s.WriteObjectField(b.dialect.RoutingField)
		s.WriteString(w.RoutingKey)
	}
	if w.RetryOnConflict > 0 {
		s.WriteMore()
		s.WriteObjectField(b.dialect.RetryOnConflictField)
		s.WriteInt(w.RetryOnConflict)
	}
	s.WriteObjectEnd()
	s.WriteObjectEnd()
	s.WriteRaw("\n")
	if s.Error != nil {
		return s.Error
	}
	return s.Flush()
}

// Build serializes the works in order, the builder is reset first
func (b *Builder) Build(works []*Work) ([]byte, error) {
	b.Reset()
	for _, w := range works {
		if err := b.Add(w); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

// Request returns the batch built so far
func (b *Builder) Request() *BulkRequest {
	return &BulkRequest{
		Works:         b.works,
		Body:          b.Bytes(),
		EstimatedSize: b.estimated,
		Refresh:       b.refresh,
	}
}

// Bytes returns the body, it is only valid until the next change of the builder
func (b *Builder) Bytes() []byte {
	return b.buf.Bytes()
}

// Len returns the number of works added
func (b *Builder) Len() int {
	return len(b.works)
}

// EstimatedSize is the sum of the estimated sizes of the added works
func (b *Builder) EstimatedSize() int64 {
	return b.estimated
}

func (b *Builder) Reset() {
	b.buf.Reset()
	b.works = nil
	b.estimated = 0
	b.refresh = false
}
