// Copyright 2020 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package json

import (
	"bytes"
	"encoding/json" //nolint:depguard // this package wraps it
)

func stdIndent(dst *bytes.Buffer, src []byte, prefix, indent string) error {
	return json.Indent(dst, src, prefix, indent)
}

func stdCompact(dst *bytes.Buffer, src []byte) error {
	return json.Compact(dst, src)
}

// RawMessage is a raw encoded JSON value, it is kept as-is by Marshal
type RawMessage = json.RawMessage
