/*
Copyright 2024 The Monomi Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sqlast

import (
	"fmt"
	"strings"
)

// TrackedBuffer is used to rebuild SQL text from the ast.
type TrackedBuffer struct {
	*strings.Builder
}

// NewTrackedBuffer creates a new TrackedBuffer.
func NewTrackedBuffer() *TrackedBuffer {
	return &TrackedBuffer{new(strings.Builder)}
}

// Myprintf mimics fmt.Fprintf, but limited to the verbs the formatters
// need: %v formats an SQLNode, %s a string, %d an int, %c a byte.
func (buf *TrackedBuffer) Myprintf(format string, values ...any) {
	end := len(format)
	fieldnum := 0
	for i := 0; i < end; {
		lasti := i
		for i < end && format[i] != '%' {
			i++
		}
		if i > lasti {
			buf.WriteString(format[lasti:i])
		}
		if i >= end {
			break
		}
		i++ // '%'
		switch format[i] {
		case 'v':
			node := values[fieldnum].(SQLNode)
			node.Format(buf)
		case 's':
			buf.WriteString(values[fieldnum].(string))
		case 'd':
			fmt.Fprintf(buf, "%d", values[fieldnum])
		case 'c':
			buf.WriteByte(values[fieldnum].(byte))
		default:
			panic("unexpected format verb")
		}
		fieldnum++
		i++
	}
}

// String returns the SQL text for the node.
func String(node SQLNode) string {
	if node == nil {
		return "<nil>"
	}
	buf := NewTrackedBuffer()
	node.Format(buf)
	return buf.String()
}
