// Package queue provides the durable offline mutation queue.
package queue

import (
	"regexp"
)

// DefaultBinaryRunThreshold is the minimum length of a contiguous
// base64-alphabet run that flags a payload as embedded binary content.
const DefaultBinaryRunThreshold = 10000

// dataURIRegex matches embedded data: URIs with base64 content, the way file
// attachments leak into form payloads.
var dataURIRegex = regexp.MustCompile(`data:[a-zA-Z0-9.+/-]+;base64,`)

// BinaryClassifier flags payloads carrying embedded binary/blob content.
// Such payloads are rejected at enqueue time and never enter the durable
// store.
type BinaryClassifier struct {
	runThreshold int
}

// NewBinaryClassifier creates a classifier with the given contiguous-run
// threshold. A threshold <= 0 uses DefaultBinaryRunThreshold.
func NewBinaryClassifier(runThreshold int) *BinaryClassifier {
	if runThreshold <= 0 {
		runThreshold = DefaultBinaryRunThreshold
	}
	return &BinaryClassifier{runThreshold: runThreshold}
}

// ContainsBinaryContent reports whether serialized payload data embeds
// binary-like content: a data URI or a long contiguous base64 run.
//
// The run check is a byte scan rather than a regexp because Go's regexp
// syntax caps counted repetition at 1000, well below the default threshold.
func (c *BinaryClassifier) ContainsBinaryContent(data []byte) bool {
	if dataURIRegex.Match(data) {
		return true
	}

	run := 0
	for _, b := range data {
		if isBase64Byte(b) {
			run++
			if run >= c.runThreshold {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func isBase64Byte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '+', b == '/':
		return true
	}
	return false
}
