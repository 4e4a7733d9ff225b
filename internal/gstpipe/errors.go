package gstpipe

import (
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies GStreamer bus errors for logs and metrics
type ErrorCategory int

const (
	// CategoryNetwork covers udpsink socket and address failures
	CategoryNetwork ErrorCategory = iota
	// CategoryNegotiation covers caps negotiation and format mismatches
	CategoryNegotiation
	// CategoryEncoder covers x264enc and payloader failures
	CategoryEncoder
	// CategoryResource covers missing plugins, memory and device resources
	CategoryResource
	// CategoryUnknown is everything else
	CategoryUnknown
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryNegotiation:
		return "negotiation"
	case CategoryEncoder:
		return "encoder"
	case CategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Keyword tables, checked in order: negotiation problems often mention the
// encoder element, so negotiation wins over encoder.
var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	{CategoryNegotiation, []string{
		"not negotiated",
		"negotiation",
		"caps",
		"format",
		"could not convert",
	}},
	{CategoryEncoder, []string{
		"x264",
		"encode",
		"encoder",
		"rtph264pay",
		"payload",
	}},
	{CategoryNetwork, []string{
		"udpsink",
		"socket",
		"network",
		"unreachable",
		"resolve",
		"address",
		"could not send",
	}},
	{CategoryResource, []string{
		"no such element",
		"missing plugin",
		"no element",
		"resource",
		"memory",
		"allocate",
		"device",
	}},
}

// Classify categorizes an error from its message and debug string
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(combined, kw) {
				return entry.category
			}
		}
	}
	return CategoryUnknown
}

// ClassifyGError categorizes a bus GError. go-gst does not expose the error
// domain, so classification relies on the message text.
func ClassifyGError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return CategoryUnknown
	}
	return Classify(gerr.Error(), gerr.DebugString())
}

// PipelineError is a fatal error reported on the pipeline bus
type PipelineError struct {
	// Element is the name of the element that posted the message
	Element string
	Message string
	Debug   string
	Kind    ErrorCategory
}

func (e *PipelineError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("gstpipe: %s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("gstpipe: %s error from %s: %s", e.Kind, e.Element, e.Message)
}

// Category returns the error category name
func (e *PipelineError) Category() string {
	return e.Kind.String()
}
