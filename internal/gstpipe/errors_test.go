package gstpipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	streamrelay "github.com/e7canasta/stream-relay"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		debug   string
		want    ErrorCategory
	}{
		{"not negotiated", "Internal data stream error.", "streaming stopped, reason not-negotiated (-4): not negotiated", CategoryNegotiation},
		{"caps mismatch", "Could not convert caps", "", CategoryNegotiation},
		{"encoder", "Encode failure", "gstx264enc.c(2345): x264 encoder error", CategoryEncoder},
		{"udp send", "Could not send data", "gstudpsink: socket error: Network is unreachable", CategoryNetwork},
		{"host resolve", "Could not resolve host", "", CategoryNetwork},
		{"missing plugin", "no such element factory \"videoconvert\"", "", CategoryResource},
		{"allocation", "Failed to allocate memory", "", CategoryResource},
		{"unclassified", "something odd happened", "", CategoryUnknown},
		{"empty", "", "", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message, tt.debug))
		})
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	assert.Equal(t, CategoryNetwork, Classify("SOCKET ERROR", ""))
	assert.Equal(t, CategoryNegotiation, Classify("", "NOT NEGOTIATED"))
}

func TestClassifyGError_Nil(t *testing.T) {
	assert.Equal(t, CategoryUnknown, ClassifyGError(nil))
}

func TestErrorCategory_String(t *testing.T) {
	assert.Equal(t, "network", CategoryNetwork.String())
	assert.Equal(t, "negotiation", CategoryNegotiation.String())
	assert.Equal(t, "encoder", CategoryEncoder.String())
	assert.Equal(t, "resource", CategoryResource.String())
	assert.Equal(t, "unknown", CategoryUnknown.String())
	assert.Equal(t, "unknown", ErrorCategory(42).String())
}

func TestPipelineError(t *testing.T) {
	perr := &PipelineError{Element: "udpsink0", Message: "Could not send data", Kind: CategoryNetwork}
	assert.Equal(t, "gstpipe: network error from udpsink0: Could not send data", perr.Error())
	assert.Equal(t, "network", perr.Category())

	// The bridge reads the category through this interface
	var categorized interface{ Category() string }
	wrapped := errors.Join(errors.New("context"), perr)
	require.True(t, errors.As(wrapped, &categorized))
	assert.Equal(t, "network", categorized.Category())

	anon := &PipelineError{Message: "boom", Kind: CategoryUnknown}
	assert.Equal(t, "gstpipe: unknown error: boom", anon.Error())
}

func TestToGstState(t *testing.T) {
	for _, s := range []streamrelay.PipelineState{
		streamrelay.PipelineNull,
		streamrelay.PipelineReady,
		streamrelay.PipelinePaused,
		streamrelay.PipelinePlaying,
	} {
		_, err := toGstState(s)
		assert.NoError(t, err, s.String())
	}

	_, err := toGstState(streamrelay.PipelineState(99))
	assert.Error(t, err)
}
