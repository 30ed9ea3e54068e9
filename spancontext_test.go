package otelz

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	testSpanID  = "00f067aa0ba902b7"
)

func TestSpanContextFromHex(t *testing.T) {
	sc := NewSpanContextFromHex(testTraceID, testSpanID, FlagsSampled, TraceState{}, true)

	require.True(t, sc.IsValid())
	assert.Equal(t, testTraceID, sc.TraceID().String())
	assert.Equal(t, testSpanID, sc.SpanID().String())
	assert.True(t, sc.IsSampled())
	assert.True(t, sc.IsRemote())
}

func TestSpanContextInvalidInputs(t *testing.T) {
	cases := []struct {
		name    string
		traceID string
		spanID  string
	}{
		{"zero trace id", strings.Repeat("0", 32), testSpanID},
		{"zero span id", testTraceID, strings.Repeat("0", 16)},
		{"short trace id", testTraceID[:31], testSpanID},
		{"long span id", testTraceID, testSpanID + "0"},
		{"uppercase hex", strings.ToUpper(testTraceID), testSpanID},
		{"non hex", "zzf92f3577b34da6a3ce929d0e0e4736", testSpanID},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc := NewSpanContextFromHex(tc.traceID, tc.spanID, FlagsSampled, TraceState{}, false)
			assert.False(t, sc.IsValid())
			assert.True(t, sc.Equal(InvalidSpanContext))
		})
	}
}

func TestTraceFlags(t *testing.T) {
	var f TraceFlags
	assert.False(t, f.IsSampled())
	f = f.WithSampled(true)
	assert.True(t, f.IsSampled())
	assert.Equal(t, "01", f.String())
	assert.False(t, f.WithSampled(false).IsSampled())
}

func TestSpanContextJSON(t *testing.T) {
	sc := NewSpanContextFromHex(testTraceID, testSpanID, FlagsSampled, TraceState{}, false)
	data, err := json.Marshal(sc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"trace_id":"`+testTraceID+`","span_id":"`+testSpanID+`","trace_flags":"01"}`, string(data))
}

func TestTraceStateParse(t *testing.T) {
	ts, err := ParseTraceState("rojo=00f067aa0ba902b7, congo=t61rcWkgMzE")
	require.NoError(t, err)
	assert.Equal(t, 2, ts.Len())
	v, ok := ts.Get("congo")
	require.True(t, ok)
	assert.Equal(t, "t61rcWkgMzE", v)
	assert.Equal(t, "rojo=00f067aa0ba902b7,congo=t61rcWkgMzE", ts.String())

	vendor, err := ParseTraceState("tenant@vendor=value")
	require.NoError(t, err)
	assert.Equal(t, 1, vendor.Len())
}

func TestTraceStateRejectsInvalid(t *testing.T) {
	tooMany := make([]string, maxTraceStateMembers+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("k%d=v", i)
	}

	for name, raw := range map[string]string{
		"uppercase key": "Rojo=1",
		"missing value": "rojo",
		"duplicate key": "rojo=1,rojo=2",
		"too many":      strings.Join(tooMany, ","),
		"too long":      "k=" + strings.Repeat("v", maxTraceStateLength),
	} {
		t.Run(name, func(t *testing.T) {
			ts, err := ParseTraceState(raw)
			assert.Error(t, err)
			assert.Equal(t, 0, ts.Len())
		})
	}
}

func TestTraceStateInsertMovesToFront(t *testing.T) {
	ts, err := ParseTraceState("a=1,b=2")
	require.NoError(t, err)

	updated, err := ts.Insert("b", "3")
	require.NoError(t, err)
	assert.Equal(t, "b=3,a=1", updated.String())
	assert.Equal(t, "a=1,b=2", ts.String(), "original is unchanged")

	_, err = ts.Insert("Bad", "x")
	assert.Error(t, err)

	assert.Equal(t, "a=1", updated.Delete("b").String())
}
