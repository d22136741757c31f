package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"919876543210", "919876543210"},
		{"+91 98765-43210", "919876543210"},
		{"(91) 98765 43210", "919876543210"},
		{"n/a", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestMaskPhone(t *testing.T) {
	require.Equal(t, "********3210", MaskPhone("919876543210"))
	require.Equal(t, "1234", MaskPhone("1234"))
}

func TestSession_RecordOverwrites(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSession("+91 98765 43210", "lead-1", "budget", start)
	require.Equal(t, "919876543210", s.Phone)

	s.Record("budget", Response{Value: "under_50000", Timestamp: start.Add(time.Minute)})
	s.Record("budget", Response{Value: "50000-100000", Timestamp: start.Add(2 * time.Minute)})

	require.Len(t, s.Responses, 1)
	require.Equal(t, "50000-100000", s.Responses["budget"].Value)
	require.Equal(t, start.Add(2*time.Minute), s.LastActivityAt)
}

func TestSession_CloneIsIndependent(t *testing.T) {
	s := NewSession("919876543210", "lead-1", "budget", time.Now())
	s.Record("budget", Response{Value: "a"})

	c := s.Clone()
	c.Record("group_size", Response{Value: "b"})

	require.Len(t, s.Responses, 1)
	require.Len(t, c.Responses, 2)
}

func TestInternationalPhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		country string
		want    string
	}{
		{name: "plus prefix", raw: "+91 98765 43210", want: "919876543210"},
		{name: "already international", raw: "919876543210", want: "919876543210"},
		{name: "double zero prefix", raw: "0091 98765 43210", want: "919876543210"},
		{name: "national with default", raw: "98765 43210", country: "91", want: "919876543210"},
		{name: "trunk zero with default", raw: "098765 43210", country: "91", want: "919876543210"},
		{name: "plus ignores default", raw: "+44 20 7946 0958", country: "91", want: "442079460958"},
		{name: "national without default", raw: "98765 43210"},
		{name: "too short", raw: "+1234"},
		{name: "too long", raw: "+1234567890123456"},
		{name: "empty", raw: "", country: "91"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InternationalPhone(tt.raw, tt.country)
			if tt.want == "" {
				require.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
