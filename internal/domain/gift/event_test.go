package gift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		ok       bool
		expected Event
	}{
		{
			name:    "numeric fields",
			payload: `{"t":2,"g":21,"n":3,"u":123,"ac":"alice","av":7,"gt":1,"created_at":1700000000}`,
			ok:      true,
			expected: Event{
				GiftID:     21,
				Count:      3,
				SenderID:   "123",
				SenderName: "alice",
				AvatarID:   "7",
				IsFree:     false,
				Timestamp:  time.Unix(1700000000, 0),
			},
		},
		{
			name:    "string fields",
			payload: `{"t":"2","g":"1601","n":"2","u":"u-9","ac":"bob","av":"12","gt":"2"}`,
			ok:      true,
			expected: Event{
				GiftID:     1601,
				Count:      2,
				SenderID:   "u-9",
				SenderName: "bob",
				AvatarID:   "12",
				IsFree:     true,
			},
		},
		{
			name:    "missing count defaults to one",
			payload: `{"t":2,"g":3,"u":"1","gt":2}`,
			ok:      true,
			expected: Event{
				GiftID:   3,
				Count:    1,
				SenderID: "1",
				IsFree:   true,
			},
		},
		{
			name:    "type absent with gift id",
			payload: `{"g":18,"n":1,"u":"2","gt":1}`,
			ok:      true,
			expected: Event{
				GiftID:   18,
				Count:    1,
				SenderID: "2",
			},
		},
		{name: "comment frame", payload: `{"t":1,"cm":"hello","u":"1"}`, ok: false},
		{name: "gift without id", payload: `{"t":2,"n":1}`, ok: false},
		{name: "not json", payload: `ACK`, ok: false},
		{name: "json array", payload: `[1,2]`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Decode([]byte(tt.payload))
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, ev)
			}
		})
	}
}

func TestNormalize_Nil(t *testing.T) {
	_, ok := Normalize(nil)
	assert.False(t, ok)
}
