package user

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryLine(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    string
	}{
		{name: "self", summary: Summary{ID: 0, Name: "alice", IsSelf: true, Online: true}, want: " 0: YOU alice\n"},
		{name: "online", summary: Summary{ID: 1, Name: "bob", Online: true}, want: " 1:  *  bob\n"},
		{name: "offline", summary: Summary{ID: 12, Name: "carol"}, want: "12:     carol\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.summary.Line())
		})
	}
}

func TestUserJSON(t *testing.T) {
	u := User{ID: 3, Name: "dave", Status: StatusLoggingIn, Address: Address{IP: "127.0.0.1", Port: 7000}}

	b, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"name":"dave","status":"logging_in","address":{"ip":"127.0.0.1","port":7000}}`, string(b))
	assert.False(t, u.Online())
	assert.Equal(t, "127.0.0.1:7000", u.Address.String())
}

func TestStatusTextRoundTrip(t *testing.T) {
	var s Status
	require.NoError(t, s.UnmarshalText([]byte("online")))
	assert.Equal(t, StatusOnline, s)
	assert.Error(t, s.UnmarshalText([]byte("away")))
}
