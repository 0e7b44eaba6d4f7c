package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bob", "bob"},
		{"bob smith", "bob"},
		{"  bob", "bob"},
		{"b.o-b!", "bob"},
		{"averyverylongname", "averyveryl"},
		{"9lives", "user_9lives"},
		{"", "user_"},
		{"!!!", "user_"},
		{"añé_1", "añé_1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeUsername(tt.in))
		})
	}
}

func TestSanitizeRoomName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dev", "dev"},
		{"alice.bob", "alice.bob"},
		{"hall", "room_hall"},
		{"1st", "room_1st"},
		{"", "room_"},
		{"a-very-long-room-name-indeed", "averylongroomnameinde"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeRoomName(tt.in))
		})
	}
}

func TestPvtRoomNameIsSymmetric(t *testing.T) {
	assert.Equal(t, "alice.bob", PvtRoomName("alice", "bob"))
	assert.Equal(t, "alice.bob", PvtRoomName("bob", "alice"))
	assert.LessOrEqual(t, len(PvtRoomName("abcdefghij", "klmnopqrst")), MaxRoomNameLength)
}
