package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"relaychat/internal/pkg/wire"
)

func TestNewErrorCarriesToken(t *testing.T) {
	customErr := NewError(ErrNameTaken)
	assert.Equal(t, ErrNameTaken, customErr.Code)
	assert.Equal(t, wire.NameRegistered, customErr.Token)

	unknown := NewError(9999)
	assert.Equal(t, ErrUnknown, unknown.Code)
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("login: %w", NewError(ErrAlreadyLoggedIn))

	assert.ErrorIs(t, wrapped, NewError(ErrAlreadyLoggedIn))
	assert.NotErrorIs(t, wrapped, NewError(ErrNotRegistered))
}

func TestTokenAndCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("relay: %w", NewError(ErrTargetOffline))
	assert.Equal(t, wire.Offline, TokenOf(wrapped))
	assert.Equal(t, ErrTargetOffline, CodeOf(wrapped))

	plain := errors.New("boom")
	assert.Equal(t, wire.Unknown, TokenOf(plain))
	assert.Equal(t, ErrUnknown, CodeOf(plain))
}
