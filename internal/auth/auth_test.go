package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepoAndCredentials(t *testing.T) {
	repo := NewMemoryUserRepo()
	user, err := Register(repo, "Alice", "secret", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), user.ID)
	assert.Equal(t, "alice", user.Username)

	_, err = Register(repo, "ALICE", "other", false)
	assert.ErrorIs(t, err, ErrUserExists)

	byID, err := repo.GetUserByID(user.ID)
	require.NoError(t, err)
	assert.Same(t, user, byID)

	got, err := ValidateCredentials(repo, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = ValidateCredentials(repo, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = ValidateCredentials(repo, "bob", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "неизвестный пользователь неотличим от неверного пароля")
}

func TestChallengeResponse(t *testing.T) {
	user, err := NewUser("bob", "hunter2", false)
	require.NoError(t, err)
	assert.Len(t, user.PasswordSalt, SaltSize)
	assert.Equal(t, DeriveKey("hunter2", user.PasswordSalt), user.PasswordKey)

	ch, err := NewChallenge(user)
	require.NoError(t, err)
	wire := ch.Encode()
	require.Len(t, wire, SaltSize+NonceSize)

	resp, err := RespondToChallenge("hunter2", wire)
	require.NoError(t, err)
	assert.True(t, ch.Verify(user, resp))

	bad, err := RespondToChallenge("hunter3", wire)
	require.NoError(t, err)
	assert.False(t, ch.Verify(user, bad))

	// Повтор ответа на другой вызов не проходит
	ch2, err := NewChallenge(user)
	require.NoError(t, err)
	assert.False(t, ch2.Verify(user, resp))

	_, err = RespondToChallenge("hunter2", wire[:5])
	assert.ErrorIs(t, err, ErrBadChallenge)
}

func TestGameAuthenticator(t *testing.T) {
	repo := NewMemoryUserRepo()
	_, err := Register(repo, "carol", "pw", false)
	require.NoError(t, err)

	open := NewGameAuthenticator(repo, false)
	pending, err := open.Begin("")
	require.NoError(t, err)
	assert.Nil(t, pending, "анонимный вход без вызова")

	strict := NewGameAuthenticator(repo, true)
	_, err = strict.Begin("")
	assert.ErrorIs(t, err, ErrAccountRequired)
	_, err = strict.Begin("nobody")
	assert.ErrorIs(t, err, ErrAuthFailed)

	pending, err = strict.Begin("Carol")
	require.NoError(t, err)
	require.NotNil(t, pending)

	resp, err := RespondToChallenge("pw", pending.Challenge.Encode())
	require.NoError(t, err)
	user, err := strict.Complete(pending, resp)
	require.NoError(t, err)
	assert.Equal(t, "carol", user.Username)

	_, err = strict.Complete(pending, []byte("garbage"))
	assert.ErrorIs(t, err, ErrAuthFailed)
}
