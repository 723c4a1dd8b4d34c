package directory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_AssignsUUID(t *testing.T) {
	d := New()
	id, err := d.Register("alice")
	require.NoError(t, err)
	assert.Len(t, id, 32)

	u, err := d.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, id, u.UUID)
	assert.Equal(t, "alice", u.Name)
}

func TestRegister_DuplicateNameRejected(t *testing.T) {
	d := New()
	_, err := d.Register("alice")
	require.NoError(t, err)

	_, err = d.Register("alice")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegister_DistinctUsersGetDistinctUUIDs(t *testing.T) {
	d := New()
	id1, err := d.Register("alice")
	require.NoError(t, err)
	id2, err := d.Register("bob")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestGet_UnknownUser(t *testing.T) {
	d := New()
	_, err := d.Get("ghost")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestFindByUUID_RoundTrip(t *testing.T) {
	d := New()
	id, err := d.Register("alice")
	require.NoError(t, err)

	u, err := d.FindByUUID(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)
}

func TestFindByUUID_Unknown(t *testing.T) {
	d := New()
	_, err := d.FindByUUID("0000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestSetPublicKey_UnknownUser(t *testing.T) {
	d := New()
	err := d.SetPublicKey("ghost", []byte("key"))
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestSetAESKey_UnknownUser(t *testing.T) {
	d := New()
	err := d.SetAESKey("ghost", []byte("key"))
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestReconnection_RotatesAESKey(t *testing.T) {
	d := New()
	_, err := d.Register("alice")
	require.NoError(t, err)

	require.NoError(t, d.SetAESKey("alice", []byte("first-session-key-aaaaaaaaaaaaaa")))
	first, err := d.Get("alice")
	require.NoError(t, err)

	require.NoError(t, d.SetAESKey("alice", []byte("second-session-key-bbbbbbbbbbbb")))
	second, err := d.Get("alice")
	require.NoError(t, err)

	assert.NotEqual(t, first.AESKey, second.AESKey)
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	d := New()
	_, err := d.Register("alice")
	require.NoError(t, err)
	require.NoError(t, d.SetPublicKey("alice", []byte("original-key")))

	u, err := d.Get("alice")
	require.NoError(t, err)
	u.PublicKey[0] = 'X'

	again, err := d.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("original-key"), again.PublicKey)
}

func TestRegister_ConcurrentUniqueNames(t *testing.T) {
	d := New()
	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Register(fmt.Sprintf("user-%d", i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "user-%d", i)
	}
}

func TestRegister_ConcurrentSameNameOnlyOneWins(t *testing.T) {
	d := New()
	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Register("contested")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}
