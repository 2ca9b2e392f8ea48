package keys

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loggedOnPair returns a server and a client manager sharing the keys of
// clientID.
func loggedOnPair(t *testing.T, rotation int, clientID string) (server, client *Manager) {
	t.Helper()
	server = newTestManager(t, rotation)
	client = newTestManager(t, 0)
	require.NoError(t, server.NewClientKeys(clientID))
	dek, mpk, err := server.EncryptedKeys(clientID)
	require.NoError(t, err)
	require.NoError(t, client.SetEncryptedKeys(clientID, dek, mpk))
	return server, client
}

func TestSealRoundTrip(t *testing.T) {
	server, client := loggedOnPair(t, 0, "T1")

	req, err := client.SealRequest("T1", []byte("0200 purchase"))
	require.NoError(t, err)
	plain, err := server.OpenRequest("T1", req, 13)
	require.NoError(t, err)
	assert.Equal(t, []byte("0200 purchase"), plain)

	resp, err := server.SealResponse("T1", []byte("0210 approved"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.EncryptedDEK)
	assert.NotEmpty(t, resp.EncryptedMPK)
	plain, err = client.OpenResponse("T1", resp, 13)
	require.NoError(t, err)
	assert.Equal(t, []byte("0210 approved"), plain)

	empty, err := client.SealRequest("T1", nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Ciphertext)
	plain, err = server.OpenRequest("T1", empty, 0)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestOpenRejects(t *testing.T) {
	server, client := loggedOnPair(t, 0, "T1")

	req, err := client.SealRequest("T1", []byte("0200 purchase"))
	require.NoError(t, err)

	tampered := *req
	tampered.Ciphertext = append([]byte(nil), req.Ciphertext...)
	tampered.Ciphertext[len(tampered.Ciphertext)-1] ^= 0xFF
	_, err = server.OpenRequest("T1", &tampered, 13)
	assert.ErrorIs(t, err, ErrWrongMAC)

	forged := *req
	forged.EncryptedCSK = append([]byte(nil), req.EncryptedCSK...)
	forged.EncryptedCSK[0] ^= 0xFF
	_, err = server.OpenRequest("T1", &forged, 13)
	assert.ErrorIs(t, err, ErrWrongSignature)

	_, err = server.OpenRequest("T1", req, 40)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = server.OpenRequest("T9", req, 13)
	assert.ErrorIs(t, err, ErrUnknownClient)
}

// Responses sealed while other goroutines rotate the same client's keys
// must each carry the keys they were encrypted and MACed under.
func TestSealResponseConcurrentRotation(t *testing.T) {
	server, client := loggedOnPair(t, 1, "T1")

	const n = 200
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("0210 response %03d", i))
			sealed, err := server.SealResponse("T1", payload)
			if err != nil {
				errs <- err
				return
			}
			plain, err := client.OpenResponse("T1", sealed, len(payload))
			if err != nil {
				errs <- fmt.Errorf("response %d: %w", i, err)
				return
			}
			if string(plain) != string(payload) {
				errs <- fmt.Errorf("response %d opened as %q", i, plain)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSetEncryptedKeysKeepsMissing(t *testing.T) {
	server, client := loggedOnPair(t, 0, "T1")
	dek, mpk := snapshot(t, client, "T1")

	require.NoError(t, server.Rotate("T1"))
	_, err := server.SealResponse("T1", nil)
	require.NoError(t, err)
	edek, _, err := server.EncryptedKeys("T1")
	require.NoError(t, err)

	require.NoError(t, client.SetEncryptedKeys("T1", edek, nil))
	cdek, cmpk := snapshot(t, client, "T1")
	assert.NotEqual(t, dek, cdek)
	assert.Equal(t, mpk, cmpk)
}
