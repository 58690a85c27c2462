package httpclient

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURLSchemes(t *testing.T) {
	client := NewSaferClient(5 * time.Second)

	_, err := client.ValidateURL("https://api.coingecko.com/api/v3/coins/markets")
	assert.NoError(t, err)

	_, err = client.ValidateURL("ftp://example.com/file")
	assert.Error(t, err)

	_, err = client.ValidateURL("file:///etc/passwd")
	assert.Error(t, err)
}

func TestValidateURLBlocksLocalhost(t *testing.T) {
	client := NewSaferClient(5 * time.Second)

	for _, bad := range []string{
		"http://localhost/admin",
		"http://127.0.0.1:8080/",
		"http://10.0.0.5/internal",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data/",
	} {
		_, err := client.ValidateURL(bad)
		assert.Error(t, err, "expected %s to be blocked", bad)
	}
}

func TestValidateURLBlocksCredentialInjection(t *testing.T) {
	client := NewSaferClient(5 * time.Second)

	_, err := client.ValidateURL("http://evil.com@localhost/")
	assert.Error(t, err)
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, isPrivateIP(net.ParseIP("10.1.2.3")))
	assert.True(t, isPrivateIP(net.ParseIP("172.16.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("127.0.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("::1")))
	assert.True(t, isPrivateIP(net.ParseIP("fd00::1")))
	assert.False(t, isPrivateIP(net.ParseIP("8.8.8.8")))
	assert.False(t, isPrivateIP(net.ParseIP("2001:4860:4860::8888")))
}

func TestWrapClientAllowsLocalhost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := WrapClient(server.Client())
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
