package proxy

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderBuildsAuthenticatedURL(t *testing.T) {
	t.Parallel()

	p := New(Credential{Host: "dyn.horocn.com", Port: 50000, User: "alice", Pass: "s3cr@t"})
	u := p.URL()
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "dyn.horocn.com:50000", u.Host)
	assert.Equal(t, "alice", u.User.Username())
	pass, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "s3cr@t", pass)

	reparsed, err := url.Parse(u.String())
	require.NoError(t, err, "escaped descriptor must round-trip")
	assert.Equal(t, "dyn.horocn.com", reparsed.Hostname())
}

func TestProviderAnonymous(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cred Credential
		want string
	}{
		{"no credentials", Credential{Host: "gw", Port: 1}, "http://gw:1"},
		{"password without user", Credential{Host: "gw", Port: 1, Pass: "x"}, "http://gw:1"},
		{"user without password", Credential{Host: "gw", Port: 1, User: "bob"}, "http://bob@gw:1"},
		{"custom scheme", Credential{Scheme: "socks5", Host: "gw", Port: 1080}, "socks5://gw:1080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.cred).URL().String())
		})
	}
}

func TestProviderStringHidesCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cred Credential
		want string
	}{
		{"user and pass", Credential{Host: "gw", Port: 8080, User: "alice", Pass: "topsecret"}, "http://gw:8080 [credentials]"},
		{"user only", Credential{Host: "gw", Port: 8080, User: "alice"}, "http://gw:8080 [credentials]"},
		{"anonymous", Credential{Host: "gw", Port: 8080}, "http://gw:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := New(tt.cred).String()
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "alice")
			assert.NotContains(t, got, "topsecret")
		})
	}
}

func TestProviderURLIsCopy(t *testing.T) {
	t.Parallel()

	p := New(Credential{Host: "gw", Port: 8080, User: "alice", Pass: "pw"})
	u := p.URL()
	u.Host = "elsewhere:1"
	u.User = url.User("mallory")
	assert.Equal(t, "http://alice:pw@gw:8080", p.URL().String())
}

func TestProviderProxyFunc(t *testing.T) {
	t.Parallel()

	p := New(Credential{Host: "gw", Port: 8080, User: "alice", Pass: "pw"})
	fn, err := p.ProxyFunc()
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "https://www.cnblogs.com/", nil)
	require.NoError(t, err)
	got, err := fn(req)
	require.NoError(t, err)
	assert.Equal(t, "gw:8080", got.Host)
	assert.Equal(t, "alice", got.User.Username())
}

func TestProviderProxyFuncErrorHidesCredentials(t *testing.T) {
	t.Parallel()

	p := New(Credential{Host: "bad host", Port: 8080, User: "alice", Pass: "topsecret"})
	_, err := p.ProxyFunc()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "alice")
	assert.NotContains(t, err.Error(), "topsecret")
}
