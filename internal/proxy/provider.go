// Package proxy builds the authenticated proxy descriptor used for every
// outbound request.
package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/gocolly/colly/v2"
	collyproxy "github.com/gocolly/colly/v2/proxy"
)

// Credential describes the proxy gateway. It is read once from configuration
// and never changes for the lifetime of the process.
type Credential struct {
	Scheme string
	Host   string
	Port   int
	User   string
	Pass   string
}

// Provider hands out the proxy descriptor built from a Credential.
type Provider struct {
	url *url.URL
}

// New builds a Provider. Missing user or password never fails: the descriptor
// is then anonymous and any auth failure surfaces on fetch.
func New(cred Credential) *Provider {
	scheme := cred.Scheme
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(cred.Host, strconv.Itoa(cred.Port)),
	}
	switch {
	case cred.User != "" && cred.Pass != "":
		u.User = url.UserPassword(cred.User, cred.Pass)
	case cred.User != "":
		u.User = url.User(cred.User)
	}
	return &Provider{url: u}
}

// URL returns a copy of the proxy URL, credentials included.
func (p *Provider) URL() *url.URL {
	cp := *p.url
	if p.url.User != nil {
		user := *p.url.User
		cp.User = &user
	}
	return &cp
}

// String is the log-safe form of the descriptor. User and password are both
// replaced by a fixed marker.
func (p *Provider) String() string {
	endpoint := p.url.Scheme + "://" + p.url.Host
	if p.url.User != nil {
		return endpoint + " [credentials]"
	}
	return endpoint
}

// ProxyFunc returns the colly proxy function routing requests through the gateway.
func (p *Provider) ProxyFunc() (colly.ProxyFunc, error) {
	fn, err := collyproxy.RoundRobinProxySwitcher(p.url.String())
	if err != nil {
		// url.Error echoes the raw URL, password included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("build proxy switcher for %s: %w", p.String(), err)
	}
	return fn, nil
}
