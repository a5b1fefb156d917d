// Package auth attaches credentials to requests for remote profiles.
package auth

import (
	"fmt"
	"net/http"
)

type Method interface {
	AuthenticatedRequest(cli *http.Client, req *http.Request) (*http.Response, error)
}

// FromOptions picks the method matching the configured credentials. With
// none configured requests are sent as is.
func FromOptions(username, password, token string) (Method, error) {
	if password != "" && token != "" {
		return nil, fmt.Errorf("cannot provide both token and password fields")
	}

	switch {
	case password != "":
		return &Password{
			Username: username,
			Password: password,
		}, nil
	case token != "":
		return &Token{
			AuthToken: token,
		}, nil
	}
	return None{}, nil
}

type None struct{}

func (None) AuthenticatedRequest(cli *http.Client, req *http.Request) (*http.Response, error) {
	return cli.Do(req)
}
