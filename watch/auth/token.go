package auth

import (
	"net/http"
)

// Token sends a bearer token.
type Token struct {
	AuthToken string `yaml:"token"`
}

func (t *Token) AuthenticatedRequest(cli *http.Client, req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.AuthToken)
	return cli.Do(req)
}
