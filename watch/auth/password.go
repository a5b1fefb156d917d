package auth

import (
	"net/http"
)

// Password sends http basic auth.
type Password struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (p *Password) AuthenticatedRequest(cli *http.Client, req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(p.Username, p.Password)
	return cli.Do(req)
}
