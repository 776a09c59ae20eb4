package auth

import (
	"fmt"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf holds OAuth2 client credentials used to obtain broker access tokens.
type Conf struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	Scopes       []string `json:"scopes"`
}

// Validate checks that the token endpoint and the client are set.
func (c Conf) Validate() error {
	if c.AuthURL == "" {
		return fmt.Errorf("oauth2: auth_url is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("oauth2: client_id is required")
	}
	return nil
}

func (c *Conf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.AuthURL,
		Scopes:       c.Scopes,
	}
}
