package oauth

import (
	"net/url"
)

// Provider describe un identity provider upstream soportado.
type Provider struct {
	Name         string
	AuthBaseURL  string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	// ExtraAuthParams: parámetros extra del auth URL específicos del
	// provider (Google pide access_type=offline&prompt=consent para
	// entregar refresh token).
	ExtraAuthParams url.Values
}

// TokenResponse es la respuesta JSON del token endpoint upstream.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

// ProviderCredentials agrupa las credenciales por provider que vienen de config.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Endpoints conocidos.
const (
	googleAuthBase = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"

	msAuthBase = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	msTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

// BuildRegistry arma el mapa de providers soportados a partir de credenciales.
// Solo se registran los providers con client id configurado.
func BuildRegistry(google, microsoft ProviderCredentials) map[string]Provider {
	reg := make(map[string]Provider, 2)
	if google.ClientID != "" {
		reg["google"] = Provider{
			Name:         "google",
			AuthBaseURL:  googleAuthBase,
			TokenURL:     googleTokenURL,
			ClientID:     google.ClientID,
			ClientSecret: google.ClientSecret,
			RedirectURI:  google.RedirectURI,
			Scopes:       []string{"openid", "email", "profile"},
			ExtraAuthParams: url.Values{
				"access_type": {"offline"},
				"prompt":      {"consent"},
			},
		}
	}
	if microsoft.ClientID != "" {
		reg["microsoft"] = Provider{
			Name:         "microsoft",
			AuthBaseURL:  msAuthBase,
			TokenURL:     msTokenURL,
			ClientID:     microsoft.ClientID,
			ClientSecret: microsoft.ClientSecret,
			RedirectURI:  microsoft.RedirectURI,
			Scopes:       []string{"openid", "email", "profile", "offline_access"},
		}
	}
	return reg
}
