package rest

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// defaultSTSEndpoint is the Microsoft Online security token service used by
// the username/password flow.
const defaultSTSEndpoint = "https://login.microsoftonline.com/extSTS.srf"

// defaultACSHost is the Azure Access Control host used by the add-in flow.
const defaultACSHost = "https://accounts.accesscontrol.windows.net"

// signinPath is the site endpoint that exchanges an STS binary security
// token for the FedAuth/rtFa session cookies.
const signinPath = "/_forms/default.aspx?wa=wsignin1.0"

// sharePointPrincipal is the well-known service principal ID of SharePoint
// Online, used to scope ACS access tokens.
const sharePointPrincipal = "00000003-0000-0ff1-ce00-000000000000"

// defaultCookieLifetime is assumed when the STS response carries no
// expiry — conservative enough that a stale cookie is re-acquired long
// before SharePoint would reject it.
const defaultCookieLifetime = 30 * time.Minute

// cookieExpirySlack is subtracted from the token lifetime so cookies are
// refreshed before they actually lapse mid-request.
const cookieExpirySlack = 5 * time.Minute

// BearerAuth returns an Authorizer that attaches a fixed bearer token to
// every request. Intended for callers that acquire tokens out-of-band.
func BearerAuth(token string) Authorizer {
	return bearerAuth(token)
}

type bearerAuth string

func (b bearerAuth) Authorize(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(b))
	return nil
}

// UserAuth authenticates with a username and password via the Microsoft
// Online STS: a WS-Trust request yields a binary security token, which the
// site's signin endpoint exchanges for FedAuth/rtFa session cookies. The
// cookies are cached and re-acquired on expiry.
type UserAuth struct {
	Username string
	Password string

	// STSEndpoint overrides the token service URL. Tests point this at a
	// local server; production leaves it empty.
	STSEndpoint string

	// HTTPClient is used for the STS and signin calls. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Logger for auth flow events. Defaults to slog.Default().
	Logger *slog.Logger

	mu      sync.Mutex
	cookies []*http.Cookie
	expires time.Time
}

// Authorize attaches the session cookies to req, acquiring them first if
// missing or expired. The site origin is derived from the request URL.
func (a *UserAuth) Authorize(ctx context.Context, req *http.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.cookies) == 0 || !time.Now().Before(a.expires) {
		if err := a.acquire(ctx, req.URL); err != nil {
			return err
		}
	}

	for _, c := range a.cookies {
		req.AddCookie(c)
	}

	return nil
}

// acquire runs the two-step STS flow and stores the resulting cookies.
// Callers hold a.mu.
func (a *UserAuth) acquire(ctx context.Context, site *url.URL) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	origin := site.Scheme + "://" + site.Host

	logger.Info("acquiring SharePoint session cookies",
		slog.String("site", origin),
		slog.String("username", a.Username),
	)

	token, expires, err := a.requestSecurityToken(ctx, origin)
	if err != nil {
		return err
	}

	cookies, err := a.exchangeToken(ctx, origin, token)
	if err != nil {
		return err
	}

	a.cookies = cookies
	a.expires = expires

	logger.Info("session cookies acquired",
		slog.String("site", origin),
		slog.Time("expires", expires),
	)

	return nil
}

// requestSecurityToken posts a WS-Trust envelope to the STS and returns the
// binary security token plus its expiry.
func (a *UserAuth) requestSecurityToken(ctx context.Context, origin string) (string, time.Time, error) {
	endpoint := a.STSEndpoint
	if endpoint == "" {
		endpoint = defaultSTSEndpoint
	}

	envelope := buildSTSEnvelope(endpoint, a.Username, a.Password, origin)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(envelope))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("rest: creating STS request: %w", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := a.client().Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("rest: STS request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("rest: reading STS response: %w", err)
	}

	token, expires, faultText := parseSTSResponse(body)
	if token == "" {
		if faultText == "" {
			faultText = fmt.Sprintf("STS returned HTTP %d with no security token", resp.StatusCode)
		}

		return "", time.Time{}, fmt.Errorf("%w: %s", ErrAuthFailed, faultText)
	}

	if expires.IsZero() {
		expires = time.Now().Add(defaultCookieLifetime)
	} else {
		expires = expires.Add(-cookieExpirySlack)
	}

	return token, expires, nil
}

// exchangeToken posts the binary security token to the site's signin
// endpoint and captures the FedAuth and rtFa cookies. Redirects must not be
// followed — the cookies ride on the initial 302.
func (a *UserAuth) exchangeToken(ctx context.Context, origin, token string) ([]*http.Cookie, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, origin+signinPath, strings.NewReader(token))
	if err != nil {
		return nil, fmt.Errorf("rest: creating signin request: %w", err)
	}

	client := a.client()
	noRedirect := &http.Client{
		Transport: client.Transport,
		Timeout:   client.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: signin request failed: %w", err)
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return nil, fmt.Errorf("rest: draining signin response: %w", copyErr)
	}

	var fedAuth, rtFa bool

	cookies := resp.Cookies()
	for _, c := range cookies {
		switch c.Name {
		case "FedAuth":
			fedAuth = true
		case "rtFa":
			rtFa = true
		}
	}

	if !fedAuth || !rtFa {
		return nil, fmt.Errorf("%w: signin endpoint did not return session cookies", ErrAuthFailed)
	}

	return cookies, nil
}

func (a *UserAuth) client() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}

	return http.DefaultClient
}

// buildSTSEnvelope renders the WS-Trust RequestSecurityToken document for
// the username/password SAML 1.1 flow.
func buildSTSEnvelope(stsEndpoint, username, password, site string) string {
	return fmt.Sprintf(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:a="http://www.w3.org/2005/08/addressing" xmlns:u="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">
  <s:Header>
    <a:Action s:mustUnderstand="1">http://schemas.xmlsoap.org/ws/2005/02/trust/RST/Issue</a:Action>
    <a:ReplyTo><a:Address>http://www.w3.org/2005/08/addressing/anonymous</a:Address></a:ReplyTo>
    <a:To s:mustUnderstand="1">%s</a:To>
    <o:Security s:mustUnderstand="1" xmlns:o="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
      <o:UsernameToken>
        <o:Username>%s</o:Username>
        <o:Password>%s</o:Password>
      </o:UsernameToken>
    </o:Security>
  </s:Header>
  <s:Body>
    <t:RequestSecurityToken xmlns:t="http://schemas.xmlsoap.org/ws/2005/02/trust">
      <wsp:AppliesTo xmlns:wsp="http://schemas.xmlsoap.org/ws/2004/09/policy">
        <a:EndpointReference><a:Address>%s</a:Address></a:EndpointReference>
      </wsp:AppliesTo>
      <t:KeyType>http://schemas.xmlsoap.org/ws/2005/05/identity/NoProofKey</t:KeyType>
      <t:RequestType>http://schemas.xmlsoap.org/ws/2005/02/trust/Issue</t:RequestType>
      <t:TokenType>urn:oasis:names:tc:SAML:1.0:assertion</t:TokenType>
    </t:RequestSecurityToken>
  </s:Body>
</s:Envelope>`,
		xmlEscape(stsEndpoint), xmlEscape(username), xmlEscape(password), xmlEscape(site))
}

// xmlEscape escapes a value for embedding in XML character data.
func xmlEscape(s string) string {
	var buf bytes.Buffer
	// EscapeText on a bytes.Buffer cannot fail.
	_ = xml.EscapeText(&buf, []byte(s))

	return buf.String()
}

// parseSTSResponse scans the STS envelope for the binary security token and
// its expiry. When the STS rejects the credentials it returns a SOAP fault;
// the fault's explanatory text is returned so callers can surface it.
func parseSTSResponse(body []byte) (token string, expires time.Time, faultText string) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var current string

	for {
		tok, err := dec.Token()
		if err != nil {
			return token, expires, faultText
		}

		switch el := tok.(type) {
		case xml.StartElement:
			current = el.Name.Local
		case xml.CharData:
			text := strings.TrimSpace(string(el))
			if text == "" {
				continue
			}

			switch current {
			case "BinarySecurityToken":
				token = text
			case "Expires":
				if t, parseErr := time.Parse(time.RFC3339, text); parseErr == nil {
					expires = t
				}
			case "text", "Text", "Reason":
				if faultText == "" {
					faultText = text
				}
			}
		case xml.EndElement:
			current = ""
		}
	}
}

// AddinAuth authenticates as a SharePoint add-in (client ID + secret)
// against Azure ACS using the OAuth2 client credentials grant. Tokens are
// cached and refreshed by the oauth2 library.
type AddinAuth struct {
	ClientID     string
	ClientSecret string

	// Realm is the tenant realm GUID the add-in is registered in.
	Realm string

	// ACSHost overrides the Access Control endpoint host. Tests point this
	// at a local server; production leaves it empty.
	ACSHost string

	mu     sync.Mutex
	source oauth2.TokenSource
	host   string
}

// Authorize attaches an ACS bearer token to req, building the token source
// on first use. The resource is scoped to the request's host.
func (a *AddinAuth) Authorize(ctx context.Context, req *http.Request) error {
	a.mu.Lock()

	if a.source == nil || a.host != req.URL.Host {
		acsHost := a.ACSHost
		if acsHost == "" {
			acsHost = defaultACSHost
		}

		cfg := &clientcredentials.Config{
			ClientID:     fmt.Sprintf("%s@%s", a.ClientID, a.Realm),
			ClientSecret: a.ClientSecret,
			TokenURL:     fmt.Sprintf("%s/%s/tokens/OAuth/2", acsHost, a.Realm),
			// ACS expects the credentials in the request body, not a
			// basic auth header.
			AuthStyle: oauth2.AuthStyleInParams,
			EndpointParams: url.Values{
				"resource": {fmt.Sprintf("%s/%s@%s", sharePointPrincipal, req.URL.Host, a.Realm)},
			},
		}

		a.source = cfg.TokenSource(ctx)
		a.host = req.URL.Host
	}

	source := a.source
	a.mu.Unlock()

	tok, err := source.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	tok.SetAuthHeader(req)

	return nil
}
