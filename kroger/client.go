// Package kroger is a client for the Kroger retailer API: product search via
// a client-credentials token, cart and purchase operations via a user
// authorization-code token persisted in a TokenStore.
package kroger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	apiBase  = "https://api.kroger.com/v1"
	authBase = "https://api.kroger.com/v1/connect/oauth2"

	searchScope = "product.compact"
	cartScope   = "cart.basic:write product.compact"

	// Tokens are treated as expired this many seconds early so a request
	// never departs with a token about to lapse in flight.
	expirySkew = 60
)

var (
	ErrNotConfigured    = errors.New("kroger: credentials not configured")
	ErrNotAuthenticated = errors.New("kroger: user not authenticated")
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Tokens is the persisted user OAuth state. Expiry is a unix timestamp.
type Tokens struct {
	Access  string
	Refresh string
	Expiry  float64
}

// TokenStore persists user tokens across restarts.
type TokenStore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, t Tokens) error
}

// Product is one search result.
type Product struct {
	ProductID   string   `json:"productId"`
	Description string   `json:"description"`
	Brand       string   `json:"brand"`
	Size        string   `json:"size"`
	Price       *float64 `json:"price"`
}

// CartItem is one line sent to the cart endpoint.
type CartItem struct {
	UPC      string `json:"upc"`
	Quantity int    `json:"quantity"`
}

// Purchase is one line of purchase history.
type Purchase struct {
	ProductID   string `json:"productId"`
	Description string `json:"description"`
	Brand       string `json:"brand"`
	Size        string `json:"size"`
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	LocationID   string
}

// Client talks to the Kroger API. The client-credentials token for search is
// cached in memory; user tokens live in the TokenStore so cart access
// survives restarts.
type Client struct {
	cfg        Config
	httpClient doer
	tokens     TokenStore
	logger     *slog.Logger

	mu                sync.Mutex
	clientToken       string
	clientTokenExpiry float64

	now func() time.Time
}

func NewClient(cfg Config, httpClient doer, tokens TokenStore, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		now:        time.Now,
	}
}

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// AuthURL builds the authorization URL the user must visit to grant cart
// access.
func (c *Client) AuthURL() string {
	q := url.Values{}
	q.Set("scope", cartScope)
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	return authBase + "/authorize?" + q.Encode()
}

// Authenticated reports whether a valid user token is available, refreshing
// an expired one when a refresh token exists.
func (c *Client) Authenticated(ctx context.Context) bool {
	_, err := c.userToken(ctx)
	return err == nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (c *Client) postToken(ctx context.Context, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authBase+"/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("building token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return tokenResponse{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.ExpiresIn == 0 {
		tr.ExpiresIn = 1800
	}
	return tr, nil
}

// searchToken returns a valid client-credentials token, fetching a fresh one
// when the cached token is absent or near expiry.
func (c *Client) searchToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nowUnix := float64(c.now().Unix())
	if c.clientToken != "" && nowUnix < c.clientTokenExpiry {
		return c.clientToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", searchScope)
	tr, err := c.postToken(ctx, form)
	if err != nil {
		return "", err
	}

	c.clientToken = tr.AccessToken
	c.clientTokenExpiry = nowUnix + float64(tr.ExpiresIn) - expirySkew
	c.logger.Info("obtained kroger search token", "expires_in", tr.ExpiresIn)
	return c.clientToken, nil
}

// userToken returns a valid user token, refreshing through the TokenStore
// when the stored one has expired.
func (c *Client) userToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	tok, err := c.tokens.Load(ctx)
	if err != nil || tok.Access == "" {
		return "", ErrNotAuthenticated
	}

	if float64(c.now().Unix()) < tok.Expiry {
		return tok.Access, nil
	}
	if tok.Refresh == "" {
		return "", ErrNotAuthenticated
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.Refresh)
	tr, err := c.postToken(ctx, form)
	if err != nil {
		c.logger.Error("kroger token refresh failed", "error", err)
		return "", ErrNotAuthenticated
	}

	refreshed := Tokens{
		Access:  tr.AccessToken,
		Refresh: tr.RefreshToken,
		Expiry:  float64(c.now().Unix()) + float64(tr.ExpiresIn) - expirySkew,
	}
	if refreshed.Refresh == "" {
		refreshed.Refresh = tok.Refresh
	}
	if err := c.tokens.Save(ctx, refreshed); err != nil {
		return "", fmt.Errorf("persisting refreshed tokens: %w", err)
	}
	c.logger.Info("refreshed kroger user token")
	return refreshed.Access, nil
}

// ExchangeAuthCode trades an authorization code from the OAuth callback for
// user tokens and persists them.
func (c *Client) ExchangeAuthCode(ctx context.Context, code string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	tr, err := c.postToken(ctx, form)
	if err != nil {
		return fmt.Errorf("exchanging auth code: %w", err)
	}

	tok := Tokens{
		Access:  tr.AccessToken,
		Refresh: tr.RefreshToken,
		Expiry:  float64(c.now().Unix()) + float64(tr.ExpiresIn) - expirySkew,
	}
	if err := c.tokens.Save(ctx, tok); err != nil {
		return fmt.Errorf("persisting user tokens: %w", err)
	}
	c.logger.Info("exchanged kroger auth code for user tokens")
	return nil
}

func (c *Client) getJSON(ctx context.Context, token, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

type productsResponse struct {
	Data []struct {
		ProductID   string `json:"productId"`
		Description string `json:"description"`
		Brand       string `json:"brand"`
		Items       []struct {
			Size  string `json:"size"`
			Price struct {
				Regular *float64 `json:"regular"`
				Promo   *float64 `json:"promo"`
			} `json:"price"`
		} `json:"items"`
	} `json:"data"`
}

func (c *Client) searchOnce(ctx context.Context, term, brand, locationID string, limit int) ([]Product, error) {
	token, err := c.searchToken(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("filter.term", term)
	q.Set("filter.limit", fmt.Sprintf("%d", limit))
	if brand != "" {
		q.Set("filter.brand", brand)
	}
	if locationID != "" {
		q.Set("filter.locationId", locationID)
	}

	var pr productsResponse
	if err := c.getJSON(ctx, token, apiBase+"/products?"+q.Encode(), &pr); err != nil {
		return nil, fmt.Errorf("product search %q: %w", term, err)
	}

	results := make([]Product, 0, len(pr.Data))
	for _, p := range pr.Data {
		product := Product{
			ProductID:   p.ProductID,
			Description: p.Description,
			Brand:       p.Brand,
		}
		if len(p.Items) > 0 {
			product.Size = p.Items[0].Size
			product.Price = p.Items[0].Price.Regular
			if product.Price == nil {
				product.Price = p.Items[0].Price.Promo
			}
		}
		results = append(results, product)
	}
	return results, nil
}

// SearchProducts searches the catalog with graduated fallback: the location-
// scoped search first, then without the location filter, then a simplified
// two-word term. The first pass that yields results wins.
func (c *Client) SearchProducts(ctx context.Context, term, brand string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 5
	}

	results, err := c.searchOnce(ctx, term, brand, c.cfg.LocationID, limit)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	if c.cfg.LocationID != "" {
		results, err = c.searchOnce(ctx, term, brand, "", limit)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return results, nil
		}
	}

	simplified := simplifyTerm(term)
	if simplified == term {
		return results, nil
	}
	c.logger.Info("retrying kroger search with simplified term", "term", term, "simplified", simplified)
	return c.searchOnce(ctx, simplified, "", c.cfg.LocationID, limit)
}

// simplifyTerm keeps the first two words of a multi-word term, shedding
// descriptors that over-constrain the catalog search.
func simplifyTerm(term string) string {
	words := strings.Fields(term)
	if len(words) <= 2 {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:2], " ")
}

// AddToCart puts items into the user's online cart. Requires user auth.
func (c *Client) AddToCart(ctx context.Context, items []CartItem) error {
	token, err := c.userToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string][]CartItem{"items": items})
	if err != nil {
		return fmt.Errorf("encoding cart payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, apiBase+"/cart/add",
		strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("building cart request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cart request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cart add failed with status %d: %s", resp.StatusCode, body)
	}
	c.logger.Info("added items to kroger cart", "count", len(items))
	return nil
}

type purchasesResponse struct {
	Data []Purchase `json:"data"`
}

// PurchaseHistory fetches recent purchases for the authenticated user.
func (c *Client) PurchaseHistory(ctx context.Context, limit int) ([]Purchase, error) {
	token, err := c.userToken(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	q := url.Values{}
	q.Set("filter.limit", fmt.Sprintf("%d", limit))
	var pr purchasesResponse
	if err := c.getJSON(ctx, token, apiBase+"/purchases?"+q.Encode(), &pr); err != nil {
		return nil, fmt.Errorf("purchase history: %w", err)
	}
	return pr.Data, nil
}
