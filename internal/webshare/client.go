package webshare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/cyclopcam/logs"
	"golang.org/x/oauth2"
)

const (
	authorizationPath = "/api/v2/proxy/ipauthorization/"
	whatsMyIPPath     = "/api/v2/proxy/ipauthorization/whatsmyip/"
)

// AuthorizationClient defines the interface for managing remote IP authorizations.
type AuthorizationClient interface {
	List(ctx context.Context) (domain.AuthorizationList, error)
	Create(ctx context.Context, addr domain.Address) (*domain.Authorization, error)
	Delete(ctx context.Context, id string) error
}

// Client talks to the Webshare IP authorization API.
type Client struct {
	baseURL string
	authed  *http.Client
	public  *http.Client
	log     logs.Log
}

// Ensure Client implements AuthorizationClient.
var _ AuthorizationClient = (*Client)(nil)

// New creates a new API client. The token is sent as "Authorization: Token <token>".
func New(baseURL, token string, timeout time.Duration, logger logs.Log) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Token"})
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		authed: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: src, Base: http.DefaultTransport},
		},
		public: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

// List fetches the current remote allow-list. Only the first page is read.
func (c *Client) List(ctx context.Context) (domain.AuthorizationList, error) {
	var resp listResponse
	outcome, err := c.do(ctx, c.authed, "list authorizations", http.MethodGet, authorizationPath, nil, &resp)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNoContent || resp.Results == nil {
		return nil, c.fail("list authorizations", 0, nil, "", fmt.Errorf("%w: response has no results", domain.ErrGatewayApplication))
	}
	if resp.Next != nil && *resp.Next != "" {
		c.log.Warnf("Authorization list has more than one page; only the first %d of %d records are used", len(*resp.Results), resp.Count)
	}

	list := make(domain.AuthorizationList, 0, len(*resp.Results))
	for _, r := range *resp.Results {
		list = append(list, domain.Authorization{ID: string(r.ID), Address: domain.NormalizeAddress(r.IPAddress)})
	}
	return list, nil
}

// Create authorizes addr and returns the new record. A success without a body
// yields a record with an empty ID.
func (c *Client) Create(ctx context.Context, addr domain.Address) (*domain.Authorization, error) {
	var resp authorizationJSON
	outcome, err := c.do(ctx, c.authed, "create authorization", http.MethodPost, authorizationPath, createRequest{IPAddress: string(addr)}, &resp)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNoContent {
		c.log.Warnf("Authorization for %v created but the response carried no id", addr)
		return &domain.Authorization{Address: addr}, nil
	}

	auth := &domain.Authorization{ID: string(resp.ID), Address: domain.NormalizeAddress(resp.IPAddress)}
	if auth.Address == "" {
		auth.Address = addr
	}
	return auth, nil
}

// Delete revokes the authorization with the given id. An empty success is
// treated the same as a parsed one.
func (c *Client) Delete(ctx context.Context, id string) error {
	path := authorizationPath + url.PathEscape(id) + "/"
	_, err := c.do(ctx, c.authed, "delete authorization", http.MethodDelete, path, nil, nil)
	return err
}

// WhatsMyIP asks the remote API which address the request came from.
func (c *Client) WhatsMyIP(ctx context.Context) (domain.Address, error) {
	var resp whatsMyIPResponse
	outcome, err := c.do(ctx, c.public, "whatsmyip", http.MethodGet, whatsMyIPPath, nil, &resp)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeNoContent || resp.IPAddress == nil {
		return "", c.fail("whatsmyip", 0, nil, "", fmt.Errorf("%w: response has no ip_address", domain.ErrGatewayApplication))
	}
	return domain.NormalizeAddress(*resp.IPAddress), nil
}

// do performs one request and classifies its outcome. When out is non-nil and
// the body is non-empty, the body is decoded into out.
func (c *Client) do(ctx context.Context, hc *http.Client, op, method, path string, in, out any) (Outcome, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return OutcomeFailure, fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return OutcomeFailure, fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return OutcomeFailure, c.fail(op, 0, nil, "", fmt.Errorf("%w: %v", domain.ErrGatewayTransport, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return OutcomeFailure, c.fail(op, resp.StatusCode, resp.Header, "", fmt.Errorf("%w: reading body: %v", domain.ErrGatewayTransport, err))
	}

	if !isSuccessStatus(resp.StatusCode) {
		return OutcomeFailure, c.fail(op, resp.StatusCode, resp.Header, string(respBody), domain.ErrGatewayApplication)
	}
	if isEmptyBody(respBody) {
		return OutcomeNoContent, nil
	}
	if out == nil {
		if !json.Valid(respBody) {
			return OutcomeFailure, c.fail(op, resp.StatusCode, resp.Header, string(respBody), fmt.Errorf("%w: unparsable body", domain.ErrGatewayApplication))
		}
		return OutcomeSuccess, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return OutcomeFailure, c.fail(op, resp.StatusCode, resp.Header, string(respBody), fmt.Errorf("%w: parsing body: %v", domain.ErrGatewayApplication, err))
	}
	return OutcomeSuccess, nil
}

// fail logs a failed call with everything useful for diagnosis and returns it as a GatewayError.
func (c *Client) fail(op string, status int, header http.Header, body string, err error) error {
	if status != 0 {
		c.log.Warnf("%s: status %d", op, status)
		c.log.Warnf("%s: headers %v", op, header)
		c.log.Warnf("%s: response %s", op, body)
	}
	c.log.Errorf("%s failed: %v", op, err)
	return &domain.GatewayError{
		Op:         op,
		StatusCode: status,
		Header:     header,
		Body:       body,
		Err:        err,
	}
}
