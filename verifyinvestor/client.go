package verifyinvestor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bartossh/Accreditor/httpclient"
	"github.com/bartossh/Accreditor/logger"
)

const defaultTimeout = time.Second * 30

const defaultUserAgent = "Accreditor attestation/1.0"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrProvider     = errors.New("verifyinvestor provider error")
	ErrTransport    = errors.New("verifyinvestor transport error")
	ErrWrongBody    = errors.New("wrong body")
	ErrStagingOnly  = errors.New("operation allowed on staging only")
	ErrConfig       = errors.New("verifyinvestor configuration invalid")
)

// Config contains configuration of the VerifyInvestor API client.
type Config struct {
	URL                    string `yaml:"url"`                      // URL is the VerifyInvestor root, e.g. https://verifyinvestor-staging.herokuapp.com.
	APIToken               string `yaml:"api_token"`                // APIToken authorizes every API request.
	UserAuthorizationToken string `yaml:"user_authorization_token"` // UserAuthorizationToken is embedded in the user authorization link.
	UserAgent              string `yaml:"user_agent"`               // UserAgent sent with every request.
	TimeoutSeconds         int    `yaml:"timeout_seconds"`          // TimeoutSeconds of a single request, 30 if not set.
	Staging                bool   `yaml:"staging"`                  // Staging enables staging only endpoints.
}

// AdminNotifier notifies administrators about operational problems.
type AdminNotifier interface {
	Notify(subject, detail string)
}

// Authorization is the result of checking whether the user granted access to the VerifyInvestor account.
type Authorization struct {
	UserID     string
	Authorized bool
}

// StatusReport carries the raw HTTP status of the status check alongside the decoded status.
type StatusReport struct {
	Status     string
	HTTPStatus int
}

// NotFound reports whether the provider answered that the user or the request does not exist.
func (r StatusReport) NotFound() bool {
	return r.HTTPStatus == http.StatusNotFound
}

// entityID accepts identifiers encoded both as JSON numbers and strings.
type entityID string

func (id *entityID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = entityID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = entityID(n.String())
	return nil
}

type entity struct {
	ID     entityID `json:"id"`
	Status string   `json:"status,omitempty"`
}

// Client is the VerifyInvestor API client.
// Every unexpected answer is reported to the AdminNotifier exactly once before the error is returned.
type Client struct {
	admin   AdminNotifier
	log     logger.Logger
	cfg     Config
	timeout time.Duration
}

// New creates a new Client.
func New(cfg Config, admin AdminNotifier, log logger.Logger) (*Client, error) {
	if cfg.URL == "" || cfg.APIToken == "" || cfg.UserAuthorizationToken == "" {
		return nil, errors.Join(ErrConfig, errors.New("url, api_token and user_authorization_token must be set"))
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{admin: admin, log: log, cfg: cfg, timeout: timeout}, nil
}

// AuthorizationURN returns the path the user opens to grant access to his account for given identifier.
func (c *Client) AuthorizationURN(identifier string) (string, error) {
	return authorizationURN(c.cfg.UserAuthorizationToken, identifier)
}

// AuthorizationURL returns the absolute authorization link for given identifier.
func (c *Client) AuthorizationURL(identifier string) (string, error) {
	urn, err := c.AuthorizationURN(identifier)
	if err != nil {
		return "", err
	}
	return c.cfg.URL + urn, nil
}

// CheckAuthorization checks whether the user with given identifier authorized the bot.
// Not authorized user is a valid outcome and is not an error.
func (c *Client) CheckAuthorization(ctx context.Context, identifier string) (Authorization, error) {
	const op = "checkAuth"
	urn, err := userByIdentifierURN(identifier)
	if err != nil {
		return Authorization{}, err
	}

	resp, err := c.send(ctx, http.MethodGet, urn)
	if err != nil {
		c.notify(op, identifier, "err", err.Error())
		return Authorization{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Authorization{}, nil
	default:
		c.notify(op, identifier, fmt.Sprintf("statusCode %d", resp.StatusCode), string(resp.Body))
		return Authorization{}, statusErr(resp.StatusCode)
	}

	var e entity
	if err := resp.Decode(&e); err != nil || e.ID == "" {
		c.notify(op, identifier, "body", string(resp.Body))
		return Authorization{}, bodyErr(err)
	}

	return Authorization{UserID: string(e.ID), Authorized: true}, nil
}

// CreateVerificationRequest posts a new verification request to the user and returns its id.
func (c *Client) CreateVerificationRequest(ctx context.Context, userID string) (string, error) {
	const op = "postVerificationRequestToUser"
	urn, err := userVerificationRequestsURN(userID)
	if err != nil {
		return "", err
	}

	resp, err := c.send(ctx, http.MethodPost, urn)
	if err != nil {
		c.notify(op, userID, "err", err.Error())
		return "", err
	}

	if resp.StatusCode != http.StatusCreated {
		c.notify(op, userID, fmt.Sprintf("statusCode %d", resp.StatusCode), string(resp.Body))
		return "", statusErr(resp.StatusCode)
	}

	var e entity
	if err := resp.Decode(&e); err != nil || e.ID == "" {
		c.notify(op, userID, "body", string(resp.Body))
		return "", bodyErr(err)
	}

	return string(e.ID), nil
}

// VerificationRequestStatus reads the status of the verification request.
// The not found answer is returned as a report with HTTP status 404 and no error,
// deciding what it means is left to the caller.
func (c *Client) VerificationRequestStatus(ctx context.Context, userID, vrID string) (StatusReport, error) {
	const op = "checkUserVerifyRequest"
	urn, err := verificationRequestURN(userID, vrID)
	if err != nil {
		return StatusReport{}, err
	}
	key := userID + " " + vrID

	resp, err := c.send(ctx, http.MethodGet, urn)
	if err != nil {
		c.notify(op, key, "err", err.Error())
		return StatusReport{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		c.log.Warn(fmt.Sprintf("verifyinvestor api %s: %s not found", op, key))
		return StatusReport{HTTPStatus: resp.StatusCode}, nil
	default:
		c.notify(op, key, fmt.Sprintf("statusCode %d", resp.StatusCode), string(resp.Body))
		return StatusReport{HTTPStatus: resp.StatusCode}, statusErr(resp.StatusCode)
	}

	var e entity
	if err := resp.Decode(&e); err != nil || string(e.ID) != vrID || e.Status == "" {
		c.notify(op, key, "body", string(resp.Body))
		return StatusReport{HTTPStatus: resp.StatusCode}, bodyErr(err)
	}

	return StatusReport{Status: e.Status, HTTPStatus: resp.StatusCode}, nil
}

// Alive checks the API root. It is used to tell a missing verification request from a provider outage.
func (c *Client) Alive(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodGet, apiURN)
	if err != nil {
		return err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusErr(resp.StatusCode)
	}
	return nil
}

// ReviewVerificationRequest moves the verification request to review.
// The endpoint exists on the staging environment only.
func (c *Client) ReviewVerificationRequest(ctx context.Context, userID, vrID string) error {
	const op = "reviewVerificationRequest"
	if !c.cfg.Staging {
		return ErrStagingOnly
	}
	urn, err := reviewURN(userID, vrID)
	if err != nil {
		return err
	}
	key := userID + " " + vrID

	resp, err := c.send(ctx, http.MethodPost, urn)
	if err != nil {
		c.notify(op, key, "err", err.Error())
		return err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.notify(op, key, fmt.Sprintf("statusCode %d", resp.StatusCode), string(resp.Body))
		return statusErr(resp.StatusCode)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, urn string) (httpclient.Response, error) {
	if err := ctx.Err(); err != nil {
		return httpclient.Response{}, errors.Join(ErrTransport, err)
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	resp, err := httpclient.Do(timeout, httpclient.Request{
		Method: method,
		URL:    c.cfg.URL + urn,
		Headers: map[string]string{
			"Authorization": "Token " + c.cfg.APIToken,
			"User-Agent":    c.cfg.UserAgent,
		},
	})
	if err != nil {
		return httpclient.Response{}, errors.Join(ErrTransport, err)
	}
	return resp, nil
}

func (c *Client) notify(op, key, reason, detail string) {
	c.admin.Notify(fmt.Sprintf("verifyinvestor api %s: %s %s", op, key, reason), detail)
}

func statusErr(code int) error {
	return errors.Join(ErrProvider, errors.New("unexpected status code "+strconv.Itoa(code)))
}

func bodyErr(err error) error {
	if err != nil {
		return errors.Join(ErrProvider, ErrWrongBody, err)
	}
	return errors.Join(ErrProvider, ErrWrongBody)
}
