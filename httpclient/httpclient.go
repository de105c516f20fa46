package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	ErrStatusCodeMismatch  = errors.New("status code mismatch")
	ErrContentTypeMismatch = errors.New("content type mismatch")
	ErrRequestFailed       = errors.New("request failed")
)

const contentTypeJSON = "application/json"

// Request describes a single HTTP call made with Do.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any // Body is marshaled to JSON when not nil.
}

// Response is a copy of the fasthttp response that outlives the pooled response object.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsJSON reports whether the response declares JSON content.
func (r Response) IsJSON() bool {
	return bytes.Index([]byte(r.ContentType), []byte(contentTypeJSON)) == 0
}

// Decode unmarshals JSON body in to v. Providers do not always declare JSON bodies,
// so the content type is reported only when the body fails to decode.
func (r Response) Decode(v any) error {
	err := json.Unmarshal(r.Body, v)
	if err == nil || r.IsJSON() {
		return err
	}
	return errors.Join(
		ErrContentTypeMismatch,
		fmt.Errorf("expected content type %s but got %s", contentTypeJSON, r.ContentType),
		err)
}

// Do makes the request and returns the response regardless of the status code.
// Only transport failures are returned as errors, wrapped with ErrRequestFailed.
func Do(timeout time.Duration, r Request) (Response, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(r.URL)
	if r.Method == "" {
		r.Method = fasthttp.MethodGet
	}
	req.Header.SetMethod(r.Method)
	req.Header.SetContentType(contentTypeJSON)
	req.Header.Set("accept", contentTypeJSON)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.Body != nil {
		raw, err := json.Marshal(r.Body)
		if err != nil {
			return Response{}, err
		}
		req.SetBody(raw)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return Response{}, errors.Join(ErrRequestFailed, err)
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	return Response{
		StatusCode:  resp.StatusCode(),
		ContentType: string(resp.Header.ContentType()),
		Body:        body,
	}, nil
}

// MakePost make a post request with serialized 'out' structure which is send to the given 'url'.
// 'in' is a pointer to the structure to be deserialized from the received json data, may be nil.
func MakePost(timeout time.Duration, url string, out, in any) error {
	return MakePostAuth(timeout, "", url, out, in)
}

// MakeGet make a get request to the given 'url'.
// 'in' is a pointer to the structure to be deserialized from the received json data, may be nil.
func MakeGet(timeout time.Duration, url string, in any) error {
	return MakeGetAuth(timeout, "", url, in)
}

// MakePostAuth make a post request with serialized 'out' structure which is send to the given 'url' with authorization token
// 'in' is a pointer to the structure to be deserialized from the received json data.
func MakePostAuth(timeout time.Duration, token, url string, out, in any) error {
	return makeExpectOK(timeout, Request{Method: fasthttp.MethodPost, URL: url, Headers: authHeader(token), Body: out}, in)
}

// MakeGetAuth make a get request to the given 'url' with authorization token
// 'in' is a pointer to the structure to be deserialized from the received json data.
func MakeGetAuth(timeout time.Duration, token, url string, in any) error {
	return makeExpectOK(timeout, Request{Method: fasthttp.MethodGet, URL: url, Headers: authHeader(token)}, in)
}

func authHeader(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": token}
}

func makeExpectOK(timeout time.Duration, r Request, in any) error {
	resp, err := Do(timeout, r)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case fasthttp.StatusOK, fasthttp.StatusCreated, fasthttp.StatusAccepted:
	case fasthttp.StatusNoContent:
		return nil
	default:
		return errors.Join(
			ErrStatusCodeMismatch,
			fmt.Errorf("expected status code %d but got %d", fasthttp.StatusOK, resp.StatusCode))
	}

	if in == nil {
		return nil
	}

	return resp.Decode(in)
}
