package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/orchestrator"
	"github.com/theapemachine/mnemo/pkg/retrieval"
	"github.com/theapemachine/mnemo/pkg/utils"
)

/*
Client talks to a running mnemo HTTP server. Turns come back as the same
event stream HandleTurn produces in-process.
*/
type Client struct {
	BaseURL string
	Token   string
	http    *http.Client
}

// NewClient has no overall timeout, turns stream for as long as they take.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		http:    &http.Client{},
	}
}

func (client *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader

	if body != nil {
		buf, err := json.Marshal(body)

		if err != nil {
			return nil, err
		}

		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, client.BaseURL+path, reader)

	if err != nil {
		return nil, errors.Wrap(errors.KindFatalConfig, err, "build request")
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Authorization", "Bearer "+client.Token)

	resp, err := client.http.Do(req)

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "request "+path)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	return resp, nil
}

/*
StatusError is a non-2xx answer, with the server's error message.
*/
type StatusError struct {
	Code    int
	Message string
}

func (err *StatusError) Error() string {
	return fmt.Sprintf("server answered %d: %s", err.Code, err.Message)
}

func statusError(resp *http.Response) error {
	var problem struct {
		Error string `json:"error"`
	}

	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&problem)

	return &StatusError{Code: resp.StatusCode, Message: problem.Error}
}

/*
Turn sends one message and streams the reply. The channel closes when the
server ends the stream or ctx is cancelled, which also aborts the turn on
the server.
*/
func (client *Client) Turn(ctx context.Context, persona, message, preferred string) (<-chan orchestrator.Event, error) {
	body := map[string]string{
		"persona": persona,
		"message": message,
	}

	if preferred != "" {
		body["provider"] = preferred
	}

	resp, err := client.request(ctx, http.MethodPost, "/v1/turns", body)

	if err != nil {
		return nil, err
	}

	out := make(chan orchestrator.Event, 16)

	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)

		for {
			frame, err := utils.ReadSSE(reader)

			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					log.Warn("turn stream broke", "error", err)
				}

				return
			}

			var event orchestrator.Event

			if err := json.Unmarshal([]byte(frame.Data), &event); err != nil {
				log.Warn("skipping malformed event", "event", frame.Event, "error", err)
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

/*
CurrentEpisode returns nil when the persona has no active episode.
*/
func (client *Client) CurrentEpisode(ctx context.Context, persona string) (*memory.Episode, error) {
	resp, err := client.request(ctx, http.MethodGet, "/v1/episodes/current?persona="+url.QueryEscape(persona), nil)

	var status *StatusError

	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	episode := &memory.Episode{}

	if err := json.NewDecoder(resp.Body).Decode(episode); err != nil {
		return nil, errors.Wrap(errors.KindTransient, errors.ErrMalformedResponse, err.Error())
	}

	return episode, nil
}

func (client *Client) Search(ctx context.Context, persona, query string, limit int) ([]retrieval.Ranked, error) {
	params := url.Values{}
	params.Set("persona", persona)
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	resp, err := client.request(ctx, http.MethodGet, "/v1/memories/search?"+params.Encode(), nil)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	var result struct {
		Results []retrieval.Ranked `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(errors.KindTransient, errors.ErrMalformedResponse, err.Error())
	}

	return result.Results, nil
}
