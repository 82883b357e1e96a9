package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultServerURL = "http://127.0.0.1:8080"

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// newAPIClient talks to a running chatfn server. The address and bearer
// token come from flags, falling back to CHATFN_SERVER_URL and CHATFN_TOKEN.
var newAPIClient = func(serverURL, token string) (*apiClient, error) {
	if serverURL == "" {
		serverURL = os.Getenv("CHATFN_SERVER_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	if token == "" {
		token = os.Getenv("CHATFN_TOKEN")
	}
	return &apiClient{
		baseURL:    strings.TrimRight(serverURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is chatfn serve running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// copyStream writes the content deltas of a server-sent event stream to w
// and returns the concatenated reply.
func copyStream(r io.Reader, w io.Writer) (string, error) {
	var reply strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return reply.String(), nil
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return reply.String(), fmt.Errorf("decoding stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return reply.String(), fmt.Errorf("stream failed: %s", chunk.Error)
		}
		for _, c := range chunk.Choices {
			reply.WriteString(c.Delta.Content)
			io.WriteString(w, c.Delta.Content)
		}
	}
	if err := sc.Err(); err != nil {
		return reply.String(), err
	}
	return reply.String(), io.ErrUnexpectedEOF
}
