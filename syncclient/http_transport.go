package syncclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"match-sync-service/models"
	"match-sync-service/utils"

	"go.uber.org/zap"
)

// HTTPTransport talks to the match sync HTTP API with a bearer token.
type HTTPTransport struct {
	BaseURL      string
	Token        string
	HTTPClient   *http.Client
	StreamClient *http.Client // no overall timeout; streams are long-lived
}

func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		StreamClient: &http.Client{},
	}
}

func (t *HTTPTransport) matchURL(matchID, suffix string) string {
	return fmt.Sprintf("%s/matches/%s%s", t.BaseURL, url.PathEscape(matchID), suffix)
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+t.Token)
	return req, nil
}

// do sends the request and decodes a 2xx JSON body into out (if non-nil).
func (t *HTTPTransport) do(ctx context.Context, method, u string, body, out any) error {
	req, err := t.newRequest(ctx, method, u, body)
	if err != nil {
		return err
	}
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call match service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode match service response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func (t *HTTPTransport) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	var m models.Match
	if err := t.do(ctx, http.MethodGet, t.matchURL(matchID, ""), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *HTTPTransport) Append(ctx context.Context, matchID, key string, kind models.ActionKind, payload []byte) (*models.ActionEntry, error) {
	body := map[string]any{"kind": kind, "payload": json.RawMessage(payload), "client_key": key}
	var e models.ActionEntry
	if err := t.do(ctx, http.MethodPost, t.matchURL(matchID, "/actions"), body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *HTTPTransport) LoadActions(ctx context.Context, matchID string, after int64) ([]models.ActionEntry, error) {
	var out struct {
		Actions []models.ActionEntry `json:"actions"`
	}
	u := t.matchURL(matchID, "/actions?after="+strconv.FormatInt(after, 10))
	if err := t.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

func (t *HTTPTransport) CommitSnapshot(ctx context.Context, matchID string, seq int64, payload []byte) error {
	body := map[string]any{"seq": seq, "payload": json.RawMessage(payload)}
	return t.do(ctx, http.MethodPut, t.matchURL(matchID, "/snapshot"), body, nil)
}

func (t *HTTPTransport) LoadSnapshot(ctx context.Context, matchID string) (*models.MatchSnapshot, error) {
	var snap models.MatchSnapshot
	if err := t.do(ctx, http.MethodGet, t.matchURL(matchID, "/snapshot"), nil, &snap); err != nil {
		if isNotFound(err) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	return &snap, nil
}

func (t *HTTPTransport) PutIntent(ctx context.Context, matchID string, in models.LiveIntent) error {
	return t.do(ctx, http.MethodPut, t.matchURL(matchID, "/intent"), in, nil)
}

func (t *HTTPTransport) LatestIntent(ctx context.Context, matchID string) (*models.LiveIntent, error) {
	var in models.LiveIntent
	if err := t.do(ctx, http.MethodGet, t.matchURL(matchID, "/intent"), nil, &in); err != nil {
		if isNotFound(err) {
			return nil, ErrNoIntent
		}
		return nil, err
	}
	return &in, nil
}

func (t *HTTPTransport) SetPresence(ctx context.Context, matchID string, online bool) error {
	return t.do(ctx, http.MethodPut, t.matchURL(matchID, "/presence"), map[string]bool{"online": online}, nil)
}

// StreamActions opens the server-sent event stream and forwards "action"
// events. The channel closes on an "end" event, a broken connection or ctx.
func (t *HTTPTransport) StreamActions(ctx context.Context, matchID string, after int64) (<-chan models.ActionEntry, error) {
	u := t.matchURL(matchID, "/actions/stream?after="+strconv.FormatInt(after, 10))
	req, err := t.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.StreamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open action stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	out := make(chan models.ActionEntry)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		err := readEvents(resp.Body, func(event string, data []byte) bool {
			switch event {
			case "action":
				var e models.ActionEntry
				if err := json.Unmarshal(data, &e); err != nil {
					utils.Log.Warn("[Stream] bad action event", zap.String("match_id", matchID), zap.Error(err))
					return true
				}
				select {
				case out <- e:
					return true
				case <-ctx.Done():
					return false
				}
			case "end":
				return false
			default:
				return true
			}
		})
		if err != nil && ctx.Err() == nil {
			utils.Log.Debug("[Stream] closed", zap.String("match_id", matchID), zap.Error(err))
		}
	}()
	return out, nil
}

// readEvents parses a text/event-stream body and calls fn per event until fn
// returns false or the body ends.
func readEvents(r io.Reader, fn func(event string, data []byte) bool) error {
	br := bufio.NewReader(r)
	var (
		event string
		data  bytes.Buffer
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() > 0 || event != "" {
				if event == "" {
					event = "message"
				}
				if !fn(event, bytes.TrimSuffix(data.Bytes(), []byte("\n"))) {
					return nil
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			data.WriteByte('\n')
		}
	}
}
var _ Transport = (*HTTPTransport)(nil)
