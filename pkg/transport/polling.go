package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// pollSession emulates a duplex session over HTTP long-polling:
// POST <endpoint> opens, GET <endpoint>?sid= receives a batch of frames,
// POST <endpoint>?sid= sends one frame and DELETE <endpoint>?sid= closes.
type pollSession struct {
	client   *http.Client
	endpoint string
	sid      string
	header   http.Header

	ctx     context.Context
	cancel  context.CancelFunc
	pending []Frame
	once    sync.Once
}

type pollHandshake struct {
	SID string `json:"sid"`
}

func openPolling(ctx context.Context, client *http.Client, endpoint string, header http.Header) (*pollSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling handshake returned status %d", resp.StatusCode)
	}
	var hs pollHandshake
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return nil, fmt.Errorf("decode polling handshake: %w", err)
	}
	if hs.SID == "" {
		return nil, errors.New("polling handshake returned no session id")
	}

	sctx, cancel := context.WithCancel(ctx)
	return &pollSession{
		client:   client,
		endpoint: endpoint,
		sid:      hs.SID,
		header:   header,
		ctx:      sctx,
		cancel:   cancel,
	}, nil
}

func (p *pollSession) name() string { return TransportPolling }

func (p *pollSession) sessionURL() string {
	return p.endpoint + "?sid=" + url.QueryEscape(p.sid)
}

func (p *pollSession) read() (Frame, error) {
	for len(p.pending) == 0 {
		if err := p.poll(); err != nil {
			return Frame{}, err
		}
	}
	f := p.pending[0]
	p.pending = p.pending[1:]
	return f, nil
}

func (p *pollSession) poll() error {
	req, err := http.NewRequestWithContext(p.ctx, http.MethodGet, p.sessionURL(), nil)
	if err != nil {
		return err
	}
	req.Header = p.header.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusOK:
	default:
		return fmt.Errorf("poll returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("decode poll batch: %w", err)
	}
	for _, r := range raw {
		var f Frame
		if err := json.Unmarshal(r, &f); err != nil {
			continue
		}
		p.pending = append(p.pending, f)
	}
	return nil
}

func (p *pollSession) write(f Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sessionURL(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = p.header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("poll send returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *pollSession) close() error {
	var err error
	p.once.Do(func() {
		p.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, p.sessionURL(), nil)
		if reqErr != nil {
			err = reqErr
			return
		}
		req.Header = p.header.Clone()
		resp, doErr := p.client.Do(req)
		if doErr != nil {
			err = doErr
			return
		}
		_ = resp.Body.Close()
	})
	return err
}
