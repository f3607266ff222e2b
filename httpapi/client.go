// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-lpc/hsdaq/daq"
	"github.com/imroc/req"
)

// Client is a client of a Server.
type Client struct {
	req    *req.Req
	prefix string
}

// NewClient returns a client of the server at addr, e.g. "http://host:8080".
func NewClient(addr string, timeout time.Duration) *Client {
	r := req.New()
	r.SetTimeout(timeout)
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		req:    r,
		prefix: strings.TrimRight(addr, "/") + "/api",
	}
}

func (c *Client) url(path string) string {
	return c.prefix + path
}

func (c *Client) do(ctx context.Context, op, method, path string, reply interface{}, args ...interface{}) error {
	args = append(args, ctx)
	r, err := c.req.Do(method, c.url(path), args...)
	if err != nil {
		return fmt.Errorf("httpapi: could not %s: %w", op, err)
	}
	resp := r.Response()
	if resp.StatusCode != http.StatusOK {
		var e Error
		if err := r.ToJSON(&e); err != nil || e.Code == 0 {
			return fmt.Errorf("httpapi: could not %s: %s", op, resp.Status)
		}
		return &daq.Error{
			Op:   op,
			Code: daq.Code(e.Code),
			Err:  fmt.Errorf("%s: %s", resp.Status, e.Msg),
		}
	}
	if reply == nil {
		return nil
	}
	err = r.ToJSON(reply)
	if err != nil {
		return fmt.Errorf("httpapi: could not decode %s reply: %w", op, err)
	}
	return nil
}

// Status returns the status of the session.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, "status", http.MethodGet, "/status", &st)
	return st, err
}

// Scan returns the scan configuration of the session.
func (c *Client) Scan(ctx context.Context) (daq.ScanConfig, error) {
	var sc daq.ScanConfig
	err := c.do(ctx, "get scan", http.MethodGet, "/scan", &sc)
	return sc, err
}

// SetScan sets the scan configuration of the session.
func (c *Client) SetScan(ctx context.Context, sc daq.ScanConfig) error {
	return c.do(ctx, "set scan", http.MethodPut, "/scan", nil, req.BodyJSON(sc))
}

// Start starts the scan.
func (c *Client) Start(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, "start", http.MethodPost, "/start", &st)
	return st, err
}

// Stop stops the scan.
func (c *Client) Stop(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, "stop", http.MethodPost, "/stop", &st)
	return st, err
}

// Clear clears the sample buffer.
func (c *Client) Clear(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, "clear", http.MethodPost, "/clear", &st)
	return st, err
}

// Data drains up to n calibrated samples.
func (c *Client) Data(ctx context.Context, n int) (Data, error) {
	var data Data
	err := c.do(ctx, "read data", http.MethodGet, "/data", &data, req.Param{"n": n})
	return data, err
}

// Counter reads a counter channel.
func (c *Client) Counter(ctx context.Context, kind daq.CounterKind, ch int) (daq.CounterState, error) {
	name := "di"
	if kind == daq.Counter {
		name = "cnt"
	}
	var st daq.CounterState
	err := c.do(ctx, "read counter", http.MethodGet, fmt.Sprintf("/counter/%s/%d", name, ch), &st)
	return st, err
}

// ErrorMessage returns the message of an error code.
func (c *Client) ErrorMessage(ctx context.Context, code daq.Code) (string, error) {
	var msg ErrorMessage
	err := c.do(ctx, "get error message", http.MethodGet, fmt.Sprintf("/error/0x%x", uint32(code)), &msg)
	return msg.Msg, err
}
