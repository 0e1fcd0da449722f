/*
Copyright © 2024 the tfgen authors.
This file is part of tfgen.

tfgen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tfgen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tfgen.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package solverrpc runs a transfer solver behind a JSON-RPC connection
// so the sweep can drive a solver running in another process or on
// another host.
package solverrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/tfgen"
)

// Method is the name of the RPC method that performs a solver call.
const Method = "Solver.Transfer"

// Client is a tfgen.Solver that forwards each call to a remote solver.
// It reconnects after the connection is lost.
type Client struct {
	addr string

	mu sync.Mutex
	c  *rpc.Client
}

// Dial connects to the solver at addr, retrying with b until it
// succeeds, b gives up or ctx is done.
func Dial(ctx context.Context, addr string, b backoff.BackOff) (*Client, error) {
	c := &Client{addr: addr}
	err := backoff.RetryNotify(
		func() error { return c.connect(ctx) },
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			logrus.WithError(err).WithField("addr", addr).Infof("solver not ready: retrying in %v", d)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("solverrpc: dialing %s: %v", addr, err)
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.c = jsonrpc.NewClient(conn)
	c.mu.Unlock()
	return nil
}

func (c *Client) client(ctx context.Context) (*rpc.Client, error) {
	c.mu.Lock()
	rc := c.c
	c.mu.Unlock()
	if rc != nil {
		return rc, nil
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c, nil
}

// drop forgets rc so the next call reconnects.
func (c *Client) drop(rc *rpc.Client) {
	c.mu.Lock()
	if c.c == rc {
		c.c = nil
	}
	c.mu.Unlock()
	rc.Close()
}

// Solve implements tfgen.Solver. Connection failures and timeouts are
// returned as transient errors; errors reported by the solver are not.
func (c *Client) Solve(ctx context.Context, req *tfgen.SolverRequest) (*tfgen.SolverResponse, error) {
	rc, err := c.client(ctx)
	if err != nil {
		return nil, tfgen.Transient(fmt.Errorf("solverrpc: connecting to %s: %v", c.addr, err))
	}
	resp := new(tfgen.SolverResponse)
	call := rc.Go(Method, req, resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		// The connection may still deliver the abandoned reply, so it
		// is replaced.
		c.drop(rc)
		return nil, tfgen.Transient(fmt.Errorf("solverrpc: %v", ctx.Err()))
	case <-call.Done:
	}
	if err = call.Error; err != nil {
		var se rpc.ServerError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("solverrpc: solver: %v", err)
		}
		if err == rpc.ErrShutdown || err == io.ErrUnexpectedEOF || err == io.EOF {
			c.drop(rc)
		}
		return nil, tfgen.Transient(fmt.Errorf("solverrpc: calling %s: %v", c.addr, err))
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.c == nil {
		return nil
	}
	err := c.c.Close()
	c.c = nil
	return err
}
