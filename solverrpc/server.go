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

package solverrpc

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/tfgen"
)

// Service exposes a tfgen.Solver over RPC. It should not be interacted
// with directly, but it is exported to meet RPC requirements.
type Service struct {
	s tfgen.Solver
}

// Transfer performs one solver call. It meets the requirements for use
// with rpc.Call.
func (s *Service) Transfer(req *tfgen.SolverRequest, resp *tfgen.SolverResponse) error {
	logrus.WithField("cell", req.Cell.String()).Debugf("solving injection energy %.4g eV", req.InjectionEnergy)
	r, err := s.s.Solve(context.Background(), req)
	if err != nil {
		return err
	}
	*resp = *r
	return nil
}

// Serve accepts connections on l and serves calls to s on each of them
// until ctx is done, at which point l is closed.
func Serve(ctx context.Context, l net.Listener, s tfgen.Solver) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Solver", &Service{s: s}); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	logrus.WithField("addr", l.Addr().String()).Info("solver listening")
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go srv.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
