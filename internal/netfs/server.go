// Copyright 2024 RMXFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package netfs exports a vfs.Bridge over NFSv3 for hosts without FUSE.
package netfs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"rmxfs/internal/vfs"
)

// handleCacheSize bounds the NFS file handle cache.
const handleCacheSize = 65536

// Server wraps the go-nfs server.
type Server struct {
	server  *nfs.Server
	handler nfs.Handler
	cancel  context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer creates an NFS server for the given bridge.
func NewServer(bridge *vfs.Bridge) *Server {
	// Set go-nfs log level to match our log level
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}
	billyFS := NewBillyAdapter(bridge)
	handler := nfshelper.NewNullAuthHandler(billyFS)
	cacheHelper := nfshelper.NewCachingHandler(handler, handleCacheSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		server: &nfs.Server{
			Handler: cacheHelper,
			Context: ctx,
		},
		handler: cacheHelper,
		cancel:  cancel,
	}
}

// Listen binds addr. Port 0 picks a free port; Addr reports it.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	log.Infof("[NFS] listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. It returns nil after a
// shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("serve before listen")
	}
	err := s.server.Serve(listener)
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	return err
}

// ListenAndServe binds addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops the NFS server gracefully.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	// Close the listener first to stop accepting new connections
	if listener != nil {
		listener.Close()
	}

	// Settle time for in-flight NFS operations to complete after listener close.
	time.Sleep(100 * time.Millisecond)

	// Cancel context to signal handlers to stop
	s.cancel()
	log.Infof("[NFS] server stopped")
}
