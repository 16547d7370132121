// Package mdns advertises the stream server on the local network through the
// Avahi daemon, so clients can find it without configuration.
package mdns

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/holoplot/go-avahi"

	"github.com/listenupapp/bookstream/internal/protocol"
)

const (
	// ServiceType is the mDNS service type for book stream servers.
	ServiceType = "_bookstream._tcp"

	// APIVersion is the stream protocol version advertised in TXT records.
	APIVersion = "v1"

	// ServerVersion is the server version advertised in TXT records.
	ServerVersion = "1.0.0"

	domainLocal = "local"
)

// Advertisement describes the server being announced.
type Advertisement struct {
	Name string
	Path string
	Port int
}

// Service manages mDNS advertisement for the stream server.
type Service struct {
	conn   *dbus.Conn
	server *avahi.Server
	group  *avahi.EntryGroup
	logger *slog.Logger
	mu     sync.Mutex
}

// NewService creates a new mDNS service.
func NewService(logger *slog.Logger) *Service {
	return &Service{
		logger: logger,
	}
}

// TXTRecords builds the key=value records published with the service.
func TXTRecords(ad Advertisement) []string {
	return []string{
		"name=" + ad.Name,
		"version=" + ServerVersion,
		"api=" + APIVersion,
		"path=" + ad.Path,
		"codecs=" + strings.Join(protocol.Subprotocols(), ","),
	}
}

// Start publishes the advertisement through Avahi. It should be called after
// the HTTP server is listening.
//
// Errors are typically non-fatal: containers rarely have a system bus.
func (s *Service) Start(ad Advertisement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Restarting replaces the previous entry group.
	s.release()

	if ad.Port <= 0 || ad.Port > 65535 {
		return fmt.Errorf("invalid mDNS port %d", ad.Port)
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}

	server, err := avahi.ServerNew(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("connect avahi: %w", err)
	}

	group, err := server.EntryGroupNew()
	if err != nil {
		conn.Close()
		return fmt.Errorf("create avahi entry group: %w", err)
	}

	name := ad.Name
	if name == "" {
		if name, err = server.GetHostName(); err != nil {
			name = "bookstream"
		}
	}

	records := TXTRecords(ad)
	txt := make([][]byte, 0, len(records))
	for _, record := range records {
		txt = append(txt, []byte(record))
	}

	if err := group.AddService(avahi.InterfaceUnspec, avahi.ProtoUnspec, 0,
		name, ServiceType, domainLocal, "", uint16(ad.Port), txt); err != nil {
		server.EntryGroupFree(group)
		conn.Close()
		return fmt.Errorf("add mDNS service: %w", err)
	}
	if err := group.Commit(); err != nil {
		server.EntryGroupFree(group)
		conn.Close()
		return fmt.Errorf("commit mDNS service: %w", err)
	}

	s.conn, s.server, s.group = conn, server, group

	s.logger.Info("mDNS advertisement started",
		"service", ServiceType,
		"port", ad.Port,
		"name", name,
	)

	return nil
}

// Stop withdraws the advertisement.
// Safe to call multiple times or if not started.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.release() {
		s.logger.Info("mDNS advertisement stopped")
	}
}

// release drops the current entry group. Callers hold mu.
func (s *Service) release() bool {
	if s.group == nil {
		return false
	}
	_ = s.group.Reset()
	s.server.EntryGroupFree(s.group)
	_ = s.conn.Close()
	s.conn, s.server, s.group = nil, nil, nil
	return true
}
