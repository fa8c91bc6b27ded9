package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v2"

	"astra-responder/internal/schema"
)

// Common errors for the DTLS listener.
var (
	ErrDTLSCertRequired       = errors.New("DTLS requires certificate and key")
	ErrDTLSClientCertRequired = errors.New("mutual TLS requires CA certificate")
)

// DTLSConfig configures the sensor datagram listener.
type DTLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`

	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// CAFile enables mutual TLS when RequireClientCert is set.
	CAFile            string `yaml:"ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`

	Workers           int           `yaml:"workers"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// DefaultDTLSConfig returns secure default configuration.
func DefaultDTLSConfig() DTLSConfig {
	return DTLSConfig{
		Address:           ":5517",
		Workers:           4,
		MaxMessageSize:    65535,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}
}

// DTLSListener receives AlertContext JSON datagrams from network sensors
// over DTLS and feeds them to the engine.
type DTLSListener struct {
	config    DTLSConfig
	processor Processor
	logger    *slog.Logger
	listener  net.Listener

	wg   sync.WaitGroup
	done chan struct{}

	connections   uint64
	handshakeErrs uint64
	received      uint64
	processed     uint64
	dropped       uint64
}

// NewDTLSListener creates the listener.
func NewDTLSListener(cfg DTLSConfig, processor Processor, logger *slog.Logger) (*DTLSListener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, ErrDTLSCertRequired
	}
	if cfg.RequireClientCert && cfg.CAFile == "" {
		return nil, ErrDTLSClientCertRequired
	}
	if processor == nil {
		return nil, errors.New("dtls: processor is required")
	}

	return &DTLSListener{
		config:    cfg,
		processor: processor,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting DTLS connections.
func (s *DTLSListener) Start(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load DTLS certificate: %w", err)
	}

	dtlsConfig := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, s.config.ConnectionTimeout)
		},
	}

	if s.config.RequireClientCert {
		caData, err := os.ReadFile(s.config.CAFile)
		if err != nil {
			return fmt.Errorf("failed to load CA certificate: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caData) {
			return fmt.Errorf("failed to parse CA certificate")
		}
		dtlsConfig.ClientCAs = caPool
		dtlsConfig.ClientAuth = dtls.RequireAndVerifyClientCert
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}

	listener, err := dtls.Listen("udp", addr, dtlsConfig)
	if err != nil {
		return fmt.Errorf("failed to start DTLS listener: %w", err)
	}
	s.listener = listener

	s.logger.Info("DTLS sensor listener started",
		"address", s.config.Address,
		"mutual_tls", s.config.RequireClientCert,
	)

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *DTLSListener) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	messages := make(chan []byte, s.config.Workers*100)

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, messages)
	}

	for {
		select {
		case <-ctx.Done():
			close(messages)
			return
		case <-s.done:
			close(messages)
			return
		default:
		}

		if dl, ok := s.listener.(interface{ SetDeadline(time.Time) error }); ok {
			dl.SetDeadline(time.Now().Add(100 * time.Millisecond))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				s.logger.Debug("DTLS accept error", "error", err)
				atomic.AddUint64(&s.handshakeErrs, 1)
				continue
			}
		}

		atomic.AddUint64(&s.connections, 1)
		s.wg.Add(1)
		go s.handleConnection(ctx, conn, messages)
	}
}

func (s *DTLSListener) handleConnection(ctx context.Context, conn net.Conn, messages chan<- []byte) {
	defer s.wg.Done()
	defer conn.Close()

	s.logger.Debug("new DTLS sensor connection", "remote", conn.RemoteAddr())

	buffer := make([]byte, s.config.MaxMessageSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))

		n, err := conn.Read(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Debug("DTLS connection idle timeout", "remote", conn.RemoteAddr())
				return
			}
			s.logger.Debug("DTLS read error", "error", err, "remote", conn.RemoteAddr())
			return
		}

		atomic.AddUint64(&s.received, 1)

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case messages <- data:
		default:
			atomic.AddUint64(&s.dropped, 1)
			s.logger.Debug("alert channel full, dropping datagram")
		}
	}
}

func (s *DTLSListener) worker(ctx context.Context, messages <-chan []byte) {
	defer s.wg.Done()

	for data := range messages {
		s.processDatagram(ctx, data)
	}
}

func (s *DTLSListener) processDatagram(ctx context.Context, data []byte) {
	var alert schema.AlertContext
	if err := json.Unmarshal(data, &alert); err != nil {
		atomic.AddUint64(&s.dropped, 1)
		s.logger.Debug("dropping malformed sensor alert", "error", err)
		return
	}

	procCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.processor.ProcessAlert(procCtx, alert); err != nil {
		atomic.AddUint64(&s.dropped, 1)
		s.logger.Debug("dropping rejected sensor alert",
			"error", err, "alert_type", alert.AlertType)
		return
	}
	atomic.AddUint64(&s.processed, 1)
}

// Stop stops the listener gracefully.
func (s *DTLSListener) Stop() {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()

	s.logger.Info("DTLS sensor listener stopped",
		"connections", atomic.LoadUint64(&s.connections),
		"handshake_errors", atomic.LoadUint64(&s.handshakeErrs),
		"received", atomic.LoadUint64(&s.received),
		"processed", atomic.LoadUint64(&s.processed),
		"dropped", atomic.LoadUint64(&s.dropped),
	)
}
