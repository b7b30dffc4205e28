// Package smtp implements the outbound SMTP session used to submit
// campaign messages: one authenticated, encrypted connection per campaign.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Encryption modes for the submission session.
const (
	EncryptionSTARTTLS = "starttls" // plaintext connect, mandatory STARTTLS upgrade
	EncryptionTLS      = "tls"      // implicit TLS from the first byte (SMTPS)
	EncryptionNone     = "none"     // plaintext, for local relays and tests
)

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config describes the SMTP submission endpoint. The password lives only
// in memory for the duration of the campaign.
type Config struct {
	Host       string
	Port       int
	Encryption string
	Username   string
	Password   string
	From       string
	Helo       string
	Timeout    time.Duration
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is an open, authenticated SMTP session. It is owned by a single
// goroutine and is not safe for concurrent use.
type Client struct {
	cfg    Config
	conn   *smtp.Client
	logger *slog.Logger
}

// Dial opens the network connection, negotiates encryption according to
// cfg.Encryption, greets the server and authenticates when a username is
// configured. Errors are classified per stage.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	tlsConfig := &tls.Config{
		ServerName: cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, classify(OpDial, err)
	}

	if cfg.Encryption == EncryptionTLS {
		tlsConn := tls.Client(netConn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			netConn.Close()
			return nil, classify(OpTLS, err)
		}
		netConn = tlsConn
	}

	conn := smtp.NewClient(netConn)
	conn.CommandTimeout = cfg.Timeout
	conn.SubmissionTimeout = cfg.Timeout

	if err := conn.Hello(heloName(cfg)); err != nil {
		conn.Close()
		return nil, classify(OpEHLO, err)
	}

	if cfg.Encryption == EncryptionSTARTTLS {
		if ok, _ := conn.Extension("STARTTLS"); !ok {
			conn.Close()
			return nil, &Error{
				Op:      OpStartTLS,
				Message: fmt.Sprintf("server %s does not support STARTTLS", cfg.Addr()),
			}
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, classify(OpStartTLS, err)
		}
	}

	if cfg.Username != "" {
		if err := conn.Auth(saslClient(conn, cfg)); err != nil {
			conn.Close()
			return nil, classify(OpAuth, err)
		}
	}

	logger.Info("smtp session established",
		"host", cfg.Host,
		"port", cfg.Port,
		"encryption", cfg.Encryption,
		"authenticated", cfg.Username != "",
	)

	return &Client{cfg: cfg, conn: conn, logger: logger}, nil
}

// saslClient picks an authentication mechanism the server advertises,
// preferring PLAIN and falling back to LOGIN.
func saslClient(conn *smtp.Client, cfg Config) sasl.Client {
	if !conn.SupportsAuth(sasl.Plain) && conn.SupportsAuth(sasl.Login) {
		return sasl.NewLoginClient(cfg.Username, cfg.Password)
	}
	return sasl.NewPlainClient("", cfg.Username, cfg.Password)
}

func heloName(cfg Config) string {
	if cfg.Helo != "" {
		return cfg.Helo
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "localhost"
}

// Send runs one MAIL/RCPT/DATA transaction on the open session. The message
// bytes must be a complete RFC 5322 message. On transaction errors the
// session is reset so the next transaction starts clean; whether the session
// is still usable is reported through the error's Temporary flag.
func (c *Client) Send(ctx context.Context, from string, rcpts []string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.conn.Mail(from, nil); err != nil {
		c.reset()
		return classify(OpMail, err)
	}

	for _, rcpt := range rcpts {
		if err := c.conn.Rcpt(rcpt, nil); err != nil {
			c.reset()
			return classify(OpRcpt, err)
		}
	}

	w, err := c.conn.Data()
	if err != nil {
		c.reset()
		return classify(OpData, err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return classify(OpData, err)
	}
	if err := w.Close(); err != nil {
		return classify(OpData, err)
	}

	c.logger.Debug("message accepted", "rcpts", len(rcpts), "size", len(msg))
	return nil
}

// reset clears a failed transaction. Best effort: a dead session will
// surface its own error on the next command.
func (c *Client) reset() {
	if err := c.conn.Reset(); err != nil {
		c.logger.Debug("session reset failed", "error", err)
	}
}

// Close ends the session with QUIT, falling back to closing the socket.
func (c *Client) Close() error {
	if err := c.conn.Quit(); err != nil {
		return c.conn.Close()
	}
	return nil
}
