package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/packet"
	"github.com/rs/zerolog"
)

// DefaultRate is how often a client sends heartbeats.
const DefaultRate = 5 * time.Second

var (
	ErrNotConnected   = errors.New("client is not connected")
	ErrAlreadyRunning = errors.New("client has already been run")
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Destination is the server's socket path.
	Destination string
	// ID identifies the process in register packets. Defaults to the pid.
	ID   string
	Rate time.Duration
	// PID overrides the reported process id. Defaults to os.Getpid().
	PID int32
	Log *zerolog.Logger
}

// Client sends heartbeats for the current process to a heartbeat server.
type Client struct {
	destination string
	id          string
	pid         int32
	rate        time.Duration
	log         *zerolog.Logger
	now         func() time.Time

	mu      sync.Mutex
	conn    net.Conn
	started bool

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

// NewClient validates opts and returns an unconnected client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Destination == "" {
		return nil, errors.New("destination socket path is required")
	}
	if opts.PID == 0 {
		opts.PID = int32(os.Getpid())
	}
	if opts.ID == "" {
		opts.ID = strconv.Itoa(int(opts.PID))
	}
	if err := packet.ValidateIdentifier(opts.ID); err != nil {
		return nil, err
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}

	logger := zerolog.Nop()
	if opts.Log != nil {
		logger = *opts.Log
	}
	logger = logger.With().Int32("pid", opts.PID).Str("id", opts.ID).Logger()

	return &Client{
		destination: opts.Destination,
		id:          opts.ID,
		pid:         opts.PID,
		rate:        opts.Rate,
		log:         &logger,
		now:         time.Now,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) PID() int32 { return c.pid }

func (c *Client) Rate() time.Duration { return c.rate }

// Connect opens the datagram socket to the server.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := net.Dial("unixgram", c.destination)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.destination, err)
	}
	c.conn = conn
	return nil
}

// Run connects, registers and then beats every rate until ctx is cancelled or
// Shutdown is called. On exit the client deregisters and closes its socket.
// A client runs at most once.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.started = true
	c.mu.Unlock()

	defer close(c.done)

	if err := c.Connect(); err != nil {
		return err
	}
	defer c.close()

	if err := c.Register(); err != nil {
		return err
	}

	c.log.Info().Str("destination", c.destination).Msg("Starting Client")

	ticker := time.NewTicker(c.rate)
	defer ticker.Stop()

	for {
		if err := c.send(packet.Heartbeat); err != nil {
			// The server may be restarting; keep beating.
			c.log.Warn().Err(err).Msg("failed to send heartbeat")
		}

		select {
		case <-ctx.Done():
			c.exit()
			return ctx.Err()
		case <-c.quit:
			c.exit()
			return nil
		case <-ticker.C:
		}
	}
}

// Shutdown stops Run and waits for it to deregister, or for ctx to expire.
func (c *Client) Shutdown(ctx context.Context) error {
	c.log.Info().Msg("Shutting Down Client")

	c.quitOnce.Do(func() { close(c.quit) })

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register announces the client and its identifier to the server.
func (c *Client) Register() error {
	c.log.Info().Msg("Registering Client")
	return c.send(packet.Register)
}

// Deregister removes the client from the server's registry.
func (c *Client) Deregister() error {
	c.log.Info().Msg("Deregistering Client")
	return c.send(packet.Deregister)
}

func (c *Client) send(typ packet.Type) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	buf, err := packet.Encode(packet.New(typ, c.pid, c.id, c.now()))
	if err != nil {
		return err
	}
	if len(buf) > packet.MaxSize {
		c.log.Warn().Int("size", len(buf)).Msg("Invalid Packet")
		return packet.ErrPacketSizeExceeded
	}

	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("failed to send %s packet: %w", typ, err)
	}

	c.log.Debug().Stringer("type", typ).Msg("Successfully Sent Packet")
	return nil
}

func (c *Client) exit() {
	if err := c.Deregister(); err != nil {
		c.log.Warn().Err(err).Msg("failed to deregister")
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.log.Info().Msg("Successfully Shut Down")
}
