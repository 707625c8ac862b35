// Package device talks to the Janitza UMG meter: TCP health probes on the
// HTTP and Modbus ports and Modbus TCP register reads.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goburrow/modbus"
	"golang.org/x/sync/errgroup"

	"github.com/prognoza/umg-vpn-poller/internal/clock"
	"github.com/prognoza/umg-vpn-poller/internal/export"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/netcheck"
)

// Config holds connection settings for the meter.
type Config struct {
	Host       string
	HTTPPort   int
	ModbusPort int
	UnitID     byte
	Timeout    time.Duration
	// RetryDelay separates attempts at the same register.
	RetryDelay time.Duration
}

// DefaultConfig returns the factory settings of the site meter.
func DefaultConfig() Config {
	return Config{
		Host:       "192.168.1.30",
		HTTPPort:   80,
		ModbusPort: 502,
		UnitID:     1,
		Timeout:    3 * time.Second,
		RetryDelay: 250 * time.Millisecond,
	}
}

// ModbusAddr returns host:port of the Modbus endpoint.
func (c Config) ModbusAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.ModbusPort))
}

// RegisterReader is the part of modbus.Client used for reads.
type RegisterReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

// Session is an open Modbus connection.
type Session interface {
	RegisterReader
	Close() error
}

// DialFunc opens a Modbus session.
type DialFunc func(ctx context.Context) (Session, error)

type modbusSession struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

func (s *modbusSession) Close() error { return s.handler.Close() }

// ModbusDialer returns a DialFunc for a Modbus TCP endpoint.
func ModbusDialer(cfg Config) DialFunc {
	return func(ctx context.Context) (Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := modbus.NewTCPClientHandler(cfg.ModbusAddr())
		h.Timeout = cfg.Timeout
		h.SlaveId = cfg.UnitID
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.ModbusAddr(), err)
		}
		return &modbusSession{Client: modbus.NewClient(h), handler: h}, nil
	}
}

// Exporter persists one set of readings.
type Exporter interface {
	Write(ts time.Time, columns []string, values map[string]*float64) (export.Row, string, error)
}

// Health is the result of probing the meter's TCP endpoints. Latencies
// are nil when the port did not answer.
type Health struct {
	HTTPLatencyMs   *float64 `json:"http_ms"`
	ModbusLatencyMs *float64 `json:"modbus_ms"`
	Reachable       bool     `json:"reachable"`
}

// Reading is one register value; Value is nil when every attempt failed.
type Reading struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
	Unit  string   `json:"unit,omitempty"`
}

// Readings are register values in table order.
type Readings []Reading

// Names returns the register names in order.
func (r Readings) Names() []string {
	names := make([]string, len(r))
	for i, rd := range r {
		names[i] = rd.Name
	}
	return names
}

// Values returns the readings keyed by name.
func (r Readings) Values() map[string]*float64 {
	out := make(map[string]*float64, len(r))
	for _, rd := range r {
		out[rd.Name] = rd.Value
	}
	return out
}

// Valid counts readings with a value.
func (r Readings) Valid() int {
	n := 0
	for _, rd := range r {
		if rd.Value != nil {
			n++
		}
	}
	return n
}

// Client reads the meter.
type Client struct {
	cfg       Config
	registers []Register
	exporter  Exporter
	clock     clock.Clock
	logger    *slog.Logger

	// Dial opens Modbus sessions; defaults to ModbusDialer(cfg).
	Dial DialFunc
	// Latency measures a TCP connect; defaults to netcheck.DialLatency.
	Latency func(ctx context.Context, host string, port int, timeout time.Duration) (time.Duration, bool)
}

// NewClient creates a Client for the given register table.
func NewClient(cfg Config, registers []Register, exporter Exporter, clk clock.Clock, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Client{
		cfg:       cfg,
		registers: registers,
		exporter:  exporter,
		clock:     clk,
		logger:    logger,
		Dial:      ModbusDialer(cfg),
		Latency:   netcheck.DialLatency,
	}
}

// Registers returns the configured register table.
func (c *Client) Registers() []Register {
	return c.registers
}

// Host returns the meter address.
func (c *Client) Host() string {
	return c.cfg.Host
}

// Health probes the HTTP and Modbus ports concurrently. The meter is
// reachable when the Modbus port answers.
func (c *Client) Health(ctx context.Context) Health {
	var h Health
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.HTTPLatencyMs = c.probe(gctx, c.cfg.HTTPPort)
		return nil
	})
	g.Go(func() error {
		h.ModbusLatencyMs = c.probe(gctx, c.cfg.ModbusPort)
		return nil
	})
	_ = g.Wait()
	h.Reachable = h.ModbusLatencyMs != nil

	c.logger.Debug("device_health",
		"host", c.cfg.Host,
		"http_ms", deref(h.HTTPLatencyMs),
		"modbus_ms", deref(h.ModbusLatencyMs),
		"reachable", h.Reachable,
	)
	return h
}

func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func (c *Client) probe(ctx context.Context, port int) *float64 {
	d, ok := c.Latency(ctx, c.cfg.Host, port, c.cfg.Timeout)
	if !ok {
		return nil
	}
	ms := math.Round(float64(d.Microseconds())) / 1000
	return &ms
}

// ReadRegisters reads every register, retrying each up to retries times.
// A register that never succeeds has a nil value. When no register could
// be read the readings are returned with a TransientNetwork error.
func (c *Client) ReadRegisters(ctx context.Context, retries int) (Readings, error) {
	const op = "device.ReadRegisters"
	if retries < 1 {
		retries = 1
	}

	out := make(Readings, len(c.registers))
	for i, r := range c.registers {
		out[i] = Reading{Name: r.Name, Unit: r.Unit}
	}

	sess, err := c.Dial(ctx)
	if err != nil {
		c.logger.Warn("modbus_connect_failed", "addr", c.cfg.ModbusAddr(), "error", err)
		return out, fault.Wrap(fault.KindTransientNetwork, op, err)
	}
	defer sess.Close()

	var lastErr error
	for i, r := range c.registers {
		v, err := c.readOne(ctx, sess, r, retries)
		if err != nil {
			lastErr = err
			c.logger.Warn("register_read_failed",
				"register", r.Name,
				"address", r.Address,
				"attempts", retries,
				"error", err,
			)
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		out[i].Value = &v
	}

	valid := out.Valid()
	c.logger.Info("registers_read", "host", c.cfg.Host, "ok", valid, "total", len(out))
	if valid == 0 && len(out) > 0 {
		return out, fault.Wrap(fault.KindTransientNetwork, op,
			fmt.Errorf("all %d register reads failed: %w", len(out), lastErr))
	}
	return out, nil
}

func (c *Client) readOne(ctx context.Context, rr RegisterReader, r Register, retries int) (float64, error) {
	var v float64
	err := retry.Do(
		func() error {
			data, err := read(rr, r)
			if err != nil {
				return err
			}
			v, err = Decode(r, data)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(retries)),
		retry.Delay(c.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("register_read_retry", "register", r.Name, "attempt", n+1, "error", err)
		}),
	)
	return v, err
}

func read(rr RegisterReader, r Register) ([]byte, error) {
	if r.Function == Input {
		return rr.ReadInputRegisters(r.Address, r.Type.Words())
	}
	return rr.ReadHoldingRegisters(r.Address, r.Type.Words())
}

// ExportCSV appends readings to the daily export file. A nil ts stamps the
// row with the current time.
func (c *Client) ExportCSV(values Readings, ts *time.Time) (export.Row, string, error) {
	stamp := c.clock.Now()
	if ts != nil {
		stamp = *ts
	}
	row, path, err := c.exporter.Write(stamp, values.Names(), values.Values())
	if err != nil {
		return row, path, fmt.Errorf("export readings: %w", err)
	}
	return row, path, nil
}
