// Command arqecho drives one arq client conversation against one arq
// server conversation over a real UDP socket pair, echoing fixed-size
// messages back to the client. It exists to give the ambient and
// domain stack (glog, pkg/errors, BurntSushi/toml, prometheus, xid) a
// concrete host: the arq package itself takes no dependency on any of
// them.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ARwMq9b6/arqcore/arq"
	"github.com/ARwMq9b6/arqcore/arqmetrics"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
)

// conversation pairs one *arq.ControlBlock with the mutex that
// serializes every goroutine's access to it. The engine itself is
// single-threaded and caller-driven (spec §5); this is the caller-side
// serialization it requires, not something arq provides internally.
type conversation struct {
	mu sync.Mutex
	cb *arq.ControlBlock
}

func (c *conversation) Input(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb.Input(p)
}

func (c *conversation) Update(current uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb.Update(current)
}

func (c *conversation) Send(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb.Send(p)
}

func (c *conversation) Recv(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb.Recv(buf)
}

func main() {
	if err := _main(); err != nil {
		defer os.Exit(1)

		var st errors.StackTrace
		type stackTracer interface {
			StackTrace() errors.StackTrace
		}
		if e, ok := err.(stackTracer); ok {
			st = e.StackTrace()
		}
		glog.Errorf("%s%+v\n", err, st)
	}
}

func _main() error {
	var configFile string
	flag.StringVar(&configFile, "c", "./config.toml", "path of config file")
	flag.Parse()

	conf, err := newConfigRepr(configFile)
	if err != nil {
		return err
	}

	conv := conf.Conv
	if conv == 0 {
		conv = binary.LittleEndian.Uint32(xid.New().Bytes()[:4])
	}

	serverConn, err := net.ListenPacket("udp", conf.Server.Listen)
	if err != nil {
		return errors.WithStack(err)
	}
	clientConn, err := net.ListenPacket("udp", conf.Client.Listen)
	if err != nil {
		return errors.WithStack(err)
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", conf.Client.Remote)
	if err != nil {
		return errors.WithStack(err)
	}

	// serverOut learns the client's address from the first datagram it
	// sees and echoes every subsequent flush there.
	so := &serverOut{conn: serverConn}
	server := &conversation{cb: arq.New(conv, so)}
	client := &conversation{cb: arq.New(conv, pktWriter{conn: clientConn, addr: remoteAddr})}
	applyTuning(server.cb, conf)
	applyTuning(client.cb, conf)

	hostname, _ := os.Hostname()
	collector := arqmetrics.NewCollector("arqecho", []string{"role", "conv"}, prometheus.Labels{
		"app":      "arqecho",
		"hostname": hostname,
	})
	convLabel := fmt.Sprintf("%d", conv)
	collector.Add(client.cb, []string{"client", convLabel})
	collector.Add(server.cb, []string{"server", convLabel})
	prometheus.MustRegister(collector)

	e := make(chan error, 4)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(conf.Metrics.Listen, nil); err != nil {
			e <- errors.WithStack(err)
		}
	}()

	go pump(serverConn, server, so.noteSender, e)
	go pump(clientConn, client, nil, e)

	start := time.Now()
	clock := func() uint32 { return uint32(time.Since(start).Milliseconds()) }

	go driveUpdates(client, server, clock, conf.Tuning.Interval, e)
	go runClient(client, e)
	go runServerEcho(server, e)

	return <-e
}

func applyTuning(cb *arq.ControlBlock, conf *configRepr) {
	if conf.Tuning.Mtu > 0 {
		_ = cb.SetMtu(conf.Tuning.Mtu)
	}
	cb.SetNoDelay(conf.Tuning.NoDelay, conf.Tuning.Interval, conf.Tuning.Resend, conf.Tuning.NoCwnd)
	cb.SetWndSize(conf.Tuning.SndWnd, conf.Tuning.RcvWnd)
}

// pktWriter adapts a net.PacketConn + fixed destination into an
// io.Writer, the shape Flush needs for a client whose peer address is
// known up front.
type pktWriter struct {
	conn net.PacketConn
	addr net.Addr
}

func (w pktWriter) Write(p []byte) (int, error) {
	return w.conn.WriteTo(p, w.addr)
}

// serverOut learns the sender's address from inbound datagrams (a
// server doesn't know its client's address until the first packet
// arrives) and writes every flushed datagram back there. addr is set
// from the pump goroutine and read from whichever goroutine holds the
// owning conversation's lock during Flush, hence the separate mutex.
type serverOut struct {
	conn net.PacketConn

	mu   sync.Mutex
	addr net.Addr
}

func (w *serverOut) noteSender(addr net.Addr) {
	w.mu.Lock()
	w.addr = addr
	w.mu.Unlock()
}

func (w *serverOut) Write(p []byte) (int, error) {
	w.mu.Lock()
	addr := w.addr
	w.mu.Unlock()
	if addr == nil {
		return len(p), nil // nothing to echo to yet
	}
	return w.conn.WriteTo(p, addr)
}

// pump reads inbound datagrams off conn and feeds them to conv.Input. If
// noteSender is non-nil it's called with each packet's source address
// first, so a server-side serverOut can learn where to echo.
func pump(conn net.PacketConn, conv *conversation, noteSender func(net.Addr), errc chan<- error) {
	buf := make([]byte, 65536)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			errc <- errors.WithStack(err)
			return
		}
		if noteSender != nil {
			noteSender(addr)
		}
		if _, err := conv.Input(buf[:n]); err != nil {
			glog.Warningf("arq input: %+v", err)
		}
	}
}

// driveUpdates ticks both control blocks at the configured flush
// interval. A real deployment would drive each conversation from its
// own goroutine; this demo shares one ticker since both endpoints sit
// in the same process.
func driveUpdates(client, server *conversation, clock func() uint32, intervalMs int, errc chan<- error) {
	if intervalMs <= 0 {
		intervalMs = 10
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		now := clock()
		if err := client.Update(now); err != nil {
			errc <- errors.WithStack(err)
			return
		}
		if err := server.Update(now); err != nil {
			errc <- errors.WithStack(err)
			return
		}
	}
}

// runClient sends an 8-byte (counter, timestamp-ms) message at 50Hz
// and drains whatever the server echoes back, matching the S1/S2/S3
// scenario shape: ordered delivery of a steady small-message stream.
func runClient(conv *conversation, errc chan<- error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var counter uint64
	buf := make([]byte, 8)
	recvBuf := make([]byte, 2048)

	for range ticker.C {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(counter))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(time.Now().UnixMilli()))
		if _, err := conv.Send(buf); err != nil {
			glog.Warningf("arq send: %+v", err)
		}
		counter++

		for {
			_, err := conv.Recv(recvBuf)
			if err != nil {
				if arq.IsWouldBlock(err) {
					break
				}
				errc <- errors.WithStack(err)
				return
			}
		}
	}
}

// runServerEcho echoes every message the server receives back to the
// client unchanged.
func runServerEcho(conv *conversation, errc chan<- error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	buf := make([]byte, 2048)
	for range ticker.C {
		for {
			n, err := conv.Recv(buf)
			if err != nil {
				if arq.IsWouldBlock(err) {
					break
				}
				errc <- errors.WithStack(err)
				return
			}
			if _, err := conv.Send(buf[:n]); err != nil {
				glog.Warningf("arq echo send: %+v", err)
			}
		}
	}
}
