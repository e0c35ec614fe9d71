package imgserver

import (
	"context"
	"net"
	"syscall"

	"github.com/jgoldverg/imgdrop/internal"
	"golang.org/x/sys/unix"
)

// ListenOptions tune the UDP socket the server binds.
type ListenOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
}

// Listen binds addr with SO_REUSEADDR so a restarted daemon can rebind at once.
func Listen(ctx context.Context, addr string, opts ListenOptions) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(network, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		internal.Error("error creating udp listener", internal.Fields{
			internal.FieldServer: addr,
			internal.FieldError:  err.Error(),
		})
		return nil, err
	}

	if uc, ok := pc.(*net.UDPConn); ok {
		if opts.ReadBufferSize > 0 {
			_ = uc.SetReadBuffer(opts.ReadBufferSize)
		}
		if opts.WriteBufferSize > 0 {
			_ = uc.SetWriteBuffer(opts.WriteBufferSize)
		}
	}

	portOut := 0
	if ua, ok := pc.LocalAddr().(*net.UDPAddr); ok {
		portOut = ua.Port
	}
	internal.Info("udp listener bound", internal.Fields{
		internal.FieldServer:         addr,
		internal.FieldPort:           portOut,
		internal.FieldKey("network"): pc.LocalAddr().Network(),
	})
	return pc, nil
}
