// Package imgclient issues catalog commands to an image server over rdt.
package imgclient

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/jgoldverg/imgdrop/backend/catalog"
	"github.com/jgoldverg/imgdrop/backend/localfs"
	"github.com/jgoldverg/imgdrop/internal"
	"github.com/jgoldverg/imgdrop/pkg/command"
	"github.com/jgoldverg/imgdrop/pkg/metrics"
	"github.com/jgoldverg/imgdrop/pkg/rdt"
)

type Client struct {
	ep       *rdt.Endpoint
	server   net.Addr
	timeout  time.Duration
	progress rdt.ProgressFunc
}

// New drives the server at server over pc. The client owns pc afterwards.
func New(pc net.PacketConn, server net.Addr, params rdt.Params) *Client {
	timeout := params.HeaderTimeout
	if timeout <= 0 {
		timeout = params.Timeout
	}
	if timeout <= 0 {
		timeout = rdt.DefaultTimeout
	}
	return &Client{
		ep:      rdt.NewEndpoint(pc, params),
		server:  server,
		timeout: timeout,
	}
}

// Dial opens an ephemeral UDP socket aimed at cfg.ServerAddr.
func Dial(cfg *internal.ClientConfig, m *metrics.TransferCollector) (*Client, error) {
	server, err := net.ResolveUDPAddr("udp", cfg.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.ServerAddr, err)
	}
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, err
	}
	params := rdt.ClientParams(cfg.PacketTimeout(), cfg.ChunkSize, cfg.MaxRetries)
	params.Metrics = m

	internal.Debug("client socket ready", internal.Fields{
		internal.FieldServer:       server.String(),
		internal.FieldKey("local"): pc.LocalAddr().String(),
	})
	return New(pc, server, params), nil
}

// SetProgress reports progress of file bodies (not commands or replies).
func (c *Client) SetProgress(fn rdt.ProgressFunc) {
	c.progress = fn
}

func (c *Client) Server() net.Addr {
	return c.server
}

func (c *Client) Close() error {
	return c.ep.Close()
}

func (c *Client) send(ctx context.Context, payload []byte, withProgress bool) error {
	if withProgress {
		c.ep.Sender.SetProgress(c.progress)
		defer c.ep.Sender.SetProgress(nil)
	}
	return c.ep.Send(ctx, payload, c.server)
}

func (c *Client) receive(ctx context.Context, withProgress bool) ([]byte, error) {
	if withProgress {
		c.ep.Receiver.SetProgress(c.progress)
		defer c.ep.Receiver.SetProgress(nil)
	}
	return c.ep.ReceiveFrom(ctx, c.server, c.timeout)
}

func (c *Client) exchange(ctx context.Context, cmd command.Command) (command.Response, error) {
	if err := c.send(ctx, cmd.Bytes(), false); err != nil {
		return command.Response{}, fmt.Errorf("send %s: %w", cmd.Verb, err)
	}
	raw, err := c.receive(ctx, false)
	if err != nil {
		return command.Response{}, fmt.Errorf("%s reply: %w", cmd.Verb, err)
	}
	return command.ParseResponse(raw), nil
}

// Upload stores data on the server as filename under author and returns the
// server's confirmation message.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, author string) (string, error) {
	cmd := command.NewUpload(filename, int64(len(data)), author)
	resp, err := c.exchange(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !resp.IsReady() {
		if err := resp.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("unexpected reply to %s: %q", cmd.Verb, resp.Raw)
	}

	if err := c.send(ctx, data, true); err != nil {
		return "", fmt.Errorf("send body: %w", err)
	}
	raw, err := c.receive(ctx, false)
	if err != nil {
		return "", fmt.Errorf("upload confirmation: %w", err)
	}
	final := command.ParseResponse(raw)
	if err := final.Err(); err != nil {
		return "", err
	}
	if !final.IsOK() {
		return "", fmt.Errorf("unexpected upload confirmation %q", final.Raw)
	}
	return final.Message, nil
}

// UploadFile uploads the file at path under its base name.
func (c *Client) UploadFile(ctx context.Context, path, author string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return c.Upload(ctx, filepath.Base(path), data, author)
}

// ListRaw returns the server's LIST reply unparsed.
func (c *Client) ListRaw(ctx context.Context) (string, error) {
	if err := c.send(ctx, command.NewList().Bytes(), false); err != nil {
		return "", fmt.Errorf("send %s: %w", command.VerbList, err)
	}
	raw, err := c.receive(ctx, false)
	if err != nil {
		return "", fmt.Errorf("%s reply: %w", command.VerbList, err)
	}
	return string(raw), nil
}

func (c *Client) List(ctx context.Context) ([]catalog.Record, error) {
	raw, err := c.ListRaw(ctx)
	if err != nil {
		return nil, err
	}
	resp := command.ParseResponse([]byte(raw))
	if resp.IsEmpty() {
		return nil, nil
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return catalog.ParseListing(raw)
}

// Fetch runs a DOWNLOAD or VIEW exchange and returns the file bytes.
func (c *Client) Fetch(ctx context.Context, cmd command.Command) ([]byte, error) {
	resp, err := c.exchange(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	size, err := resp.FoundSize()
	if err != nil {
		return nil, err
	}

	if err := c.send(ctx, []byte(command.Ready), false); err != nil {
		return nil, fmt.Errorf("send %s: %w", command.Ready, err)
	}
	data, err := c.receive(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("receive file: %w", err)
	}
	if int64(len(data)) != size {
		internal.Warn("received size differs from FOUND size", internal.Fields{
			internal.FieldBytes:        len(data),
			internal.FieldKey("found"): size,
		})
	}
	return data, nil
}

// Download saves the named image into destDir and returns the written path.
func (c *Client) Download(ctx context.Context, name, destDir string) (string, error) {
	return c.fetchTo(ctx, command.NewDownload(name), destDir, name)
}

// View saves the named image's thumbnail into destDir as thumb_<name>.
func (c *Client) View(ctx context.Context, name, destDir string) (string, error) {
	return c.fetchTo(ctx, command.NewView(name), destDir, localfs.ThumbPrefix+name)
}

func (c *Client) fetchTo(ctx context.Context, cmd command.Command, destDir, outName string) (string, error) {
	outName, err := localfs.CleanName(filepath.Base(outName))
	if err != nil {
		return "", err
	}
	data, err := c.Fetch(ctx, cmd)
	if err != nil {
		return "", err
	}
	path := filepath.Join(destDir, outName)
	if err := localfs.WriteFileAtomic(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
