package imgserver

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jgoldverg/imgdrop/backend/catalog"
	"github.com/jgoldverg/imgdrop/backend/localfs"
	"github.com/jgoldverg/imgdrop/backend/thumbnail"
	"github.com/jgoldverg/imgdrop/pkg/command"
	"github.com/jgoldverg/imgdrop/pkg/imgclient"
	"github.com/jgoldverg/imgdrop/pkg/metrics"
	"github.com/jgoldverg/imgdrop/pkg/rdt"
)

type testServer struct {
	addr    net.Addr
	baseDir string
	store   *catalog.TomlStore
	metrics *metrics.TransferCollector
}

func startServer(t *testing.T, concurrent bool) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	dir := t.TempDir()
	store, err := catalog.NewTomlStore(filepath.Join(dir, "catalog.toml"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	files, err := localfs.NewFileStore(filepath.Join(dir, "imagens"))
	if err != nil {
		t.Fatalf("files: %v", err)
	}

	pc, err := Listen(ctx, "127.0.0.1:0", ListenOptions{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	collector := metrics.NewTransferCollector("")
	srv := New(Options{
		PacketTimeout:   500 * time.Millisecond,
		FollowUpTimeout: 2 * time.Second,
		Concurrent:      concurrent,
		SessionTTL:      time.Minute,
		SessionScan:     50 * time.Millisecond,
	}, store, files, thumbnail.NewResizer(64), collector)

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, pc)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve returned: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("server did not stop")
		}
		pc.Close()
	})

	return &testServer{
		addr:    pc.LocalAddr(),
		baseDir: filepath.Join(dir, "imagens"),
		store:   store,
		metrics: collector,
	}
}

func newClient(t *testing.T, server net.Addr) *imgclient.Client {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("client listen: %v", err)
	}
	c := imgclient.New(pc, server, rdt.ClientParams(time.Second, 0, 0))
	t.Cleanup(func() { c.Close() })
	return c
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 5), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestUploadThenList(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := startServer(t, false)
	client := newClient(t, srv.addr)

	body := make([]byte, 2048)
	rand.Read(body)

	msg, err := client.Upload(ctx, "cat.jpg", body, "alice")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if msg != command.MsgUploadDone {
		t.Fatalf("unexpected confirmation %q", msg)
	}

	stored, err := os.ReadFile(filepath.Join(srv.baseDir, "alice", "cat.jpg"))
	if err != nil {
		t.Fatalf("stored file: %v", err)
	}
	if !bytes.Equal(stored, body) {
		t.Fatal("stored bytes differ from upload")
	}

	raw, err := client.ListRaw(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	line := regexp.MustCompile(`^cat\.jpg\|alice\|\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\|2048\|0$`)
	if !line.MatchString(raw) {
		t.Fatalf("unexpected listing %q", raw)
	}
}

func TestUploadRecordsAnnouncedSize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := startServer(t, false)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ep := rdt.NewEndpoint(pc, rdt.ClientParams(time.Second, 0, 0))
	defer ep.Close()

	exchange := func(payload []byte) string {
		t.Helper()
		if err := ep.Send(ctx, payload, srv.addr); err != nil {
			t.Fatalf("send %q: %v", payload, err)
		}
		reply, err := ep.ReceiveFrom(ctx, srv.addr, time.Second)
		if err != nil {
			t.Fatalf("reply to %q: %v", payload, err)
		}
		return string(reply)
	}

	if got := exchange(command.NewUpload("cat.jpg", 2048, "alice").Bytes()); got != command.Ready {
		t.Fatalf("expected READY, got %q", got)
	}
	body := bytes.Repeat([]byte{7}, 100)
	if got := exchange(body); got != string(command.OK(command.MsgUploadDone)) {
		t.Fatalf("unexpected upload reply %q", got)
	}

	stored, err := os.ReadFile(filepath.Join(srv.baseDir, "alice", "cat.jpg"))
	if err != nil || len(stored) != len(body) {
		t.Fatalf("stored file: %d bytes, %v", len(stored), err)
	}

	raw := exchange(command.NewList().Bytes())
	line := regexp.MustCompile(`^cat\.jpg\|alice\|\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\|2048\|0$`)
	if !line.MatchString(raw) {
		t.Fatalf("listing should carry the announced size, got %q", raw)
	}
}

func TestListEmptyCatalog(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := startServer(t, false)
	client := newClient(t, srv.addr)

	raw, err := client.ListRaw(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if raw != command.Empty {
		t.Fatalf("expected EMPTY, got %q", raw)
	}
	records, err := client.List(ctx)
	if err != nil || records != nil {
		t.Fatalf("expected no records, got %v (%v)", records, err)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := startServer(t, false)
	client := newClient(t, srv.addr)

	_, err := client.Download(ctx, "nope.png", t.TempDir())
	if !command.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}

	// The server did not wait for READY; the next command is served at once.
	raw, err := client.ListRaw(ctx)
	if err != nil || raw != command.Empty {
		t.Fatalf("follow-up list: %q, %v", raw, err)
	}
}

func TestUploadDownloadAndView(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := startServer(t, false)
	client := newClient(t, srv.addr)

	img := pngBytes(t, 200, 100)
	if _, err := client.Upload(ctx, "photo.png", img, ""); err != nil {
		t.Fatalf("upload: %v", err)
	}

	dest := t.TempDir()
	path, err := client.Download(ctx, "photo.png", dest)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if path != filepath.Join(dest, "photo.png") {
		t.Fatalf("unexpected download path %s", path)
	}
	got, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(got, img) {
		t.Fatalf("downloaded bytes differ (%v)", err)
	}

	thumbPath, err := client.View(ctx, "photo.png", dest)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if filepath.Base(thumbPath) != "thumb_photo.png" {
		t.Fatalf("unexpected thumbnail path %s", thumbPath)
	}
	f, err := os.Open(thumbPath)
	if err != nil {
		t.Fatalf("open thumbnail: %v", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("thumbnail not decodable: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 32 {
		t.Fatalf("unexpected thumbnail size %dx%d", cfg.Width, cfg.Height)
	}

	records, err := client.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Author != command.DefaultAuthor || !records[0].HasThumb {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestViewWithoutThumbnail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := startServer(t, false)
	client := newClient(t, srv.addr)

	if _, err := client.Upload(ctx, "notes.jpg", []byte("plain text, not an image"), "bob"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := client.View(ctx, "notes.jpg", t.TempDir()); !command.IsNotFound(err) {
		t.Fatalf("expected not-found for missing thumbnail, got %v", err)
	}
}

func TestServerRejectsBadCommands(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := startServer(t, false)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ep := rdt.NewEndpoint(pc, rdt.ClientParams(time.Second, 0, 0))
	defer ep.Close()

	cases := map[string]string{
		"PING":               "ERROR|" + command.MsgUnknownCommand,
		"UPLOAD|only.png":    "ERROR|" + command.MsgInvalidFormat,
		"UPLOAD|a.png|big":   "ERROR|" + command.MsgInvalidFormat,
		"UPLOAD|../x.png|10": "ERROR|" + command.MsgInvalidName,
	}
	for cmd, want := range cases {
		if err := ep.Send(ctx, []byte(cmd), srv.addr); err != nil {
			t.Fatalf("%s: send: %v", cmd, err)
		}
		reply, err := ep.ReceiveFrom(ctx, srv.addr, time.Second)
		if err != nil {
			t.Fatalf("%s: receive: %v", cmd, err)
		}
		if string(reply) != want {
			t.Fatalf("%s: got %q want %q", cmd, reply, want)
		}
	}
}

func TestServerAnswersShortUnframedCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := startServer(t, false)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ep := rdt.NewEndpoint(pc, rdt.ClientParams(time.Second, 0, 0))
	defer ep.Close()

	// A bare datagram, not framed by a size header.
	if _, err := pc.WriteTo([]byte("LIST\n"), srv.addr); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := ep.ReceiveFrom(ctx, srv.addr, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(reply) != command.Empty {
		t.Fatalf("expected EMPTY, got %q", reply)
	}
}

func TestServerSurvivesAbandonedTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := startServer(t, false)

	// Announce 2048 bytes and never send a chunk.
	rogue, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer rogue.Close()
	if _, err := rogue.WriteTo([]byte{0, 0, 8, 0}, srv.addr); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 16)
	rogue.SetReadDeadline(time.Now().Add(time.Second))
	if n, _, err := rogue.ReadFrom(buf); err != nil || string(buf[:n]) != "ACK_SIZE" {
		t.Fatalf("expected ACK_SIZE, got %q (%v)", buf[:n], err)
	}

	// The server gives up after one packet timeout and keeps serving.
	time.Sleep(700 * time.Millisecond)
	client := newClient(t, srv.addr)
	raw, err := client.ListRaw(ctx)
	if err != nil || raw != command.Empty {
		t.Fatalf("list after abandoned transfer: %q, %v", raw, err)
	}
	if snap := srv.metrics.Snapshot(); snap.ChunkTimeouts != 1 {
		t.Fatalf("expected one chunk timeout, got %d", snap.ChunkTimeouts)
	}
}

func TestConcurrentSessions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	srv := startServer(t, true)

	const clients = 4
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pc, err := net.ListenPacket("udp", "127.0.0.1:0")
			if err != nil {
				errs <- err
				return
			}
			c := imgclient.New(pc, srv.addr, rdt.ClientParams(time.Second, 0, 0))
			defer c.Close()

			body := bytes.Repeat([]byte{byte('a' + i)}, 3000+i)
			name := string(rune('a'+i)) + ".bin"
			if _, err := c.Upload(ctx, name, body, "user"); err != nil {
				errs <- err
				return
			}
			data, err := c.Fetch(ctx, command.NewDownload(name))
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(data, body) {
				errs <- errors.New(name + ": downloaded bytes differ")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("client failed: %v", err)
	}

	records, err := srv.store.All(ctx)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if len(records) != clients {
		t.Fatalf("expected %d records, got %d", clients, len(records))
	}
	for _, r := range records {
		if !strings.HasSuffix(r.Filename, ".bin") || r.Author != "user" {
			t.Fatalf("unexpected record %+v", r)
		}
	}
}
