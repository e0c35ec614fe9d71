package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jgoldverg/imgdrop/cli/output"
	"github.com/jgoldverg/imgdrop/internal"
	"github.com/spf13/cobra"
)

const defaultSettleDelay = 500 * time.Millisecond

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

func WatchCommand() *cobra.Command {
	var author string
	var settle time.Duration
	cmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Upload images as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			info, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			uploader := resolveAuthor(cmd, author)

			client, _, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create file watcher: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}

			printer := output.NewPrinter(false)
			printer.Info("watching for images", map[string]any{
				"directory": dir,
				"author":    uploader,
			})

			ctx := cmd.Context()
			queue := make(chan string, 64)
			settler := newSettler(settle, func(path string) {
				select {
				case queue <- path:
				case <-ctx.Done():
				}
			})
			defer settler.Stop()

			go watchEvents(ctx, watcher, settler)

			for {
				select {
				case <-ctx.Done():
					return nil
				case path := <-queue:
					msg, err := client.UploadFile(ctx, path, uploader)
					if err != nil {
						printer.Error("upload failed", map[string]any{
							"file":  path,
							"error": err.Error(),
						})
						continue
					}
					printer.Success(msg, map[string]any{
						"file": filepath.Base(path),
					})
				}
			}
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "Author name stored with each upload")
	cmd.Flags().DurationVar(&settle, "settle", defaultSettleDelay, "Quiet period after the last write before a file is uploaded")
	return cmd
}

func watchEvents(ctx context.Context, watcher *fsnotify.Watcher, settler *settler) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isImageFile(event.Name) {
				continue
			}
			internal.Trace("watch event", internal.Fields{
				internal.FieldFilename:  event.Name,
				internal.FieldKey("op"): event.Op.String(),
			})
			settler.Touch(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			internal.Warn("watcher error", internal.Fields{
				internal.FieldError: err.Error(),
			})
		}
	}
}

// isImageFile accepts visible regular files with a known image extension.
func isImageFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if !imageExtensions[strings.ToLower(filepath.Ext(base))] {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// settler fires once per path after no Touch for delay, so a file still being
// written is uploaded a single time.
type settler struct {
	delay time.Duration
	fire  func(string)

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

func newSettler(delay time.Duration, fire func(string)) *settler {
	if delay <= 0 {
		delay = defaultSettleDelay
	}
	return &settler{
		delay:   delay,
		fire:    fire,
		pending: make(map[string]*time.Timer),
	}
}

func (s *settler) Touch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.pending[path]; ok {
		t.Reset(s.delay)
		return
	}
	s.pending[path] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.pending, path)
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			s.fire(path)
		}
	})
}

func (s *settler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for path, t := range s.pending {
		t.Stop()
		delete(s.pending, path)
	}
}
