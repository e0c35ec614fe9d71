package imgserver

import (
	"context"
	"net"

	"github.com/jgoldverg/imgdrop/backend/catalog"
	"github.com/jgoldverg/imgdrop/internal"
	"github.com/jgoldverg/imgdrop/pkg/command"
	"github.com/jgoldverg/imgdrop/pkg/rdt"
)

func (s *Server) handle(ctx context.Context, ep *rdt.Endpoint, raw []byte, peer net.Addr) {
	cmd, err := command.Parse(raw)
	if err != nil {
		internal.Warn("unparseable command", internal.Fields{
			internal.FieldPeer:  peer.String(),
			internal.FieldError: err.Error(),
		})
		s.reply(ctx, ep, command.Error(command.MsgUnknownCommand), peer)
		return
	}

	internal.Info("command received", internal.Fields{
		internal.FieldPeer:    peer.String(),
		internal.FieldCommand: string(cmd.Verb),
	})

	switch cmd.Verb {
	case command.VerbUpload:
		s.handleUpload(ctx, ep, cmd, peer)
	case command.VerbList:
		s.handleList(ctx, ep, peer)
	case command.VerbDownload:
		s.handleFetch(ctx, ep, cmd, peer, false)
	case command.VerbView:
		s.handleFetch(ctx, ep, cmd, peer, true)
	default:
		s.reply(ctx, ep, command.Error(command.MsgUnknownCommand), peer)
	}
}

func (s *Server) handleUpload(ctx context.Context, ep *rdt.Endpoint, cmd command.Command, peer net.Addr) {
	args, err := cmd.Upload()
	if err != nil {
		s.reply(ctx, ep, command.Error(command.MsgInvalidFormat), peer)
		return
	}
	fields := internal.Fields{
		internal.FieldPeer:     peer.String(),
		internal.FieldFilename: args.Filename,
		internal.FieldAuthor:   args.Author,
	}

	imgPath, err := s.files.ImagePath(args.Author, args.Filename)
	if err != nil {
		s.reply(ctx, ep, command.Error(command.MsgInvalidName), peer)
		return
	}
	thumbPath, err := s.files.ThumbPath(args.Author, args.Filename)
	if err != nil {
		s.reply(ctx, ep, command.Error(command.MsgInvalidName), peer)
		return
	}

	if !s.reply(ctx, ep, []byte(command.Ready), peer) {
		return
	}

	body, err := ep.ReceiveFrom(ctx, peer, s.opts.FollowUpTimeout)
	if err != nil || len(body) == 0 {
		if err != nil {
			fields = internal.With(fields, internal.Fields{internal.FieldError: err.Error()})
		}
		internal.Warn("upload body not received", fields)
		s.reply(ctx, ep, command.Error(command.MsgReceiveFailed), peer)
		return
	}
	if int64(len(body)) != args.Size {
		internal.Debug("upload size differs from announced size", internal.With(fields, internal.Fields{
			internal.FieldBytes:           len(body),
			internal.FieldKey("announced"): args.Size,
		}))
	}

	if err := s.files.Write(imgPath, body); err != nil {
		internal.Error("failed to store upload", internal.With(fields, internal.Fields{
			internal.FieldError: err.Error(),
		}))
		s.reply(ctx, ep, command.Error(command.MsgReceiveFailed), peer)
		return
	}

	storedThumb := ""
	if s.thumbs != nil && s.thumbs.Generate(imgPath, thumbPath) {
		storedThumb = thumbPath
	}

	// The catalog keeps the size the client announced, not the bytes received.
	rec := catalog.NewRecord(args.Filename, args.Author, imgPath, storedThumb, args.Size)
	if err := s.catalog.Append(ctx, rec); err != nil {
		internal.Error("failed to record upload", internal.With(fields, internal.Fields{
			internal.FieldError: err.Error(),
		}))
		s.reply(ctx, ep, command.Error(command.MsgCatalogFailure), peer)
		return
	}

	internal.Info("upload stored", internal.With(fields, internal.Fields{
		internal.FieldBytes:           len(body),
		internal.FieldKey("has_thumb"): rec.HasThumb,
	}))
	s.reply(ctx, ep, command.OK(command.MsgUploadDone), peer)
}

func (s *Server) handleList(ctx context.Context, ep *rdt.Endpoint, peer net.Addr) {
	records, err := s.catalog.All(ctx)
	if err != nil {
		internal.Error("catalog read failed", internal.Fields{
			internal.FieldPeer:  peer.String(),
			internal.FieldError: err.Error(),
		})
		s.reply(ctx, ep, command.Error(command.MsgCatalogFailure), peer)
		return
	}
	if len(records) == 0 {
		s.reply(ctx, ep, []byte(command.Empty), peer)
		return
	}
	s.reply(ctx, ep, []byte(catalog.FormatListing(records)), peer)
}

// handleFetch serves DOWNLOAD (the image) and VIEW (its thumbnail): FOUND|size,
// wait for READY, then the bytes.
func (s *Server) handleFetch(ctx context.Context, ep *rdt.Endpoint, cmd command.Command, peer net.Addr, thumb bool) {
	name, err := cmd.Filename()
	if err != nil {
		internal.Debug("fetch without filename ignored", internal.Fields{
			internal.FieldPeer:    peer.String(),
			internal.FieldCommand: string(cmd.Verb),
		})
		return
	}
	fields := internal.Fields{
		internal.FieldPeer:     peer.String(),
		internal.FieldCommand:  string(cmd.Verb),
		internal.FieldFilename: name,
	}

	rec, ok, err := s.catalog.Find(ctx, name)
	if err != nil {
		internal.Error("catalog lookup failed", internal.With(fields, internal.Fields{
			internal.FieldError: err.Error(),
		}))
		s.reply(ctx, ep, command.Error(command.MsgCatalogFailure), peer)
		return
	}

	path := rec.Path
	if thumb {
		path = rec.ThumbPath
	}
	if !ok || path == "" || !s.files.Exists(path) {
		s.reply(ctx, ep, command.Error(command.MsgNotFound), peer)
		return
	}
	data, err := s.files.Read(path)
	if err != nil {
		internal.Warn("stored file unreadable", internal.With(fields, internal.Fields{
			internal.FieldError: err.Error(),
		}))
		s.reply(ctx, ep, command.Error(command.MsgNotFound), peer)
		return
	}

	if !s.reply(ctx, ep, command.Found(int64(len(data))), peer) {
		return
	}
	resp, err := ep.ReceiveFrom(ctx, peer, s.opts.FollowUpTimeout)
	if err != nil || !command.ParseResponse(resp).IsReady() {
		internal.Warn("client did not confirm READY", fields)
		return
	}
	if s.reply(ctx, ep, data, peer) {
		internal.Info("file sent", internal.With(fields, internal.Fields{
			internal.FieldBytes: len(data),
		}))
	}
}

// reply sends payload to peer and reports whether the transfer completed.
func (s *Server) reply(ctx context.Context, ep *rdt.Endpoint, payload []byte, peer net.Addr) bool {
	if err := ep.Send(ctx, payload, peer); err != nil {
		internal.Warn("reply not delivered", internal.Fields{
			internal.FieldPeer:  peer.String(),
			internal.FieldBytes: len(payload),
			internal.FieldError: err.Error(),
		})
		return false
	}
	return true
}
