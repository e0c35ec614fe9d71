package command

import (
	"errors"
	"testing"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		raw  string
		verb Verb
		args int
	}{
		{"UPLOAD|cat.jpg|2048|alice", VerbUpload, 3},
		{"  list \n", VerbList, 0},
		{"download|Cat.JPG", VerbDownload, 1},
		{"View|thumb.png", VerbView, 1},
		{"PING", Verb("PING"), 0},
	}
	for _, tc := range cases {
		cmd, err := Parse([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%q: parse failed: %v", tc.raw, err)
		}
		if cmd.Verb != tc.verb || len(cmd.Args) != tc.args {
			t.Fatalf("%q: got %+v", tc.raw, cmd)
		}
	}

	if cmd, _ := Parse([]byte("download|Cat.JPG")); cmd.Args[0] != "Cat.JPG" {
		t.Fatalf("argument case must be preserved, got %q", cmd.Args[0])
	}
	if cmd, _ := Parse([]byte("PING")); cmd.Known() {
		t.Fatal("PING must not be a known verb")
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	if _, err := Parse([]byte{0xff, 0xfe, 'L'}); !errors.Is(err, ErrNotUTF8) {
		t.Fatalf("expected ErrNotUTF8, got %v", err)
	}
	if _, err := Parse([]byte("   ")); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestUploadArgs(t *testing.T) {
	cmd, _ := Parse([]byte("UPLOAD|cat.jpg|2048|alice"))
	args, err := cmd.Upload()
	if err != nil {
		t.Fatalf("upload args: %v", err)
	}
	if args.Filename != "cat.jpg" || args.Size != 2048 || args.Author != "alice" {
		t.Fatalf("unexpected args %+v", args)
	}

	cmd, _ = Parse([]byte("UPLOAD|dog.png|10"))
	args, err = cmd.Upload()
	if err != nil {
		t.Fatalf("upload args: %v", err)
	}
	if args.Author != DefaultAuthor {
		t.Fatalf("expected default author, got %q", args.Author)
	}

	for _, raw := range []string{"UPLOAD|only-name", "UPLOAD|x|abc", "UPLOAD|x|-1"} {
		cmd, _ := Parse([]byte(raw))
		if _, err := cmd.Upload(); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("%q: expected ErrInvalidFormat, got %v", raw, err)
		}
	}
}

func TestBuildersRoundTrip(t *testing.T) {
	if got := NewUpload("cat.jpg", 2048, "alice").String(); got != "UPLOAD|cat.jpg|2048|alice" {
		t.Fatalf("unexpected upload command %q", got)
	}
	if got := NewUpload("cat.jpg", 1, "").String(); got != "UPLOAD|cat.jpg|1" {
		t.Fatalf("unexpected upload command %q", got)
	}
	if got := NewList().String(); got != "LIST" {
		t.Fatalf("unexpected list command %q", got)
	}
	if got := string(NewView("a.png").Bytes()); got != "VIEW|a.png" {
		t.Fatalf("unexpected view command %q", got)
	}
}

func TestResponses(t *testing.T) {
	if string(OK(MsgUploadDone)) != "OK|Upload concluido" {
		t.Fatalf("unexpected OK %q", OK(MsgUploadDone))
	}
	if string(Error(MsgNotFound)) != "ERROR|Arquivo nao encontrado" {
		t.Fatalf("unexpected ERROR %q", Error(MsgNotFound))
	}

	found := ParseResponse(Found(2048))
	size, err := found.FoundSize()
	if err != nil || size != 2048 {
		t.Fatalf("found size: %d, %v", size, err)
	}

	notFound := ParseResponse([]byte("ERROR|Arquivo nao encontrado"))
	if !IsNotFound(notFound.Err()) {
		t.Fatalf("expected not-found error, got %v", notFound.Err())
	}
	if _, err := notFound.FoundSize(); err == nil {
		t.Fatal("ERROR reply must not yield a size")
	}
	if !ParseResponse([]byte(Ready)).IsReady() || !ParseResponse([]byte(Empty)).IsEmpty() {
		t.Fatal("single-token replies misclassified")
	}
	if ParseResponse(OK("x")).Err() != nil {
		t.Fatal("OK reply must not be an error")
	}
}
