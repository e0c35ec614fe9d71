// Package command encodes the pipe-delimited text commands and responses
// exchanged over an rdt link.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const Separator = "|"

type Verb string

const (
	VerbUpload   Verb = "UPLOAD"
	VerbList     Verb = "LIST"
	VerbDownload Verb = "DOWNLOAD"
	VerbView     Verb = "VIEW"
)

// DefaultAuthor is recorded when an upload names no author.
const DefaultAuthor = "anon"

// Single-token replies.
const (
	Ready = "READY"
	Empty = "EMPTY"
)

// Response kinds that carry a field after the separator.
const (
	KindOK    = "OK"
	KindError = "ERROR"
	KindFound = "FOUND"
)

// Server messages carried in OK and ERROR responses.
const (
	MsgUploadDone     = "Upload concluido"
	MsgInvalidFormat  = "Formato invalido"
	MsgInvalidName    = "Nome de arquivo invalido"
	MsgReceiveFailed  = "Falha no recebimento"
	MsgNotFound       = "Arquivo nao encontrado"
	MsgUnknownCommand = "Comando desconhecido"
	MsgCatalogFailure = "Catalogo indisponivel"
)

var (
	ErrNotUTF8       = errors.New("command is not valid utf-8")
	ErrEmptyCommand  = errors.New("empty command")
	ErrInvalidFormat = errors.New(MsgInvalidFormat)
	ErrMissingName   = errors.New("command names no file")
)

// Command is a parsed request. Verb is upper-cased; Args keep their case.
type Command struct {
	Verb Verb
	Args []string
}

// Parse decodes a raw request: UTF-8, surrounding whitespace trimmed, fields
// split on "|", verb matched case-insensitively.
func Parse(raw []byte) (Command, error) {
	if !utf8.Valid(raw) {
		return Command{}, ErrNotUTF8
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Command{}, ErrEmptyCommand
	}
	parts := strings.Split(text, Separator)
	return Command{
		Verb: Verb(strings.ToUpper(parts[0])),
		Args: parts[1:],
	}, nil
}

func (c Command) String() string {
	return strings.Join(append([]string{string(c.Verb)}, c.Args...), Separator)
}

func (c Command) Bytes() []byte {
	return []byte(c.String())
}

// Known reports whether the verb is one the server handles.
func (c Command) Known() bool {
	switch c.Verb {
	case VerbUpload, VerbList, VerbDownload, VerbView:
		return true
	}
	return false
}

// UploadArgs are the fields of UPLOAD|filename|size[|author].
type UploadArgs struct {
	Filename string
	Size     int64
	Author   string
}

// Upload reads the arguments of an UPLOAD command. Fewer than two arguments or
// a size that is not a non-negative integer is ErrInvalidFormat.
func (c Command) Upload() (UploadArgs, error) {
	if len(c.Args) < 2 {
		return UploadArgs{}, ErrInvalidFormat
	}
	size, err := strconv.ParseInt(strings.TrimSpace(c.Args[1]), 10, 64)
	if err != nil || size < 0 {
		return UploadArgs{}, fmt.Errorf("%w: size %q", ErrInvalidFormat, c.Args[1])
	}
	args := UploadArgs{
		Filename: c.Args[0],
		Size:     size,
		Author:   DefaultAuthor,
	}
	if len(c.Args) >= 3 && c.Args[2] != "" {
		args.Author = c.Args[2]
	}
	return args, nil
}

// Filename returns the first argument of DOWNLOAD or VIEW.
func (c Command) Filename() (string, error) {
	if len(c.Args) == 0 {
		return "", ErrMissingName
	}
	return c.Args[0], nil
}

func NewUpload(filename string, size int64, author string) Command {
	args := []string{filename, strconv.FormatInt(size, 10)}
	if author != "" {
		args = append(args, author)
	}
	return Command{Verb: VerbUpload, Args: args}
}

func NewList() Command {
	return Command{Verb: VerbList}
}

func NewDownload(filename string) Command {
	return Command{Verb: VerbDownload, Args: []string{filename}}
}

func NewView(filename string) Command {
	return Command{Verb: VerbView, Args: []string{filename}}
}
