package server

import (
	"fmt"
	"strings"

	"shale/internal/common"
)

// Op is a client command verb.
type Op string

const (
	OpGet    Op = "GET"
	OpPut    Op = "PUT"
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
	OpScan   Op = "SCAN"
	OpPing   Op = "PING"
)

// Response lines. A scan streams one ENTRY line per result and ends with END.
const (
	RespOK       = "OK"
	RespPong     = "PONG"
	RespValue    = "VALUE"
	RespNotFound = "NOT_FOUND"
	RespEntry    = "ENTRY"
	RespEnd      = "END"
	RespErr      = "ERR"
)

// Command is one parsed request line.
type Command struct {
	Op    Op
	Key   []byte
	Value []byte
	// End bounds a scan; nil scans to the last key.
	End []byte
}

// ParseCommand parses a request line. Verbs are case-insensitive. A value
// runs to the end of the line and may contain spaces.
func ParseCommand(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	verb, rest := cutField(line)
	if verb == "" {
		return nil, common.InvalidArgument("parse", "empty command")
	}

	cmd := &Command{Op: Op(strings.ToUpper(verb))}
	switch cmd.Op {
	case OpPing:
		if rest != "" {
			return nil, usage(cmd.Op, "")
		}
	case OpGet, OpDelete:
		key, extra := cutField(rest)
		if key == "" || extra != "" {
			return nil, usage(cmd.Op, "<key>")
		}
		cmd.Key = []byte(key)
	case OpPut, OpInsert, OpUpdate:
		key, value := cutField(rest)
		if key == "" || value == "" {
			return nil, usage(cmd.Op, "<key> <value>")
		}
		cmd.Op = OpPut
		cmd.Key, cmd.Value = []byte(key), []byte(value)
	case OpScan:
		fields := strings.Fields(rest)
		if len(fields) > 2 {
			return nil, usage(cmd.Op, "[start] [end]")
		}
		cmd.Key = []byte{}
		if len(fields) > 0 {
			cmd.Key = []byte(fields[0])
		}
		if len(fields) > 1 {
			cmd.End = []byte(fields[1])
		}
	default:
		return nil, common.InvalidArgument("parse", "unknown command %q", verb)
	}
	return cmd, nil
}

func cutField(s string) (field, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i+1:], " \t")
}

func usage(op Op, args string) error {
	return common.InvalidArgument("parse", "usage: %s", strings.TrimSpace(fmt.Sprintf("%s %s", op, args)))
}

// FormatError renders err as an ERR line.
func FormatError(err error) string {
	kind := "internal"
	if k := common.KindOf(err); k != 0 {
		kind = k.String()
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return fmt.Sprintf("%s %s %s", RespErr, kind, msg)
}
