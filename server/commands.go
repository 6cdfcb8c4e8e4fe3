// Package server implements the Agnos server-side command dispatcher: a
// per-connection processor that decodes a command header, dispatches to
// invoke/ping/info/ref-ops, and encodes a reply, plus the three
// accept/serve lifecycles (simple, threaded, library-mode).
package server

import "github.com/agnos-rpc/agnos-go/protocol"

// Command, reply, and GETINFO codes are defined once in package protocol so
// package client can emit the exact same values this package consumes;
// these are aliases kept for the call sites already written against them.
const (
	CmdPing    = protocol.CmdPing
	CmdInvoke  = protocol.CmdInvoke
	CmdQuit    = protocol.CmdQuit
	CmdDecref  = protocol.CmdDecref
	CmdIncref  = protocol.CmdIncref
	CmdGetInfo = protocol.CmdGetInfo

	ReplySuccess          = protocol.ReplySuccess
	ReplyProtocolError    = protocol.ReplyProtocolError
	ReplyPackedException  = protocol.ReplyPackedException
	ReplyGenericException = protocol.ReplyGenericException

	InfoMeta      = protocol.InfoMeta
	InfoGeneral   = protocol.InfoGeneral
	InfoFunctions = protocol.InfoFunctions
	InfoFuncCodes = protocol.InfoFuncCodes
)
