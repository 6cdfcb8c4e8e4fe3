// Package protocol holds the numeric wire constants shared by package
// server (which emits/consumes them as the authoritative dispatcher) and
// package client (which emits/consumes the same bytes as the caller side):
// command codes, reply codes, and GETINFO codes.
package protocol

// Command codes, the first byte of every request payload.
const (
	CmdPing    int8 = 0
	CmdInvoke  int8 = 1
	CmdQuit    int8 = 2
	CmdDecref  int8 = 3
	CmdIncref  int8 = 4
	CmdGetInfo int8 = 5
)

// Reply codes, the leading byte of every reply that has one.
const (
	ReplySuccess          int8 = 0
	ReplyProtocolError    int8 = 1
	ReplyPackedException  int8 = 2
	ReplyGenericException int8 = 3
)

// GETINFO codes.
const (
	InfoMeta      int32 = 0
	InfoGeneral   int32 = 1
	InfoFunctions int32 = 2
	InfoFuncCodes int32 = 3
)
