// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"errors"
	"fmt"
	"sync"
)

// Code is a device error code.
// Code values are compatible with the legacy HSDAQ error codes.
type Code uint32

const (
	ErrSuccess      Code = 0x00000
	ErrUnknown      Code = 0x00001
	ErrInvalidModel Code = 0xfffff

	ErrUnknownModule        Code = 0x13003
	ErrFunctionNotSupport   Code = 0x13006
	ErrFunctionRepeatCalled Code = 0x13009
	ErrInvalidHandle        Code = 0x1300a
	ErrDeviceIOControl      Code = 0x1300b
	ErrInvalidParameter     Code = 0x1300c
	ErrMemoryAllocated      Code = 0x1300e

	ErrDeviceChecksum               Code = 0x17001
	ErrDeviceReadTimeout            Code = 0x17002
	ErrDeviceResponse               Code = 0x17003
	ErrDeviceInvalidValue           Code = 0x17008
	ErrDeviceInternalBufferOverflow Code = 0x17009
	ErrDeviceSend                   Code = 0x1700a
	ErrDeviceDataConnect            Code = 0x1700b

	ErrIONotSupport        Code = 0x18001
	ErrIOChannel           Code = 0x18004
	ErrIOGain              Code = 0x18005
	ErrIOValueOutOfRange   Code = 0x18007
	ErrIOChannelOutOfRange Code = 0x18008
	ErrIOOperationMode     Code = 0x1800c
	ErrIODelayTime         Code = 0x1800d
	ErrIOAnalogMode        Code = 0x1800e
	ErrIOAnalogRange       Code = 0x1800f
	ErrIOAnalogCount       Code = 0x18010
	ErrBusy                Code = 0x18011
	ErrFrameAssemblyLoss   Code = 0x18020
)

var messages = map[Code]string{
	ErrSuccess:      "success",
	ErrUnknown:      "unknown error",
	ErrInvalidModel: "invalid device model",

	ErrUnknownModule:        "unknown module",
	ErrFunctionNotSupport:   "function not supported",
	ErrFunctionRepeatCalled: "function called repeatedly",
	ErrInvalidHandle:        "invalid handle value",
	ErrDeviceIOControl:      "device I/O control failure",
	ErrInvalidParameter:     "invalid parameter",
	ErrMemoryAllocated:      "memory allocation failure",

	ErrDeviceChecksum:               "device checksum error",
	ErrDeviceReadTimeout:            "device read timeout",
	ErrDeviceResponse:               "device response error",
	ErrDeviceInvalidValue:           "invalid device value",
	ErrDeviceInternalBufferOverflow: "internal buffer overflow",
	ErrDeviceSend:                   "could not send to device",
	ErrDeviceDataConnect:            "could not connect device data link",

	ErrIONotSupport:        "I/O not supported",
	ErrIOChannel:           "invalid channel",
	ErrIOGain:              "invalid gain",
	ErrIOValueOutOfRange:   "value out of range",
	ErrIOChannelOutOfRange: "channel out of range",
	ErrIOOperationMode:     "invalid operation mode",
	ErrIODelayTime:         "invalid delay time",
	ErrIOAnalogMode:        "invalid analog trigger mode",
	ErrIOAnalogRange:       "invalid analog trigger range",
	ErrIOAnalogCount:       "invalid analog trigger channel count",
	ErrBusy:                "device busy",
	ErrFrameAssemblyLoss:   "frame assembly loss",
}

// Error implements the error interface.
func (c Code) Error() string { return c.String() }

func (c Code) String() string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error code 0x%05x", uint32(c))
}

// ErrorMessage returns the human-readable message of an error code.
func ErrorMessage(c Code) string { return c.String() }

// Kind is the class of an error code.
type Kind uint8

const (
	KindNone Kind = iota
	KindUnknown
	KindInvalidParameter
	KindBusy
	KindDeviceTimeout
	KindDeviceResponse
	KindBufferOverflow
	KindFrameAssemblyLoss
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnknown:
		return "unknown"
	case KindInvalidParameter:
		return "invalid-parameter"
	case KindBusy:
		return "busy"
	case KindDeviceTimeout:
		return "device-timeout"
	case KindDeviceResponse:
		return "device-response"
	case KindBufferOverflow:
		return "buffer-overflow"
	case KindFrameAssemblyLoss:
		return "frame-assembly-loss"
	case KindUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Kind returns the class of the code.
func (c Code) Kind() Kind {
	switch c {
	case ErrSuccess:
		return KindNone
	case ErrInvalidHandle, ErrInvalidParameter, ErrDeviceInvalidValue,
		ErrIOChannel, ErrIOGain, ErrIOValueOutOfRange, ErrIOChannelOutOfRange,
		ErrIOOperationMode, ErrIODelayTime, ErrIOAnalogMode, ErrIOAnalogRange,
		ErrIOAnalogCount:
		return KindInvalidParameter
	case ErrBusy, ErrFunctionRepeatCalled:
		return KindBusy
	case ErrDeviceReadTimeout:
		return KindDeviceTimeout
	case ErrDeviceChecksum, ErrDeviceResponse, ErrDeviceSend,
		ErrDeviceDataConnect, ErrDeviceIOControl:
		return KindDeviceResponse
	case ErrDeviceInternalBufferOverflow:
		return KindBufferOverflow
	case ErrFrameAssemblyLoss:
		return KindFrameAssemblyLoss
	case ErrFunctionNotSupport, ErrIONotSupport, ErrUnknownModule, ErrInvalidModel:
		return KindUnsupported
	}
	return KindUnknown
}

// Error is the error returned by failing session operations.
type Error struct {
	Op   string // operation name
	Code Code
	Err  error // underlying error, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("daq: %s: %v: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("daq: %s: %v", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the code of e.
func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.Code
}

// CodeOf returns the error code carried by err.
func CodeOf(err error) Code {
	if err == nil {
		return ErrSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrUnknown
}

var lastErr struct {
	mu   sync.Mutex
	code Code
}

// LastError returns the process-wide last error code.
func LastError() Code {
	lastErr.mu.Lock()
	defer lastErr.mu.Unlock()
	return lastErr.code
}

// SetLastError sets the process-wide last error code.
func SetLastError(c Code) {
	lastErr.mu.Lock()
	lastErr.code = c
	lastErr.mu.Unlock()
}

// ClearLastError resets the process-wide last error code.
func ClearLastError() { SetLastError(ErrSuccess) }
