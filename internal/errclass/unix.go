//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/unix.go
//

package errclass

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// The explicit conversions pin each x/sys/unix errno constant to
// syscall.Errno, the type Classify in errclass.go matches against.
const (
	errEADDRNOTAVAIL   = syscall.Errno(unix.EADDRNOTAVAIL)
	errEADDRINUSE      = syscall.Errno(unix.EADDRINUSE)
	errECONNABORTED    = syscall.Errno(unix.ECONNABORTED)
	errECONNREFUSED    = syscall.Errno(unix.ECONNREFUSED)
	errECONNRESET      = syscall.Errno(unix.ECONNRESET)
	errEHOSTUNREACH    = syscall.Errno(unix.EHOSTUNREACH)
	errEINVAL          = syscall.Errno(unix.EINVAL)
	errEINTR           = syscall.Errno(unix.EINTR)
	errENETDOWN        = syscall.Errno(unix.ENETDOWN)
	errENETUNREACH     = syscall.Errno(unix.ENETUNREACH)
	errENOBUFS         = syscall.Errno(unix.ENOBUFS)
	errENOTCONN        = syscall.Errno(unix.ENOTCONN)
	errEPROTONOSUPPORT = syscall.Errno(unix.EPROTONOSUPPORT)
	errETIMEDOUT       = syscall.Errno(unix.ETIMEDOUT)
)
