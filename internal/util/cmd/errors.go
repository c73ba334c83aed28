// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package cmdutil

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
	"golang.org/x/term"
)

// Exit codes of the batch tools.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitPayload = 2
	ExitUsage   = 3
)

var exit = os.Exit

// ExitCode returns the exit code for err. Payload errors get their own code so
// that scripts can tell a bad batch from a broken tool.
func ExitCode(err error) int {
	switch code := errors.Code(err); {
	case err == nil:
		return ExitOK
	case code == errors.BadRequest:
		return ExitUsage
	case code.IsClientError():
		return ExitPayload
	default:
		return ExitFailure
	}
}

func Fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	exit(ExitFailure)
}

func Check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(ExitCode(err))
	}
}

func Checkf(err error, format string, otherArgs ...interface{}) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: "+format+": %v\n", append(otherArgs, err)...)
		exit(ExitCode(err))
	}
}

func Warnf(format string, args ...interface{}) {
	fprintWarning(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), format, args...)
}

func fprintWarning(w io.Writer, colored bool, format string, args ...interface{}) {
	format = "WARNING: " + format + "\n"
	if colored {
		fmt.Fprint(w, color.RedString(format, args...))
	} else {
		fmt.Fprintf(w, format, args...)
	}
}
