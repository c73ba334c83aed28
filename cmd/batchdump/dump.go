// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch"
)

func dump(ctx context.Context, w io.Writer, name string, src io.Reader, contentType string, opts batch.Options) error {
	r, err := batch.NewReaderContext(ctx, src, contentType, opts)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, color.New(color.Bold).Sprint(name))
	indent := "  "
	var total int64
	var parts int
	for {
		part, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch part.Kind {
		case batch.PartChangesetStart:
			fmt.Fprintf(w, "%s%s %s\n", indent, color.CyanString("changeset"), part.Boundary)
			indent = "    "
			parts++

		case batch.PartChangesetEnd:
			indent = "  "
			fmt.Fprintf(w, "%s%s %s\n", indent, color.CyanString("end"), part.Boundary)

		case batch.PartOperation:
			line, body := describe(part)
			n, err := io.Copy(io.Discard, body)
			if err != nil {
				return err
			}
			total += n
			fmt.Fprintf(w, "%s%s %s [%s]\n", indent, color.GreenString("operation"), line, humanize.Bytes(uint64(n)))
			if indent == "  " {
				parts++
			}
		}
	}

	fmt.Fprintf(w, "  %d parts, %s of bodies\n", parts, humanize.Bytes(uint64(total)))
	if opts.Logger != nil {
		opts.Logger.With("module", "batchdump").DebugContext(ctx, "Dumped batch", "parts", parts, "bytes", total)
	}
	return nil
}

func describe(part *batch.Part) (string, io.Reader) {
	var fields []string
	var id string
	var body io.Reader
	if req := part.Request; req != nil {
		fields = append(fields, req.Method, req.URL)
		id, body = req.ContentID, req.Body
	} else {
		res := part.Response
		fields = append(fields, fmt.Sprint(res.StatusCode), res.Status)
		id, body = res.ContentID, res.Body
	}
	if id != "" {
		fields = append(fields, "id="+id)
	}
	return strings.Join(fields, " "), body
}
