// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/odatabatch/internal/config"
	"gitlab.com/accumulatenetwork/odatabatch/internal/logging"
	"gitlab.com/accumulatenetwork/odatabatch/internal/metrics"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

const contentType = "multipart/mixed; boundary=batch_36522ad7"

var payload = strings.Join([]string{
	"--batch_36522ad7",
	"Content-Type: application/http",
	"Content-Transfer-Encoding: binary",
	"",
	"GET Customers('ALFKI') HTTP/1.1",
	"",
	"",
	"--batch_36522ad7",
	"Content-Type: multipart/mixed; boundary=changeset_77162fcd",
	"",
	"--changeset_77162fcd",
	"Content-Type: application/http",
	"Content-Transfer-Encoding: binary",
	"",
	"POST Customers HTTP/1.1",
	"Content-ID: 1",
	"Content-Length: 11",
	"",
	"hello world",
	"--changeset_77162fcd--",
	"",
	"--batch_36522ad7--",
	"",
}, "\r\n")

func init() {
	color.NoColor = true
}

func TestDump(t *testing.T) {
	buf := new(bytes.Buffer)
	err := dump(context.Background(), buf, "batch.txt", strings.NewReader(payload), contentType, batch.Options{
		Logger: logging.NewTestLogger(t),
	})
	require.NoError(t, err)
	require.Equal(t, ""+
		"batch.txt\n"+
		"  operation GET Customers('ALFKI') [0 B]\n"+
		"  changeset changeset_77162fcd\n"+
		"    operation POST Customers id=1 [11 B]\n"+
		"  end changeset_77162fcd\n"+
		"  2 parts, 11 B of bodies\n", buf.String())
}

func TestDumpAll(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(good, []byte(payload), 0600))
	require.NoError(t, os.WriteFile(bad, []byte(strings.Replace(payload, "Content-Type: application/http", "Content-Type: text/plain", 1)), 0600))

	rec := metrics.New()
	buf := new(bytes.Buffer)
	err := dumpAll(context.Background(), buf, []string{good, good}, 2, contentType, batch.Options{Observer: rec}, rec)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(buf.String(), "2 parts"))

	buf.Reset()
	err = dumpAll(context.Background(), buf, []string{good, bad}, 1, contentType, batch.Options{}, rec)
	require.ErrorIs(t, err, errors.MalformedHeader)
	require.Contains(t, err.Error(), bad)
	require.Contains(t, buf.String(), good)

	err = dumpAll(context.Background(), buf, []string{filepath.Join(dir, "missing.txt")}, 1, contentType, batch.Options{}, nil)
	require.ErrorIs(t, err, errors.BadRequest)
}

func TestSaveConfig(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "batch.toml")
	out := filepath.Join(dir, "effective.yaml")
	require.NoError(t, os.WriteFile(in, []byte(`
[reader]
content-type = "multipart/mixed; boundary=batch_36522ad7"
buffer-size = 64
max-parts-per-batch = 10
`), 0600))

	cmdMain.SetArgs([]string{"--config", in, "--buffer-size", "128", "--log-level", "error;scan=debug", "--save-config", out})
	cmdMain.SetOut(io.Discard)
	require.NoError(t, cmdMain.Execute())

	cfg, err := config.Resolve(out, config.Overrides{})
	require.NoError(t, err)
	require.Equal(t, contentType, cfg.Reader.ContentType)
	require.Equal(t, 128, cfg.Reader.BufferSize)
	require.Equal(t, 10, cfg.Reader.MaxPartsPerBatch)
	require.Equal(t, "error;scan=debug", cfg.Logging.Level)
	require.Equal(t, "plain", cfg.Logging.Format)
}

func TestVersion(t *testing.T) {
	require.False(t, isVersionKnown())
	require.Equal(t, "batchdump version unknown", versionString())

	Version = "v1.2.3"
	t.Cleanup(func() { Version = unknownVersion })
	require.True(t, isVersionKnown())
	require.Equal(t, "batchdump v1.2.3", versionString())
}
