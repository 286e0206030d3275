// Copyright (c) 2021 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Eclipse Public License 2.0 which is available at
// http://www.eclipse.org/legal/epl-2.0
//
// SPDX-License-Identifier: EPL-2.0

package client

import (
	"hash/crc32"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transferHandler builds a handler whose cloud host points at the given test
// server.
func transferHandler(t *testing.T, server *httptest.Server) *Handler {
	t.Helper()

	cfg := &Config{
		AppKey:     "testdev",
		CloudToken: "secret",
		RuntimeDir: t.TempDir(),
	}

	if server != nil {
		u, err := url.Parse(server.URL)
		require.NoError(t, err)
		cfg.CloudHost = u.Host
	}

	return newHandler(cfg, nil)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

func TestDownloadMissingDirectory(t *testing.T) {
	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer server.Close()

	h := transferHandler(t, server)

	transfer := NewFileTransfer("a.bin")
	transfer.FileID = "F1"

	assert.Equal(t, StatusNotFound, h.handleFileDownload(transfer))
	assert.False(t, requested, "no HTTP request may be made without a download directory")

	status, done := transfer.Status()
	assert.True(t, done)
	assert.Equal(t, StatusNotFound, status)
}

func TestDownloadSuccess(t *testing.T) {
	body := make([]byte, 128)
	rand.Read(body)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file/F1", r.URL.Path)
		w.Write(body)
	}))
	defer server.Close()

	h := transferHandler(t, server)
	downloadDir := filepath.Join(h.cfg.RuntimeDir, "download")
	require.NoError(t, os.MkdirAll(downloadDir, 0755))

	transfer := NewFileTransfer("a.bin")
	transfer.FileID = "F1"
	transfer.Checksum = crc32.ChecksumIEEE(body)

	assert.Equal(t, StatusSuccess, h.handleFileDownload(transfer))

	written, err := os.ReadFile(filepath.Join(downloadDir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, body, written)

	assert.Equal(t, []string{"a.bin"}, listDir(t, downloadDir), "no staging file may remain")
}

func TestDownloadChecksumMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not what was promised"))
	}))
	defer server.Close()

	h := transferHandler(t, server)
	downloadDir := filepath.Join(h.cfg.RuntimeDir, "download")
	require.NoError(t, os.MkdirAll(downloadDir, 0755))

	transfer := NewFileTransfer("a.bin")
	transfer.FileID = "F1"
	transfer.Checksum = 0xDEADBEEF

	assert.Equal(t, StatusFailure, h.handleFileDownload(transfer))
	assert.Empty(t, listDir(t, downloadDir), "neither the file nor a staging file may remain")
}

func TestDownloadServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	h := transferHandler(t, server)
	downloadDir := filepath.Join(h.cfg.RuntimeDir, "download")
	require.NoError(t, os.MkdirAll(downloadDir, 0755))

	transfer := NewFileTransfer("a.bin")
	transfer.FileID = "F1"

	assert.Equal(t, StatusFailure, h.handleFileDownload(transfer))
	assert.Empty(t, listDir(t, downloadDir))
}

func TestUploadSuccess(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/file/F2", r.URL.Path)
		received, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	h := transferHandler(t, server)
	uploadDir := filepath.Join(h.cfg.RuntimeDir, "upload")
	require.NoError(t, os.MkdirAll(uploadDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "b.bin"), []byte("payload"), 0644))

	transfer := NewFileTransfer("b.bin")
	transfer.FileID = "F2"

	assert.Equal(t, StatusSuccess, h.handleFileUpload(transfer))
	assert.Equal(t, []byte("payload"), received)
}

func TestUploadMissingDirectory(t *testing.T) {
	h := transferHandler(t, nil)

	transfer := NewFileTransfer("b.bin")
	assert.Equal(t, StatusNotFound, h.handleFileUpload(transfer))
}

func TestUploadMissingFile(t *testing.T) {
	h := transferHandler(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(h.cfg.RuntimeDir, "upload"), 0755))

	transfer := NewFileTransfer("b.bin")
	assert.Equal(t, StatusNotFound, h.handleFileUpload(transfer))
}

func TestUploadServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	h := transferHandler(t, server)
	uploadDir := filepath.Join(h.cfg.RuntimeDir, "upload")
	require.NoError(t, os.MkdirAll(uploadDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "b.bin"), []byte("payload"), 0644))

	transfer := NewFileTransfer("b.bin")
	transfer.FileID = "F2"

	assert.Equal(t, StatusFailure, h.handleFileUpload(transfer))
}

func TestUploadStorageProvider(t *testing.T) {
	var method string
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		received, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	h := transferHandler(t, nil)
	uploadDir := filepath.Join(h.cfg.RuntimeDir, "upload")
	require.NoError(t, os.MkdirAll(uploadDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "b.bin"), []byte("payload"), 0644))

	transfer := NewFileTransfer("b.bin")
	transfer.Options = map[string]string{
		"uploadUrl":    server.URL + "/store/b.bin",
		"uploadMethod": "PUT",
	}

	assert.Equal(t, StatusSuccess, h.handleFileUpload(transfer))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, []byte("payload"), received)
}

func TestStagingFileName(t *testing.T) {
	name := stagingFileName()

	assert.True(t, strings.HasSuffix(name, ".part"))
	assert.Len(t, name, 10+len(".part"))

	for _, r := range strings.TrimSuffix(name, ".part") {
		assert.True(t, r >= '0' && r <= '9', "staging name must be digits, got %q", name)
	}
}

func TestFileCRC32(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	body := []byte(strings.Repeat("device cloud ", 100))
	require.NoError(t, os.WriteFile(path, body, 0644))

	sum, err := fileCRC32(path)
	require.NoError(t, err)
	assert.Equal(t, crc32.ChecksumIEEE(body), sum)

	_, err = fileCRC32(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestTransferStatusOnce(t *testing.T) {
	transfer := NewFileTransfer("a.bin")

	_, done := transfer.Status()
	assert.False(t, done)

	transfer.setStatus(StatusFailure)
	transfer.setStatus(StatusSuccess) // ignored

	status, done := transfer.Status()
	assert.True(t, done)
	assert.Equal(t, StatusFailure, status)

	select {
	case <-transfer.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel should be closed")
	}
}
