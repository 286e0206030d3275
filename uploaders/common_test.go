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

package uploaders

import (
	"crypto/md5"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func uploadTestFile(t *testing.T, content string) *os.File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open test file: %v", err)
	}
	t.Cleanup(func() { file.Close() })

	return file
}

func TestNewUploaderDispatch(t *testing.T) {
	u, err := NewUploader(map[string]string{URLProp: "http://example.com/up"})
	if err != nil {
		t.Fatalf("default provider should be generic HTTP: %v", err)
	}
	if _, ok := u.(*HTTPUploader); !ok {
		t.Fatalf("expected HTTPUploader, got %T", u)
	}

	if _, err = NewUploader(map[string]string{ProviderProp: "generic", URLProp: "http://example.com/up"}); err != nil {
		t.Errorf("generic provider rejected: %v", err)
	}

	if _, err = NewUploader(map[string]string{ProviderProp: "aws"}); err == nil {
		t.Error("aws provider without credentials should fail")
	}

	if _, err = NewUploader(map[string]string{ProviderProp: "azure"}); err == nil {
		t.Error("azure provider without endpoint should fail")
	}

	if _, err = NewUploader(map[string]string{ProviderProp: "carrier-pigeon"}); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestNewHTTPUploaderValidation(t *testing.T) {
	if _, err := NewHTTPUploader(map[string]string{}); err == nil {
		t.Error("missing URL should fail")
	}

	if _, err := NewHTTPUploader(map[string]string{URLProp: "http://example.com", MethodProp: "DELETE"}); err == nil {
		t.Error("unsupported method should fail")
	}

	u, err := NewHTTPUploader(map[string]string{URLProp: "http://example.com", MethodProp: "post"})
	if err != nil {
		t.Fatalf("lower case method should be accepted: %v", err)
	}
	if u.(*HTTPUploader).method != "POST" {
		t.Errorf("method not normalized: %s", u.(*HTTPUploader).method)
	}
}

func TestHTTPUploadFile(t *testing.T) {
	var method, contentType, custom string
	var body []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		custom = r.Header.Get("X-Custom")
		body, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	options := map[string]string{
		URLProp:                    server.URL,
		HeadersPrefix + "X-Custom": "yes",
	}

	u, err := NewHTTPUploader(options)
	if err != nil {
		t.Fatalf("failed to create uploader: %v", err)
	}

	file := uploadTestFile(t, "some payload")
	if err := u.UploadFile(file, false); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	if method != "PUT" {
		t.Errorf("expected PUT, got %s", method)
	}
	if contentType != "application/x-binary" {
		t.Errorf("unexpected content type %s", contentType)
	}
	if custom != "yes" {
		t.Errorf("custom header not sent")
	}
	if string(body) != "some payload" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestHTTPUploadChecksum(t *testing.T) {
	var checksum string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checksum = r.Header.Get(ContentMD5)
		io.Copy(io.Discard, r.Body)
	}))
	defer server.Close()

	u, err := NewHTTPUploader(map[string]string{URLProp: server.URL})
	if err != nil {
		t.Fatalf("failed to create uploader: %v", err)
	}

	file := uploadTestFile(t, "checksummed payload")
	if err := u.UploadFile(file, true); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	sum := md5.Sum([]byte("checksummed payload"))
	expected := base64.StdEncoding.EncodeToString(sum[:])
	if checksum != expected {
		t.Errorf("expected checksum %s, got %s", expected, checksum)
	}
}

func TestHTTPUploadErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer server.Close()

	u, err := NewHTTPUploader(map[string]string{URLProp: server.URL})
	if err != nil {
		t.Fatalf("failed to create uploader: %v", err)
	}

	file := uploadTestFile(t, "payload")
	if err := u.UploadFile(file, false); err == nil {
		t.Error("upload to a refusing server should fail")
	}
}

func TestExtractDictionary(t *testing.T) {
	options := map[string]string{
		"uploadHeader.A": "1",
		"uploadHeader.B": "2",
		"other":          "3",
	}

	extracted := ExtractDictionary(options, HeadersPrefix)

	if len(extracted) != 2 || extracted["A"] != "1" || extracted["B"] != "2" {
		t.Errorf("unexpected extraction result: %v", extracted)
	}
}

func TestComputeMD5(t *testing.T) {
	file := uploadTestFile(t, "hash me")

	got, err := ComputeMD5(file, true)
	if err != nil {
		t.Fatalf("failed to compute MD5: %v", err)
	}

	sum := md5.Sum([]byte("hash me"))
	expected := base64.StdEncoding.EncodeToString(sum[:])
	if got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}

	// the file offset is rewound for the subsequent upload
	content, err := io.ReadAll(file)
	if err != nil || string(content) != "hash me" {
		t.Errorf("file not rewound after checksum: %q (%v)", content, err)
	}
}
