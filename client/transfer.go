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
	"fmt"
	"hash/crc32"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gwythaint/device-cloud-go/logger"
	"github.com/gwythaint/device-cloud-go/uploaders"
)

// downloadChunkSize is the read size used while streaming a download into
// its staging file.
const downloadChunkSize = 512

// FileTransfer tracks the progress of one file upload or download. The
// status is unset until the transfer finishes; blocking requesters wait on
// Done.
type FileTransfer struct {
	FileName string
	FileID   string
	Checksum uint32

	// Options carries upload parameters returned in the file.put reply.
	// When they name a storage provider, the upload is routed through the
	// uploaders package instead of the default cloud file endpoint.
	Options map[string]string

	mu     sync.Mutex
	status Status
	done   chan struct{}
}

// NewFileTransfer constructs a transfer tracker for the named file.
func NewFileTransfer(fileName string) *FileTransfer {
	return &FileTransfer{FileName: fileName, done: make(chan struct{})}
}

// Done returns a channel closed when the transfer reaches a final status.
func (t *FileTransfer) Done() <-chan struct{} {
	return t.done
}

// Status returns the final status of the transfer and whether it is set yet.
func (t *FileTransfer) Status() (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return t.status, true
	default:
		return StatusSuccess, false
	}
}

// setStatus records the final status. Only the first call has any effect.
func (t *FileTransfer) setStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
	default:
		t.status = s
		close(t.done)
	}
}

// fileURL builds the cloud file endpoint URL for the given file ID. The
// scheme is https when a CA bundle is configured, plain http otherwise.
func (h *Handler) fileURL(fileID string) string {
	scheme := "http"
	if h.cfg.CABundleFile != "" {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s/file/%s", scheme, h.cfg.CloudHost, fileID)
}

// handleFileDownload performs an accepted cloud-to-device transfer. The body
// is streamed into a staging ".part" file in the download directory and
// renamed into place only when its CRC32 matches the checksum from the
// file.get reply.
func (h *Handler) handleFileDownload(download *FileTransfer) Status {
	logger.Infof("downloading %q", download.FileName)

	downloadDir := filepath.Join(h.cfg.RuntimeDir, "download")
	if fi, err := os.Stat(downloadDir); err != nil || !fi.IsDir() {
		logger.Errorf("cannot find download directory %q, download cancelled", downloadDir)
		download.setStatus(StatusNotFound)
		return StatusNotFound
	}

	status := h.downloadToDir(download, downloadDir)
	download.setStatus(status)

	return status
}

func (h *Handler) downloadToDir(download *FileTransfer, downloadDir string) Status {
	response, err := h.httpClient.Get(h.fileURL(download.FileID))
	if err != nil {
		logger.Errorf("failed to download %q: %v", download.FileName, err)
		return StatusFailure
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		logger.Errorf("failed to download %q (download error)", download.FileName)
		logger.Errorf(".... %s", body)
		return StatusFailure
	}

	tempPath := filepath.Join(downloadDir, stagingFileName())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		logger.Errorf("failed to create staging file %q: %v", tempPath, err)
		return StatusFileOpenFailed
	}

	// the staging file is renamed on success and removed on every other path
	renamed := false
	defer func() {
		tempFile.Close()
		if !renamed {
			os.Remove(tempPath)
		}
	}()

	var checksum uint32
	chunk := make([]byte, downloadChunkSize)
	for {
		n, err := response.Body.Read(chunk)
		if n > 0 {
			checksum = crc32.Update(checksum, crc32.IEEETable, chunk[:n])
			if _, werr := tempFile.Write(chunk[:n]); werr != nil {
				logger.Errorf("failed to write %q: %v", tempPath, werr)
				return StatusIOError
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Errorf("failed to read download body for %q: %v", download.FileName, err)
			return StatusIOError
		}
	}

	if err := tempFile.Close(); err != nil {
		logger.Errorf("failed to close %q: %v", tempPath, err)
		return StatusIOError
	}

	if checksum != download.Checksum {
		logger.Errorf("failed to download %q (checksums do not match)", download.FileName)
		return StatusFailure
	}

	realPath := filepath.Join(downloadDir, download.FileName)
	if err := os.Rename(tempPath, realPath); err != nil {
		logger.Errorf("failed to move %q to %q: %v", tempPath, realPath, err)
		return StatusIOError
	}
	renamed = true

	logger.Infof("successfully downloaded %q", download.FileName)

	return StatusSuccess
}

// handleFileUpload performs an accepted device-to-cloud transfer. When the
// file.put reply named a storage provider the file is handed to the matching
// uploader, otherwise it is posted to the cloud file endpoint.
func (h *Handler) handleFileUpload(upload *FileTransfer) Status {
	logger.Infof("uploading %q", upload.FileName)

	uploadDir := filepath.Join(h.cfg.RuntimeDir, "upload")
	if fi, err := os.Stat(uploadDir); err != nil || !fi.IsDir() {
		logger.Errorf("cannot find upload directory %q, upload cancelled", uploadDir)
		upload.setStatus(StatusNotFound)
		return StatusNotFound
	}

	filePath := filepath.Join(uploadDir, upload.FileName)
	file, err := os.Open(filePath)
	if err != nil {
		logger.Errorf("file %q does not exist, cannot upload", filePath)
		upload.setStatus(StatusNotFound)
		return StatusNotFound
	}
	defer file.Close()

	status := h.uploadFile(upload, file)
	upload.setStatus(status)

	return status
}

func (h *Handler) uploadFile(upload *FileTransfer, file *os.File) Status {
	if upload.Options[uploaders.URLProp] != "" {
		uploader, err := uploaders.NewUploader(upload.Options)
		if err != nil {
			logger.Errorf("failed to upload %q: %v", upload.FileName, err)
			return StatusFailure
		}

		if err := uploader.UploadFile(file, false); err != nil {
			logger.Errorf("failed to upload %q: %v", upload.FileName, err)
			return StatusFailure
		}

		logger.Infof("successfully uploaded %q", upload.FileName)
		return StatusSuccess
	}

	response, err := h.httpClient.Post(h.fileURL(upload.FileID), "application/octet-stream", file)
	if err != nil {
		logger.Errorf("failed to upload %q: %v", upload.FileName, err)
		return StatusFailure
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		logger.Errorf("failed to upload %q", upload.FileName)
		logger.Debugf(".... %s", body)
		return StatusFailure
	}

	logger.Infof("successfully uploaded %q", upload.FileName)

	return StatusSuccess
}

// stagingFileName returns a random ".part" name for an in-flight download.
func stagingFileName() string {
	const digits = "0123456789"

	name := make([]byte, 10, 10+len(".part"))
	for i := range name {
		name[i] = digits[rand.Intn(len(digits))]
	}

	return string(append(name, ".part"...))
}

// fileCRC32 computes the unsigned CRC32 of the file at path, reading it in
// download-sized chunks.
func fileCRC32(path string) (uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var checksum uint32
	chunk := make([]byte, downloadChunkSize)
	for {
		n, err := file.Read(chunk)
		if n > 0 {
			checksum = crc32.Update(checksum, crc32.IEEETable, chunk[:n])
		}
		if err == io.EOF {
			return checksum, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// waitTransfers waits until every transfer reaches a final status or the
// deadline passes. A zero deadline waits forever. A disconnect does not end
// the wait.
func (h *Handler) waitTransfers(transfers []*FileTransfer, deadline time.Time) Status {
	for _, transfer := range transfers {
		if deadline.IsZero() {
			<-transfer.Done()
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return StatusTimedOut
		}

		timer := time.NewTimer(remaining)
		select {
		case <-transfer.Done():
			timer.Stop()
		case <-timer.C:
			return StatusTimedOut
		}
	}

	return StatusSuccess
}
