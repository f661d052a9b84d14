package slackirc

import (
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const (
	maxHTTPAttempts = 3
	retryInterval   = time.Second
)

// FileHandler downloads received attachments into the downloads
// directory and spills overflowing preformatted blocks there.
type FileHandler struct {
	Token              string
	Cookie             string
	DownloadsDirectory string
}

func retryableNetError(err error) bool {
	if err == nil {
		return false
	}
	if nerr, ok := err.(net.Error); ok {
		return nerr.Timeout()
	}
	return false
}

func retryableHTTPError(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode == 500 || resp.StatusCode == 502
}

// Download fetches a received attachment into the downloads directory,
// keeping the original name, and returns a reference to deliver on
// IRC: the local path when the download is possible, the private URL
// otherwise. The transfer itself runs detached.
func (handler *FileHandler) Download(file slack.File) string {
	fileURL := file.URLPrivate
	if handler.DownloadsDirectory == "" || file.IsExternal || handler.Token == "" {
		return fileURL
	}
	localName := file.Name
	if localName == "" {
		localName = file.ID
	}
	localPath := filepath.Join(handler.DownloadsDirectory, filepath.Base(localName))
	go func() {
		out, err := os.Create(localPath)
		if err != nil {
			log.Warningf("Could not create file for download %s: %v", localPath, err)
			return
		}
		defer out.Close()
		request, err := http.NewRequest("GET", fileURL, nil)
		if err != nil {
			log.Warningf("Bad attachment URL %s: %v", fileURL, err)
			return
		}
		request.Header.Add("Authorization", "Bearer "+handler.Token)
		if handler.Cookie != "" {
			request.Header.Add("Cookie", handler.Cookie)
		}
		client := &http.Client{}
		var resp *http.Response
		for attempt := 0; attempt < maxHTTPAttempts; attempt++ {
			resp, err = client.Do(request)
			if err != nil && retryableNetError(err) || retryableHTTPError(resp) {
				time.Sleep(retryInterval * time.Duration(math.Pow(float64(attempt), 2)))
				continue
			}
			break
		}
		if err != nil {
			log.Warningf("Error downloading %s: %v", fileURL, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			log.Debugf("Got %d while downloading %s", resp.StatusCode, fileURL)
			return
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			log.Warningf("Error writing %s: %v", localPath, err)
		}
	}()
	return localPath
}

// SpillPreformatted writes an overflowing preformatted block to a
// stable file named after the room and timestamp, and returns a
// file:// reference for the IRC client.
func (handler *FileHandler) SpillPreformatted(room, ts, text string) (string, bool) {
	if handler.DownloadsDirectory == "" {
		return "", false
	}
	name := fmt.Sprintf("%s-%s.txt", room, strings.ReplaceAll(ts, ".", "-"))
	path := filepath.Join(handler.DownloadsDirectory, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		log.Warningf("Cannot write preformatted text to %s: %v", path, err)
		return "", false
	}
	return "file://" + path, true
}
