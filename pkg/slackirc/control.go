package slackirc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
)

// maxControlFrame bounds a control request so a stray client cannot
// make us allocate arbitrary buffers.
const maxControlFrame = 1 << 20

// ControlRequest is one out-of-band request on the control socket.
type ControlRequest struct {
	Op     string `json:"op"`
	Target string `json:"target,omitempty"`
	Text   string `json:"text,omitempty"`
	Path   string `json:"path,omitempty"`
}

// ControlResponse is the reply to a ControlRequest.
type ControlResponse struct {
	Ok     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
	Config *ControlConfig `json:"config,omitempty"`
}

// ControlConfig is the non-secret configuration subset exposed by the
// get-config operation.
type ControlConfig struct {
	Port            int      `json:"port"`
	AutoJoin        bool     `json:"autojoin"`
	IgnoredChannels []string `json:"ignored_channels"`
}

// StartControl exposes the UNIX control socket. It exists only while
// an IRC client is attached; StopControl removes it.
func (ic *Context) StartControl() error {
	path := ic.Settings.ControlSocket
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	ic.mu.Lock()
	ic.controlLn = ln
	ic.mu.Unlock()
	log.Infof("Control socket listening at %s", path)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go ic.handleControlConn(conn)
		}
	}()
	return nil
}

// StopControl tears the control socket down.
func (ic *Context) StopControl() {
	ic.mu.Lock()
	ln := ic.controlLn
	ic.controlLn = nil
	ic.mu.Unlock()
	if ln == nil {
		return
	}
	ln.Close()
	if err := os.Remove(ic.Settings.ControlSocket); err != nil && !os.IsNotExist(err) {
		log.Warningf("Cannot remove control socket: %v", err)
	}
}

// handleControlConn speaks one length-prefixed JSON request/response
// exchange and closes.
func (ic *Context) handleControlConn(conn net.Conn) {
	defer conn.Close()
	var req ControlRequest
	if err := ReadLengthPrefixedJSON(conn, &req); err != nil {
		log.Warningf("Bad control request: %v", err)
		return
	}
	resp := ic.dispatchControl(&req)
	if err := WriteLengthPrefixedJSON(conn, resp); err != nil {
		log.Warningf("Cannot write control response: %v", err)
	}
}

// dispatchControl runs the request on the bridge loop, so control
// mutations serialise with everything else.
func (ic *Context) dispatchControl(req *ControlRequest) *ControlResponse {
	resp := &ControlResponse{}
	done := make(chan struct{})
	ic.Submit(func() {
		defer close(done)
		switch req.Op {
		case "send-message":
			if req.Target == "" || req.Text == "" {
				resp.Error = "send-message needs target and text"
				return
			}
			IrcPrivMsgHandler(ic, "", "PRIVMSG", []string{req.Target}, req.Text)
			resp.Ok = true
		case "send-file":
			if req.Target == "" || req.Path == "" {
				resp.Error = "send-file needs target and path"
				return
			}
			IrcSendfileHandler(ic, "", "SENDFILE", []string{req.Target, req.Path}, "")
			resp.Ok = true
		case "get-config":
			resp.Ok = true
			resp.Config = &ControlConfig{
				Port:            ic.Settings.Port,
				AutoJoin:        ic.Settings.AutoJoin,
				IgnoredChannels: ic.Settings.IgnoredChannels,
			}
		default:
			resp.Error = fmt.Sprintf("unknown op %q", req.Op)
		}
	})
	select {
	case <-done:
	case <-ic.Done():
		resp.Ok = false
		resp.Error = "bridge is shutting down"
	}
	return resp
}

// ReadLengthPrefixedJSON reads one 4-byte big-endian length-prefixed
// JSON document.
func ReadLengthPrefixedJSON(r io.Reader, v interface{}) error {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return err
	}
	if n > maxControlFrame {
		return fmt.Errorf("control frame of %d bytes is too large", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// WriteLengthPrefixedJSON writes one 4-byte big-endian length-prefixed
// JSON document.
func WriteLengthPrefixedJSON(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(body))); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
