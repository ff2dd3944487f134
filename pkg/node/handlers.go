package node

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdtn/pkg/buffer"
)

const maxSendBody = 64 << 10

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// InfoHandler writes the node's state as JSON.
func (n *Node) InfoHandler(w http.ResponseWriter, req *http.Request) {
	var info Info
	if err := n.Do(req.Context(), func() { info = n.Info() }); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	data, _ := json.Marshal(info)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (n *Node) Status(w http.ResponseWriter, req *http.Request) {
	var buf bytes.Buffer
	var werr error
	if err := n.Do(req.Context(), func() { werr = n.WriteStatus(&buf) }); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if werr != nil {
		http.Error(w, werr.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

// SendHandler originates a packet: POST /send/{dst}?class=speech with the
// payload as body.
func (n *Node) SendHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dst := req.URL.Path[len("/send/"):]
	if dst == "" {
		http.Error(w, "missing destination", http.StatusBadRequest)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxSendBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload exceeds "+strconv.Itoa(maxSendBody)+" bytes", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	class := buffer.ParseClass(req.URL.Query().Get("class"))

	id, err := n.Send(req.Context(), dst, payload, class)
	switch {
	case errors.Is(err, ErrNoRoute):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case errors.Is(err, buffer.ErrBufferFull):
		http.Error(w, err.Error(), http.StatusInsufficientStorage)
		return
	case err != nil:
		n.log.Warn("send", zap.String("dst", dst), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Packet-Id", strconv.FormatUint(id, 16))
	w.WriteHeader(http.StatusAccepted)
}
