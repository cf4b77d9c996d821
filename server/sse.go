package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/chronomap/chronomap/agent/engine"
)

const doneData = `{"ok": true}`

func sseHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// writeSSE emits one event frame. Newlines in the payload are escaped so
// the frame stays a single data line; clients unescape on receipt.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	data = strings.ReplaceAll(data, "\n", `\n`)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// streamNarration relays narration fragments as chunk events and closes
// with a done event. Delivery errors surface as an error event since the
// HTTP status is already committed.
func streamNarration(w http.ResponseWriter, r *http.Request, n *engine.Narration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sseHeaders(w)

	for fragment := range n.Fragments() {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		writeSSE(w, flusher, "chunk", fragment)
	}

	if err := n.Wait(); err != nil {
		writeSSE(w, flusher, "error", err.Error())
		return
	}
	writeSSE(w, flusher, "done", doneData)
}
