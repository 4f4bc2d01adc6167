package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/audio"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/recognizer"
)

// recognizeHandler answers uploads with canned phrases. Clips quieter than
// minPeak are answered with an empty transcript.
type recognizeHandler struct {
	phrases []string
	minPeak int
	delay   time.Duration
	next    atomic.Uint64
}

func (h *recognizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	clip, err := audio.DecodeWAV(data)
	if err != nil {
		http.Error(w, "Invalid WAV: "+err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	peak := audio.Peak(clip.Samples())
	log.Printf("Recognition request: clip_id=%s file=%s bytes=%d duration=%s peak=%d language=%s",
		r.FormValue("clip_id"), header.Filename, len(data), clip.Duration(), peak, r.FormValue("language"))

	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	resp := recognizer.Response{
		ClipID:   r.FormValue("clip_id"),
		Language: r.FormValue("language"),
		Duration: clip.Duration().Seconds(),
	}
	if peak >= h.minPeak && len(h.phrases) > 0 {
		i := h.next.Add(1) - 1
		resp.Text = h.phrases[i%uint64(len(h.phrases))]
		resp.Confidence = 0.95
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to write response: %v", err)
		return
	}

	log.Printf("Recognition response sent: %q", resp.Text)
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	phrases := flag.String("phrases", "ligar o rádio|que horas são|abrir a janela", "Canned transcripts separated by |")
	minPeak := flag.Int("min-peak", 64, "Clips with a lower peak are not recognized")
	delayMs := flag.Int("delay-ms", 200, "Simulated processing time")
	flag.Parse()

	h := &recognizeHandler{
		phrases: strings.Split(*phrases, "|"),
		minPeak: *minPeak,
		delay:   time.Duration(*delayMs) * time.Millisecond,
	}

	mux := http.NewServeMux()
	mux.Handle("/recognize", h)

	log.Printf("Fake recognizer listening on %s", *addr)
	log.Printf("Endpoint: http://localhost%s/recognize (min peak %d)", *addr, *minPeak)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal("Server failed to start: ", err)
	}
}
