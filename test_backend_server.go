package main

// Standalone mock transcription backend for manual end-to-end testing.
// It speaks the client's WebSocket protocol: reads the session config,
// acknowledges with session_started, emits canned partial and final results
// as audio chunks arrive, and answers end_session with session_ended.
//
// Run with: go run test_backend_server.go

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type sessionConfig struct {
	LanguageCode         string `json:"language_code"`
	SampleRate           int    `json:"sample_rate"`
	EnablePartialResults bool   `json:"enable_partial_results"`
}

type clientMessage struct {
	Type      string `json:"type"`
	AudioData string `json:"audio_data,omitempty"`
}

type resultPayload struct {
	Transcript string   `json:"transcript"`
	IsPartial  bool     `json:"is_partial"`
	Confidence *float64 `json:"confidence,omitempty"`
}

var phrases = []string{
	"the quick",
	"the quick brown fox",
	"the quick brown fox jumps over the lazy dog",
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var cfg sessionConfig
	if err := conn.ReadJSON(&cfg); err != nil {
		log.Printf("failed to read session config: %v", err)
		return
	}

	sessionID := uuid.New().String()
	log.Printf("session %s started: language=%s rate=%d partials=%v",
		sessionID, cfg.LanguageCode, cfg.SampleRate, cfg.EnablePartialResults)

	if cfg.SampleRate != 16000 {
		conn.WriteJSON(map[string]interface{}{
			"type":          "error",
			"error_message": "unsupported sample rate",
		})
		return
	}

	conn.WriteJSON(map[string]interface{}{
		"type":       "session_started",
		"session_id": sessionID,
	})

	chunks := 0
	totalBytes := 0
	phraseIdx := 0

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("session %s: connection lost: %v", sessionID, err)
			return
		}

		switch msg.Type {
		case "audio_chunk":
			pcm, err := base64.StdEncoding.DecodeString(msg.AudioData)
			if err != nil {
				conn.WriteJSON(map[string]interface{}{
					"type":          "error",
					"error_message": "invalid base64 audio data",
				})
				return
			}
			chunks++
			totalBytes += len(pcm)

			// Emit a partial every 10 chunks to exercise the result path.
			if cfg.EnablePartialResults && chunks%10 == 0 && phraseIdx < len(phrases) {
				sendResult(conn, phrases[phraseIdx], true, nil)
				phraseIdx++
			}

		case "end_session":
			conf := 0.94
			sendResult(conn, phrases[len(phrases)-1], false, &conf)
			conn.WriteJSON(map[string]interface{}{
				"type":       "session_ended",
				"session_id": sessionID,
			})
			log.Printf("session %s ended: %d chunks, %d PCM bytes (%.1fs of audio)",
				sessionID, chunks, totalBytes, float64(totalBytes)/32000.0)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		default:
			log.Printf("session %s: unknown message type %q", sessionID, msg.Type)
		}
	}
}

func sendResult(conn *websocket.Conn, text string, partial bool, confidence *float64) {
	payload, _ := json.Marshal(map[string]interface{}{
		"type": "transcription_result",
		"result": resultPayload{
			Transcript: text,
			IsPartial:  partial,
			Confidence: confidence,
		},
	})
	conn.WriteMessage(websocket.TextMessage, payload)
}

func main() {
	http.HandleFunc("/api/transcription/ws/transcribe", transcribeHandler)

	addr := ":8000"
	log.Printf("mock transcription backend listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
