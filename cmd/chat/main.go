// Loanflow Chat Client
//
// Interactive console client for the loanflow chat endpoint. Keeps a
// single session across turns so the conversation state survives on the
// server side.
//
// Usage:
//
//	go run ./cmd/chat                       # Talks to http://localhost:8080
//	go run ./cmd/chat -server http://host:9090
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	FlowStage string `json:"flow_stage"`
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Loanflow server base URL")
	flag.Parse()

	sessionID := "sess_" + uuid.New().String()[:16]
	client := &http.Client{Timeout: 120 * time.Second}

	fmt.Println("Loanflow chat. Type 'quit' to exit.")
	fmt.Printf("Session: %s\n\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		reply, stage, err := sendTurn(client, *server, sessionID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Printf("assistant [%s]> %s\n\n", stage, reply)
	}
}

func sendTurn(client *http.Client, server, sessionID, message string) (string, string, error) {
	body, err := json.Marshal(chatRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return "", "", err
	}

	resp, err := client.Post(server+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("server returned %s", resp.Status)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Response, out.FlowStage, nil
}
