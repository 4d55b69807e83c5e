// Command probe finds a running bridge server through its discovery record,
// connects over the persistent socket, and performs the initialize handshake.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"

	"github.com/coderelay/idebridge"
)

func main() {
	dir := filepath.Join(idebridge.ResolveConfigDir(), "ide")
	records, err := idebridge.ReadRecords(dir)
	if err != nil {
		log.Fatalf("failed to read discovery records: %v", err)
	}
	if len(records) == 0 {
		fmt.Printf("no running servers found under %s\n", dir)
		os.Exit(1)
	}

	for _, port := range idebridge.Ports(records) {
		rec := records[port]
		fmt.Printf("found %s (pid %d, transport %s) on port %d\n",
			rec.IDEName, rec.PID, rec.Transport, port)
		probe(port)
	}
}

func probe(port int) {
	url := fmt.Sprintf("ws://127.0.0.1:%d", port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Printf("  dial failed: %v", err)
		return
	}
	defer conn.Close()

	req := idebridge.JSONRPCMessage{
		JSONRPC: idebridge.JSONRPCVersion,
		ID:      "1",
		Method:  idebridge.MethodInitialize,
		Params:  json.RawMessage(`{}`),
	}
	if err := conn.WriteJSON(req); err != nil {
		log.Printf("  initialize failed: %v", err)
		return
	}

	var resp idebridge.JSONRPCMessage
	if err := conn.ReadJSON(&resp); err != nil {
		log.Printf("  read failed: %v", err)
		return
	}

	var result idebridge.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		log.Printf("  bad initialize result: %v", err)
		return
	}
	fmt.Printf("  server %s %s, protocol %s\n",
		result.ServerInfo.Name, result.ServerInfo.Version, result.ProtocolVersion)
}
