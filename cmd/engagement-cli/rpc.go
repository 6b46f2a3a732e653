package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var (
	rpcCall    = callRPC
	httpClient = &http.Client{Timeout: 30 * time.Second}
)

func callRPC(method string, params interface{}) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(rpcAuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

// printRPC writes the indented result, or the error with its data, and
// returns the exit code.
func printRPC(stdout, stderr io.Writer, result json.RawMessage, rpcErr *rpcError, err error) int {
	if err != nil {
		return printError(stderr, err.Error())
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "Error: %s (code %d)\n", rpcErr.Message, rpcErr.Code)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(stderr, "%s\n", rpcErr.Data)
		}
		return 1
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Fprintf(stdout, "%s\n", result)
		return 0
	}
	fmt.Fprintln(stdout, pretty.String())
	return 0
}

func runCall(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || len(args) > 2 {
		return printError(stderr, "usage: call METHOD [PARAMS_JSON]")
	}
	var params interface{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return printError(stderr, fmt.Sprintf("params must be JSON: %v", err))
		}
	}
	result, rpcErr, err := rpcCall(args[0], params)
	return printRPC(stdout, stderr, result, rpcErr, err)
}

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return printError(stderr, "usage: escrow get|list|vault ...")
	}
	switch args[0] {
	case "get":
		fs := newFlagSet("escrow get", stderr)
		id := fs.String("id", "", "engagement id")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		if strings.TrimSpace(*id) == "" {
			return printError(stderr, "--id is required")
		}
		result, rpcErr, err := rpcCall("escrow_get", map[string]interface{}{"id": *id})
		return printRPC(stdout, stderr, result, rpcErr, err)
	case "list":
		fs := newFlagSet("escrow list", stderr)
		party := fs.String("party", "", "party address")
		role := fs.String("role", "", "optional role filter")
		limit := fs.Int("limit", 0, "page size")
		offset := fs.Int("offset", 0, "page offset")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		if strings.TrimSpace(*party) == "" {
			return printError(stderr, "--party is required")
		}
		params := map[string]interface{}{"party": *party}
		if *role != "" {
			params["role"] = *role
		}
		if *limit > 0 {
			params["limit"] = *limit
		}
		if *offset > 0 {
			params["offset"] = *offset
		}
		result, rpcErr, err := rpcCall("escrow_list", params)
		return printRPC(stdout, stderr, result, rpcErr, err)
	case "vault":
		fs := newFlagSet("escrow vault", stderr)
		id := fs.String("id", "", "engagement id")
		asset := fs.String("asset", "", "optional asset to report the balance of")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		if strings.TrimSpace(*id) == "" {
			return printError(stderr, "--id is required")
		}
		params := map[string]interface{}{"id": *id}
		if *asset != "" {
			params["asset"] = *asset
		}
		result, rpcErr, err := rpcCall("escrow_vault", params)
		return printRPC(stdout, stderr, result, rpcErr, err)
	default:
		return printError(stderr, fmt.Sprintf("unknown escrow subcommand %q", args[0]))
	}
}
