// Package main provides the extraction CLI for subprocess-based interop.
//
// The CLI reads raw model output from stdin, runs the assessment extractor
// or verdict parser, and writes the structured result to stdout as JSON.
//
// Usage:
//
//	# Extract the assessment from raw model text
//	cat completion.txt | turnguard-extract assessment
//
//	# Parse a critique verdict
//	cat verdict.txt | turnguard-extract verdict
//
//	# Print version
//	turnguard-extract version
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/relayline/turnguard/engine/assessment"
	"github.com/relayline/turnguard/engine/critique"
)

const (
	cmdAssessment = "assessment"
	cmdVerdict    = "verdict"
	cmdVersion    = "version"
)

// Version information
const Version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case cmdVersion:
		fmt.Printf("turnguard-extract %s\n", Version)
	case cmdAssessment:
		handleAssessment()
	case cmdVerdict:
		handleVerdict()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: turnguard-extract <assessment|verdict|version>")
	fmt.Fprintln(os.Stderr, "reads raw text from stdin, writes JSON to stdout")
}

func readStdin() string {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
		os.Exit(1)
	}
	return string(raw)
}

func writeJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
}

func handleAssessment() {
	ext := assessment.Extract(readStdin())
	writeJSON(map[string]any{
		"visible_response": ext.VisibleResponse,
		"assessment":       ext.Assessment,
		"reasoning":        ext.Reasoning,
		"parse_failed":     ext.ParseFailed,
	})
}

func handleVerdict() {
	verdict, err := critique.ParseVerdict(readStdin())
	if err != nil {
		// Parse failures are part of the contract, not process errors.
		writeJSON(map[string]any{"error": err.Error()})
		os.Exit(0)
	}
	writeJSON(verdict)
}
