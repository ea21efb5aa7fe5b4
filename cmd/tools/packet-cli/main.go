package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/protocol"
)

const formatRaw = "raw"

func main() {
	var (
		command  = flag.String("cmd", "decode", "Command: encode, decode, types")
		input    = flag.String("in", "-", "Input file (- for stdin)")
		output   = flag.String("out", "-", "Output file (- for stdout)")
		format   = flag.String("format", protocol.FormatHex, "Binary text form: hex, base64, raw")
		version  = flag.Uint("version", 0, "Protocol version (0 = current)")
		compress = flag.Bool("compress", false, "Compress large packets when encoding")
	)
	flag.Parse()

	rules := netelement.CurrentRules
	if *version != 0 {
		var err error
		rules, err = protocol.RulesForVersion(uint32(*version))
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
	}

	switch *command {
	case "types":
		for _, t := range protocol.AllPacketTypes() {
			fmt.Printf("%3d  %s\n", uint8(t), t)
		}
		return
	case "encode", "decode":
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: encode, decode, types")
		os.Exit(1)
	}

	data, err := readInput(*input)
	if err != nil {
		log.Fatalf("❌ Failed to read input: %v", err)
	}

	codec, err := protocol.NewCodec(*compress)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer codec.Close()

	var result []byte
	if *command == "encode" {
		result, err = encode(codec, data, *format, rules)
	} else {
		result, err = decode(codec, data, *format, rules)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}

	if err := writeOutput(*output, result); err != nil {
		log.Fatalf("❌ Failed to write output: %v", err)
	}
}

// encode JSON-конверты в бинарный буфер в заданной текстовой форме
func encode(codec *protocol.Codec, data []byte, format string, rules netelement.CompatibilityRules) ([]byte, error) {
	buf, count, err := codec.EncodeJSON(data, rules)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "📦 %d packets, %d bytes (protocol v%d)\n", count, len(buf), rules.Version)
	if format == formatRaw {
		return buf, nil
	}
	text, err := protocol.FormatBytes(buf, format)
	if err != nil {
		return nil, err
	}
	return []byte(text + "\n"), nil
}

// decode буфер кадров в массив JSON-конвертов
func decode(codec *protocol.Codec, data []byte, format string, rules netelement.CompatibilityRules) ([]byte, error) {
	buf := data
	if format != formatRaw {
		var err error
		buf, err = protocol.ParseBytes(string(data), format)
		if err != nil {
			return nil, err
		}
	}
	packets, err := codec.DecodeJSON(buf, rules)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(packets, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
