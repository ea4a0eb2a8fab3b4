package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/callx-bridge/internal/publisher"
)

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	prefix := flag.String("prefix", "callx", "Topic prefix")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	flag.Parse()

	if *sanitize != "" {
		if err := sanitizeFile(*sanitize); err != nil {
			fmt.Fprintf(os.Stderr, "sanitize error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sanitized:", *sanitize)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := capture(ctx, *broker, *prefix, *outDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// capture writes every push payload seen on <prefix>/push to a new file,
// one document per line, until ctx is done.
func capture(ctx context.Context, broker, prefix, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	filename := filepath.Join(outDir, time.Now().Format("20060102-150405")+".jsonl")
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	fmt.Printf("connecting to %s...\n", broker)
	client, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
		Broker:   broker,
		ClientID: fmt.Sprintf("callx-wiretap-%d", os.Getpid()),
		QoS:      1,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("writing to %s\n", filename)

	var mu sync.Mutex
	var writeErr error
	topic := prefix + "/push"
	if err := client.Subscribe(topic, func(_ string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		line := strings.ReplaceAll(strings.TrimSpace(string(payload)), "\n", " ")
		if _, err := f.WriteString(line + "\n"); err != nil && writeErr == nil {
			writeErr = err
		}
	}); err != nil {
		return err
	}

	fmt.Printf("streaming %s (ctrl+c to stop)...\n", topic)
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return writeErr
}

var (
	ipPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	phonePattern  = regexp.MustCompile(`("(?:callerPhone|phone)"\s*:\s*")[^"]*`)
	avatarPattern = regexp.MustCompile(`("(?:callerAvatar|avatar)"\s*:\s*")[^"]*`)
	namePattern   = regexp.MustCompile(`("(?:callerName|name)"\s*:\s*")[^"]*`)
	tokenPattern  = regexp.MustCompile(`(?i)("(?:token|secret|password)"\s*:\s*")[^"]*`)
)

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Create backup
	bakPath := path + ".bak"
	if err := os.WriteFile(bakPath, data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = sanitizeLine(line)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func sanitizeLine(line string) string {
	line = tokenPattern.ReplaceAllString(line, "${1}REDACTED")

	// Redact IPs (but preserve localhost)
	line = ipPattern.ReplaceAllStringFunc(line, func(ip string) string {
		if ip == "127.0.0.1" {
			return ip
		}
		return "10.0.0.1"
	})

	line = phonePattern.ReplaceAllString(line, "${1}+15550001234")
	line = avatarPattern.ReplaceAllString(line, "${1}https://example.com/avatar.png")
	line = namePattern.ReplaceAllString(line, "${1}Test Caller")
	return line
}
