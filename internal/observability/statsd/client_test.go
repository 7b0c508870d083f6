package statsd

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestSanitizePrefix(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  metrics.app  ": "metrics.app",
		"..foo..":         "foo",
		".":               "",
		"":                "",
	}

	for input, want := range tests {
		if got := sanitizePrefix(input); got != want {
			t.Fatalf("sanitizePrefix(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeMetricName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" analysis/branch ": "analysis_branch",
		"foo..bar":          "foo.bar",
		"multi  space":      "multi__space",
		"bad:name|x":        "bad_name_x",
	}

	for input, want := range tests {
		if got := normalizeMetricName(input); got != want {
			t.Fatalf("normalizeMetricName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{
		"env": "prod",
		//nolint:gocritic // whitespace is part of the test case
		" service ": " mentions ",
	}
	local := map[string]string{
		"result": " success ",
		"":       "ignored",
		"env":    "stage",
	}

	got := formatTags(global, local)
	want := "|#env:stage,result:success,service:mentions"

	if got != want {
		t.Fatalf("formatTags mismatch\n got: %q\nwant: %q", got, want)
	}
	if got := formatTags(nil, nil); got != "" {
		t.Fatalf("formatTags(nil, nil) = %q, want empty string", got)
	}
}

func TestMergeTagStrings(t *testing.T) {
	t.Parallel()

	if got := mergeTagStrings("|#env:prod", "|#branch:news"); got != "|#env:prod,branch:news" {
		t.Fatalf("unexpected merge: %q", got)
	}
	if got := mergeTagStrings("", "|#branch:news"); got != "|#branch:news" {
		t.Fatalf("unexpected merge: %q", got)
	}
	if got := mergeTagStrings("|#env:prod", ""); got != "|#env:prod" {
		t.Fatalf("unexpected merge: %q", got)
	}
}

func listenUDP(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp loopback unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func readPacket(t *testing.T, pc net.PacketConn) string {
	t.Helper()
	buf := make([]byte, 64*1024)
	if err := pc.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	return string(buf[:n])
}

func TestClientBatchesLinesIntoOnePacket(t *testing.T) {
	t.Parallel()

	pc := listenUDP(t)
	client, err := NewClient(Config{
		Enabled:       true,
		Address:       pc.LocalAddr().String(),
		Prefix:        "mentions",
		GlobalTags:    map[string]string{"env": "test"},
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	defer client.Close()

	client.Count("analysis.transition", 1, map[string]string{"result": "success"})
	client.Timing("analysis.duration", 1500*time.Millisecond, nil)
	client.Flush()

	got := readPacket(t, pc)
	want := "mentions.analysis.transition:1|c|#env:test,result:success\nmentions.analysis.duration:1500|ms|#env:test"
	if got != want {
		t.Fatalf("packet mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestClientFlushesWhenPacketFull(t *testing.T) {
	t.Parallel()

	pc := listenUDP(t)
	client, err := NewClient(Config{
		Enabled:       true,
		Address:       pc.LocalAddr().String(),
		MaxPacketSize: 32,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	defer client.Close()

	client.Count("first.metric.name", 1, nil)  // 21 bytes
	client.Count("second.metric.name", 1, nil) // does not fit, first is flushed

	if got := readPacket(t, pc); got != "first.metric.name:1|c" {
		t.Fatalf("unexpected first packet %q", got)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if got := readPacket(t, pc); got != "second.metric.name:1|c" {
		t.Fatalf("expected Close to flush remaining line, got %q", got)
	}
}

func TestClientEnabledAndClose(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{
		enabled:   true,
		conn:      clientConn,
		maxPacket: DefaultMaxPacketSize,
	}

	if !client.Enabled() {
		t.Fatal("expected client.Enabled to report true with active connection")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if client.Enabled() {
		t.Fatal("expected client.Enabled to report false after Close")
	}

	// Verify Close can be called again without error.
	if err := client.Close(); err != nil {
		t.Fatalf("Close (second call) error: %v", err)
	}

	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client should report disabled")
	}
	if err := nilClient.Close(); err != nil {
		t.Fatalf("nil client Close error: %v", err)
	}
	nilClient.Count("ignored", 1, nil)
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{
		Enabled: true,
		Address: "   ",
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	if client.Enabled() {
		t.Fatal("expected client to stay disabled when address is empty")
	}
	client.Count("ignored", 1, nil)
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{
		Enabled: true,
		Address: "bad address",
	})
	if err == nil {
		t.Fatal("expected NewClient to error for invalid address")
	}
	if !strings.Contains(err.Error(), "statsd dial") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemorySink(t *testing.T) {
	t.Parallel()

	var sink MemorySink
	sink.Count("analysis.branch", 1, map[string]string{"outcome": "failed"})
	sink.Count("analysis.branch", 2, map[string]string{"outcome": "succeeded"})
	sink.Timing("analysis.duration", time.Second, nil)

	if got := sink.CountTotal("analysis.branch", nil); got != 3 {
		t.Fatalf("CountTotal = %d, want 3", got)
	}
	if got := sink.CountTotal("analysis.branch", map[string]string{"outcome": "failed"}); got != 1 {
		t.Fatalf("CountTotal(failed) = %d, want 1", got)
	}
	if n := len(sink.Samples()); n != 3 {
		t.Fatalf("expected 3 samples, got %d", n)
	}
}
