package sink

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/udp-listener/internal/logging"
	"github.com/postalsys/udp-listener/internal/udp"
)

func testDatagram(payload string) udp.Datagram {
	return udp.Datagram{
		Payload:    []byte(payload),
		Source:     &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 5001},
		ReceivedAt: time.Now(),
		Session:    1,
	}
}

func TestLogSink_Unlimited(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(logging.NewLoggerWithWriter("info", "text", &buf), LogConfig{PreviewBytes: 4})

	s.Handle(testDatagram("hello world"))

	output := buf.String()
	for _, want := range []string{
		"datagram received",
		"component=sink",
		"remote_addr=10.0.0.7:5001",
		"bytes=11",
		`size="11 B"`,
		"preview=68656c6c...",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestLogSink_RateLimited(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(logging.NewLoggerWithWriter("info", "text", &buf), LogConfig{Rate: 1, Burst: 2})

	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		s.Handle(testDatagram("x"))
	}

	if got := strings.Count(buf.String(), "datagram received"); got != 2 {
		t.Errorf("logged %d lines, want 2 (burst)", got)
	}
	if got := s.Suppressed(); got != 3 {
		t.Errorf("Suppressed = %d, want 3", got)
	}

	// One token refills after a second.
	clock = clock.Add(time.Second)
	buf.Reset()
	s.Handle(testDatagram("y"))

	if !strings.Contains(buf.String(), "suppressed=3") {
		t.Errorf("expected suppressed count on the next line, got: %s", buf.String())
	}
	if got := s.Suppressed(); got != 0 {
		t.Errorf("Suppressed after report = %d, want 0", got)
	}
}

func TestLogSink_NoSource(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(logging.NewLoggerWithWriter("info", "text", &buf), LogConfig{})

	s.Handle(udp.Datagram{Payload: []byte{1, 2, 3}})

	if strings.Contains(buf.String(), "remote_addr") {
		t.Errorf("remote_addr should be omitted without a source, got: %s", buf.String())
	}
	if strings.Contains(buf.String(), "preview") {
		t.Errorf("preview should be omitted when disabled, got: %s", buf.String())
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		payload []byte
		n       int
		want    string
	}{
		{[]byte{0xde, 0xad, 0xbe, 0xef}, 8, "deadbeef"},
		{[]byte{0xde, 0xad, 0xbe, 0xef}, 2, "dead..."},
		{[]byte{0xde, 0xad}, 0, ""},
		{nil, 4, ""},
	}

	for _, tc := range tests {
		if got := Preview(tc.payload, tc.n); got != tc.want {
			t.Errorf("Preview(%x, %d) = %q, want %q", tc.payload, tc.n, got, tc.want)
		}
	}
}
