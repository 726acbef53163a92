package agent

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestMessageFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	first := []byte(`{"seq":1,"type":"request","command":"resume"}`)
	second := []byte(`{"seq":2,"type":"request","command":"unwind"}`)

	if err := writeMessage(&buf, &Message{Content: first}); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := writeMessage(&buf, &Message{Content: second}); err != nil {
		t.Fatalf("write second: %v", err)
	}

	r := bufio.NewReader(&buf)
	msg, err := readMessage(r)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if !bytes.Equal(msg.Content, first) {
		t.Errorf("first content = %s, want %s", msg.Content, first)
	}
	if msg.ContentLength != len(first) {
		t.Errorf("first length = %d, want %d", msg.ContentLength, len(first))
	}
	msg, err = readMessage(r)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if !bytes.Equal(msg.Content, second) {
		t.Errorf("second content = %s, want %s", msg.Content, second)
	}
}

func TestReadMessageRejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "missing content length", input: "X-Other: 1\r\n\r\n{}"},
		{name: "malformed header", input: "Content-Length\r\n\r\n{}"},
		{name: "non-numeric length", input: "Content-Length: ten\r\n\r\n{}"},
		{
			name:  "oversized length",
			input: fmt.Sprintf("Content-Length: %d\r\n\r\n{}", MaxContentLength+1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(tt.input))
			if _, err := readMessage(r); err == nil {
				t.Error("malformed frame accepted")
			}
		})
	}
}

func TestReadMessageIgnoresExtraHeaders(t *testing.T) {
	content := `{"seq":1,"type":"event"}`
	input := fmt.Sprintf("X-Session: abc\r\nContent-Length: %d\r\n\r\n%s", len(content), content)
	msg, err := readMessage(bufio.NewReader(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if string(msg.Content) != content {
		t.Errorf("content = %s, want %s", msg.Content, content)
	}
}

func TestRawTransportOverPipe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewRawTransport(clientConn)
	server := NewRawTransport(serverConn)
	defer client.Close()
	defer server.Close()

	want := []byte(`{"seq":9,"type":"request","command":"symbols"}`)
	errc := make(chan error, 1)
	go func() {
		errc <- client.Send(&Message{Content: want})
	}()

	msg, err := server.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(msg.Content, want) {
		t.Errorf("content = %s, want %s", msg.Content, want)
	}
}
