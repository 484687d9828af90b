package linkdriver

import (
	"testing"
	"time"
)

func TestLoopbackDialAcceptSendRecv(t *testing.T) {
	d := NewLoopbackDriver()
	ln, err := d.Listen("peerA")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	pending, err := d.Dial("peerA")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var client Link
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ok, l, failed, perr := pending.Poll(); ok || failed {
			if perr != nil {
				t.Fatalf("dial failed: %v", perr)
			}
			client = l
			break
		}
		time.Sleep(time.Millisecond)
	}
	if client == nil {
		t.Fatalf("dial never resolved")
	}

	var server Link
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if l, _ := ln.Accept(); l != nil {
			server = l
			break
		}
		time.Sleep(time.Millisecond)
	}
	if server == nil {
		t.Fatalf("accept never produced a link")
	}

	msg := []byte("hello peer")
	for {
		res, err := client.SendFrame(msg)
		if err != nil {
			t.Fatalf("SendFrame: %v", err)
		}
		if res == SendOK {
			break
		}
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		res, f, err := server.RecvFrame()
		if err != nil {
			t.Fatalf("RecvFrame: %v", err)
		}
		if res == RecvFrame {
			if string(f) != string(msg) {
				t.Fatalf("got %q want %q", f, msg)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never received the frame")
}
